// Package cni detects which network plugins a cluster runs and derives
// the network capabilities they provide. Detection is a one-time
// snapshot: plugins installed later are only seen by a new Detector.
package cni

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/martinsuchenak/podd/internal/log"
)

// Presence is the outcome of one plugin probe. A failed probe yields
// Absent so detection degrades toward the generic path instead of
// erroring.
type Presence bool

const (
	Present Presence = true
	Absent  Presence = false
)

// PluginSet records which known plugins were found. Plugins can
// coexist; the booleans are independent.
type PluginSet struct {
	Calico  bool `json:"calico"`
	Cilium  bool `json:"cilium"`
	Flannel bool `json:"flannel"`
	Weave   bool `json:"weave"`
	Multus  bool `json:"multus"`
	Antrea  bool `json:"antrea"`
	SRIOV   bool `json:"sriov"`
}

// pluginProbes maps each plugin to the label selectors that identify
// its workloads. A plugin is present when any selector matches at
// least one pod anywhere in the cluster.
var pluginProbes = []struct {
	name      string
	selectors []string
	assign    func(*PluginSet, bool)
}{
	{"calico", []string{"k8s-app=calico-node", "projectcalico.org/ds-ready=true"},
		func(s *PluginSet, v bool) { s.Calico = v }},
	{"cilium", []string{"k8s-app=cilium", "app.kubernetes.io/name=cilium-agent"},
		func(s *PluginSet, v bool) { s.Cilium = v }},
	{"flannel", []string{"app=flannel", "k8s-app=flannel"},
		func(s *PluginSet, v bool) { s.Flannel = v }},
	{"weave", []string{"name=weave-net", "app=weave-net"},
		func(s *PluginSet, v bool) { s.Weave = v }},
	{"multus", []string{"app=multus", "name=multus"},
		func(s *PluginSet, v bool) { s.Multus = v }},
	{"antrea", []string{"app=antrea", "component=antrea-agent"},
		func(s *PluginSet, v bool) { s.Antrea = v }},
	{"sriov", []string{"app=sriov-device-plugin", "app=sriov-cni"},
		func(s *PluginSet, v bool) { s.SRIOV = v }},
}

// Detector probes a cluster for installed network plugins.
type Detector struct {
	clientset kubernetes.Interface
}

// NewDetector creates a detector over a typed cluster client.
func NewDetector(clientset kubernetes.Interface) *Detector {
	return &Detector{clientset: clientset}
}

// Detect runs every plugin probe and returns the resulting set. Probe
// failures are logged and counted as Absent.
func (d *Detector) Detect(ctx context.Context) PluginSet {
	var set PluginSet
	for _, probe := range pluginProbes {
		found := Absent
		for _, selector := range probe.selectors {
			if d.probe(ctx, probe.name, selector) == Present {
				found = Present
				break
			}
		}
		probe.assign(&set, bool(found))
		if found == Present {
			log.Debug("Detected network plugin", "plugin", probe.name)
		}
	}
	return set
}

func (d *Detector) probe(ctx context.Context, plugin, selector string) Presence {
	pods, err := d.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
		Limit:         1,
	})
	if err != nil {
		log.Debug("Plugin probe failed, treating as absent", "plugin", plugin, "selector", selector, "error", err.Error())
		return Absent
	}
	if len(pods.Items) > 0 {
		return Present
	}
	return Absent
}
