package cni

import (
	"context"
	"errors"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func podWithLabels(name, namespace string, labels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
	}
}

func TestDetectFindsPluginsByLabel(t *testing.T) {
	clientset := fake.NewClientset(
		podWithLabels("calico-node-x1", "kube-system", map[string]string{"k8s-app": "calico-node"}),
		podWithLabels("multus-abc", "kube-system", map[string]string{"app": "multus"}),
		podWithLabels("coredns-1", "kube-system", map[string]string{"k8s-app": "kube-dns"}),
	)

	set := NewDetector(clientset).Detect(context.Background())

	if !set.Calico {
		t.Error("calico should be present")
	}
	if !set.Multus {
		t.Error("multus should be present")
	}
	if set.Cilium || set.Flannel || set.Weave || set.Antrea || set.SRIOV {
		t.Errorf("unexpected plugins detected: %+v", set)
	}
}

func TestDetectSecondarySelector(t *testing.T) {
	// Cilium matched only by its helm-chart label, not the legacy one.
	clientset := fake.NewClientset(
		podWithLabels("cilium-z9", "kube-system", map[string]string{"app.kubernetes.io/name": "cilium-agent"}),
	)

	set := NewDetector(clientset).Detect(context.Background())
	if !set.Cilium {
		t.Error("cilium should be present via the secondary selector")
	}
}

func TestDetectEmptyCluster(t *testing.T) {
	set := NewDetector(fake.NewClientset()).Detect(context.Background())
	if set != (PluginSet{}) {
		t.Errorf("empty cluster should detect nothing, got %+v", set)
	}
}

// Probe failures degrade to Absent so configuration falls back to the
// generic path instead of erroring.
func TestDetectProbeFailureIsAbsent(t *testing.T) {
	clientset := fake.NewClientset()
	clientset.PrependReactor("list", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("rbac: pods is forbidden")
	})

	set := NewDetector(clientset).Detect(context.Background())
	if set != (PluginSet{}) {
		t.Errorf("failed probes should yield an empty set, got %+v", set)
	}
}
