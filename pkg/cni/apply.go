package cni

import (
	"context"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/martinsuchenak/podd/internal/log"
)

// manifestResources maps the kinds the manifest builders produce to
// their resource coordinates. Cluster-scoped kinds have Namespaced set
// to false.
var manifestResources = map[string]struct {
	GVR        schema.GroupVersionResource
	Namespaced bool
}{
	"NetworkAttachmentDefinition": {
		GVR:        schema.GroupVersionResource{Group: "k8s.cni.cncf.io", Version: "v1", Resource: "network-attachment-definitions"},
		Namespaced: true,
	},
	"IPPool": {
		GVR: schema.GroupVersionResource{Group: "projectcalico.org", Version: "v3", Resource: "ippools"},
	},
	"BGPConfiguration": {
		GVR: schema.GroupVersionResource{Group: "projectcalico.org", Version: "v3", Resource: "bgpconfigurations"},
	},
	"CiliumNetworkPolicy": {
		GVR:        schema.GroupVersionResource{Group: "cilium.io", Version: "v2", Resource: "ciliumnetworkpolicies"},
		Namespaced: true,
	},
	"CiliumClusterwideNetworkPolicy": {
		GVR: schema.GroupVersionResource{Group: "cilium.io", Version: "v2", Resource: "ciliumclusterwidenetworkpolicies"},
	},
	"NetworkPolicy": {
		GVR:        schema.GroupVersionResource{Group: "networking.k8s.io", Version: "v1", Resource: "networkpolicies"},
		Namespaced: true,
	},
}

// Applier submits manifests to the cluster through the dynamic client.
type Applier struct {
	dyn dynamic.Interface
}

// NewApplier creates an applier over a dynamic cluster client.
func NewApplier(dyn dynamic.Interface) *Applier {
	return &Applier{dyn: dyn}
}

// Apply creates the manifest in the cluster. An already existing
// resource counts as success; created reports whether this call made
// it. Any other API failure is returned as an error.
func (a *Applier) Apply(ctx context.Context, obj *unstructured.Unstructured) (created bool, err error) {
	info, ok := manifestResources[obj.GetKind()]
	if !ok {
		return false, fmt.Errorf("unknown manifest kind %q", obj.GetKind())
	}

	var client dynamic.ResourceInterface = a.dyn.Resource(info.GVR)
	if info.Namespaced {
		namespace := obj.GetNamespace()
		if namespace == "" {
			namespace = metav1.NamespaceDefault
		}
		client = a.dyn.Resource(info.GVR).Namespace(namespace)
	}

	_, err = client.Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) || strings.Contains(err.Error(), "already exists") {
			log.Debug("Manifest already exists", "kind", obj.GetKind(), "name", obj.GetName())
			return false, nil
		}
		return false, fmt.Errorf("applying %s %s: %w", obj.GetKind(), obj.GetName(), err)
	}

	log.Info("Applied manifest", "kind", obj.GetKind(), "name", obj.GetName())
	return true, nil
}
