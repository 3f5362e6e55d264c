package k8s

import (
	"context"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic/fake"
)

func newTestObj(gvk schema.GroupVersionKind, namespace, name string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(gvk)
	u.SetNamespace(namespace)
	u.SetName(name)
	return u
}

func TestGetOptReturnsNilNotErrorWhenMissing(t *testing.T) {
	scheme := runtime.NewScheme()
	gvr := GVR{Group: "", Version: "v1", Resource: "pods"}
	gvrToListKind := map[schema.GroupVersionResource]string{gvr.schemaGVR(): "PodList"}
	dyn := fake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind)

	c := &Client{Dynamic: dyn}
	obj, err := c.GetOpt(context.Background(), gvr, "default", "missing")
	if err != nil {
		t.Fatalf("GetOpt returned error for absent object: %v", err)
	}
	if obj != nil {
		t.Fatalf("expected nil object, got %v", obj)
	}
}

func TestGetOptReturnsObject(t *testing.T) {
	scheme := runtime.NewScheme()
	gvr := GVR{Group: "", Version: "v1", Resource: "pods"}
	gvrToListKind := map[schema.GroupVersionResource]string{gvr.schemaGVR(): "PodList"}
	obj := newTestObj(schema.GroupVersionKind{Version: "v1", Kind: "Pod"}, "default", "web-1")
	dyn := fake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind, obj)

	c := &Client{Dynamic: dyn}
	got, err := c.GetOpt(context.Background(), gvr, "default", "web-1")
	if err != nil {
		t.Fatalf("GetOpt: %v", err)
	}
	if got == nil || got.GetName() != "web-1" {
		t.Fatalf("expected web-1, got %v", got)
	}
}

func TestListAppliesLabelSelector(t *testing.T) {
	scheme := runtime.NewScheme()
	gvr := GVR{Group: "", Version: "v1", Resource: "pods"}
	gvrToListKind := map[schema.GroupVersionResource]string{gvr.schemaGVR(): "PodList"}

	kept := newTestObj(schema.GroupVersionKind{Version: "v1", Kind: "Pod"}, "default", "kept")
	kept.SetLabels(map[string]string{"env": "prod"})
	dropped := newTestObj(schema.GroupVersionKind{Version: "v1", Kind: "Pod"}, "default", "dropped")
	dropped.SetLabels(map[string]string{"env": "dev"})

	dyn := fake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind, kept, dropped)
	c := &Client{Dynamic: dyn}

	list, err := c.List(context.Background(), gvr, "default", "env=prod", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].GetName() != "kept" {
		t.Fatalf("expected only 'kept', got %v", list.Items)
	}
}
