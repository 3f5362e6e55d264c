// Package k8s wraps the typed and dynamic Kubernetes clients scriptguard
// needs: controller-runtime's client.Client for the managed objects, plus a
// dynamic.Interface and discovery client for the arbitrary kinds rule and
// policy authors name in their specs.
package k8s

import (
	"context"
	"fmt"

	authenticationv1 "k8s.io/api/authentication/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Client bundles the typed manager client with the dynamic and discovery
// clients needed to serve ResourceSelector-shaped lookups against kinds the
// scheme has no Go type for.
type Client struct {
	Typed      client.Client
	Dynamic    dynamic.Interface
	Discovery  discovery.DiscoveryInterface
	Clientset  kubernetes.Interface
	RESTConfig *rest.Config
}

// NewFromConfig builds every flavor of client from one rest.Config so they
// all share transport and auth material.
func NewFromConfig(cfg *rest.Config, typed client.Client) (*Client, error) {
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot create dynamic client: %w", err)
	}
	disc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot create discovery client: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot create clientset: %w", err)
	}
	return &Client{
		Typed:      typed,
		Dynamic:    dyn,
		Discovery:  disc,
		Clientset:  clientset,
		RESTConfig: cfg,
	}, nil
}

// GVR describes a dynamic resource the way a ResourceSelector does, already
// resolved to its plural.
type GVR struct {
	Group    string
	Version  string
	Resource string
}

func (g GVR) schemaGVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: g.Group, Version: g.Version, Resource: g.Resource}
}

// GetOpt fetches a single namespaced-or-cluster-scoped object, distinguishing
// "absent" from a transport error.
func (c *Client) GetOpt(ctx context.Context, gvr GVR, namespace, name string) (*unstructured.Unstructured, error) {
	var ri dynamic.ResourceInterface = c.Dynamic.Resource(gvr.schemaGVR())
	if namespace != "" {
		ri = c.Dynamic.Resource(gvr.schemaGVR()).Namespace(namespace)
	}
	obj, err := ri.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s %s: %w", gvr.Group, gvr.Resource, name, err)
	}
	return obj, nil
}

// List lists objects of a dynamic kind, optionally scoped to a namespace and
// filtered with label/field selectors.
func (c *Client) List(ctx context.Context, gvr GVR, namespace, labelSelector, fieldSelector string) (*unstructured.UnstructuredList, error) {
	var ri dynamic.ResourceInterface = c.Dynamic.Resource(gvr.schemaGVR())
	if namespace != "" {
		ri = c.Dynamic.Resource(gvr.schemaGVR()).Namespace(namespace)
	}
	list, err := ri.List(ctx, metav1.ListOptions{LabelSelector: labelSelector, FieldSelector: fieldSelector})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", gvr.Group, gvr.Resource, err)
	}
	return list, nil
}

// PatchApply performs a server-side apply patch with the given field manager.
func (c *Client) PatchApply(ctx context.Context, obj client.Object, fieldManager string) error {
	if err := c.Typed.Patch(ctx, obj, client.Apply, client.ForceOwnership, client.FieldOwner(fieldManager)); err != nil {
		return fmt.Errorf("server-side apply failed for %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
	}
	return nil
}

// CreateTokenRequest projects a short-lived bearer token for a service
// account, used by the script host's capability-scoped client provisioning
// (see script.NewCapability).
func (c *Client) CreateTokenRequest(ctx context.Context, namespace, name string, audiences []string, expirationSeconds int64) (*authenticationv1.TokenRequest, error) {
	tr := &authenticationv1.TokenRequest{
		Spec: authenticationv1.TokenRequestSpec{
			Audiences:         audiences,
			ExpirationSeconds: &expirationSeconds,
		},
	}
	result, err := c.Clientset.CoreV1().ServiceAccounts(namespace).CreateToken(ctx, name, tr, metav1.CreateOptions{})
	if apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("%w: service account %s/%s not found", ErrServiceAccountNotFound, namespace, name)
	}
	if err != nil {
		return nil, fmt.Errorf("create token request for %s/%s: %w", namespace, name, err)
	}
	if result.Status.Token == "" {
		return nil, fmt.Errorf("%w: empty token returned for %s/%s", ErrRequestServiceAccountToken, namespace, name)
	}
	return result, nil
}
