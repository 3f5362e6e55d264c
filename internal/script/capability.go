package script

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"

	"github.com/scriptguard/scriptguard/internal/k8s"
	"github.com/scriptguard/scriptguard/internal/naming"
)

// minTokenTTL is the floor applied to a rule's requested service-account
// token lifetime.
const minTokenTTL = 600 * time.Second

// apiServerAudience is the audience projected tokens are scoped to: the
// in-cluster API server itself, so the token is useless anywhere else.
const apiServerAudience = "https://kubernetes.default.svc.cluster.local"

// ServiceAccountRef identifies the service account a rule asks its
// sandboxed helpers to act as.
type ServiceAccountRef struct {
	Namespace   string
	Name        string
	ExpectedTTL time.Duration
}

// capabilityClient implements Capability by calling through a dynamic
// client built from a cloned in-cluster rest.Config whose bearer token has
// been replaced with a short-lived, audience-scoped ServiceAccount token.
type capabilityClient struct {
	dynamicClient dynamic.Interface
	discovery     discoveryResolver
}

// discoveryResolver resolves a (group, version, kind) to its plural
// resource name when the caller did not supply one explicitly. It is the
// subset of internal/discovery.Resolver this package needs.
type discoveryResolver interface {
	ResourceForKind(group, version, kind string) (string, error)
}

// NewCapability projects a bearer token for ref via the TokenRequest API
// and returns a Capability bound to that identity.
func NewCapability(ctx context.Context, client *k8s.Client, ref ServiceAccountRef, resolver discoveryResolver) (Capability, error) {
	ttl := ref.ExpectedTTL
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}

	tr, err := client.CreateTokenRequest(ctx, ref.Namespace, ref.Name, []string{apiServerAudience}, int64(ttl.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("provision capability-scoped token for %s/%s: %w", ref.Namespace, ref.Name, err)
	}

	scopedConfig := rest.CopyConfig(client.RESTConfig)
	scopedConfig.BearerToken = tr.Status.Token
	scopedConfig.BearerTokenFile = ""
	scopedConfig.Username = ""
	scopedConfig.Password = ""
	scopedConfig.AuthProvider = nil
	scopedConfig.ExecProvider = nil

	dyn, err := dynamic.NewForConfig(scopedConfig)
	if err != nil {
		return nil, fmt.Errorf("build capability-scoped dynamic client: %w", err)
	}

	return &capabilityClient{dynamicClient: dyn, discovery: resolver}, nil
}

func (c *capabilityClient) resourceFor(group, version, kind, plural string) (schema.GroupVersionResource, error) {
	if plural != "" {
		return schema.GroupVersionResource{Group: group, Version: version, Resource: plural}, nil
	}
	if c.discovery != nil {
		resource, err := c.discovery.ResourceForKind(group, version, kind)
		if err == nil {
			return schema.GroupVersionResource{Group: group, Version: version, Resource: resource}, nil
		}
	}
	return schema.GroupVersionResource{Group: group, Version: version, Resource: naming.Pluralize(kind)}, nil
}

func (c *capabilityClient) KubeGet(ctx context.Context, args KubeGetArgs) (map[string]interface{}, error) {
	gvr, err := c.resourceFor(args.Group, args.Version, args.Kind, args.Plural)
	if err != nil {
		return nil, err
	}
	var ri dynamic.ResourceInterface = c.dynamicClient.Resource(gvr)
	if args.Namespace != "" {
		ri = c.dynamicClient.Resource(gvr).Namespace(args.Namespace)
	}
	obj, err := ri.Get(ctx, args.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kubeGet %s/%s %s: %w", args.Group, gvr.Resource, args.Name, err)
	}
	return obj.Object, nil
}

func (c *capabilityClient) KubeList(ctx context.Context, args KubeListArgs) ([]interface{}, error) {
	gvr, err := c.resourceFor(args.Group, args.Version, args.Kind, args.Plural)
	if err != nil {
		return nil, err
	}
	var ri dynamic.ResourceInterface = c.dynamicClient.Resource(gvr)
	if args.Namespace != "" {
		ri = c.dynamicClient.Resource(gvr).Namespace(args.Namespace)
	}

	opts := metav1.ListOptions{}
	if args.ListParams != nil {
		opts.LabelSelector = args.ListParams.LabelSelector
		opts.FieldSelector = args.ListParams.FieldSelector
	}

	list, err := ri.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("kubeList %s/%s: %w", args.Group, gvr.Resource, err)
	}

	items := make([]interface{}, 0, len(list.Items))
	for i := range list.Items {
		items = append(items, list.Items[i].Object)
	}
	return items, nil
}

