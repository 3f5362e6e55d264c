package controller

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/scriptguard/scriptguard/internal/constants"
)

// CABundleStore holds the single active CA bundle under a sync.RWMutex: many
// readers (the rule reconcilers, building a webhook body per reconcile) and
// one writer (the reloader, on file change).
type CABundleStore struct {
	mu     sync.RWMutex
	bundle []byte
}

// NewCABundleStore creates an empty store; Get returns nil until the
// reloader's first OnChange call (made through the watcher's LoadInitial)
// populates it.
func NewCABundleStore() *CABundleStore {
	return &CABundleStore{}
}

// Get returns the current bundle. Safe for concurrent use with set.
func (s *CABundleStore) Get() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bundle
}

// set replaces the stored bundle and reports whether it actually changed
// (equal content is a no-op).
func (s *CABundleStore) set(contents []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bytes.Equal(s.bundle, contents) {
		return false
	}
	s.bundle = append([]byte(nil), contents...)
	return true
}

// CABundleReloader reacts to every change of the watched PEM file:
// it swaps the shared CABundleStore and stamps every managed webhook
// configuration (across both rule kinds) with an annotation the owning
// rule reconciler watches for, keeping the authoritative recompute in the
// owning reconciler.
type CABundleReloader struct {
	Client client.Client
	Log    logr.Logger
	Store  *CABundleStore
}

// OnChange is the watch.OnChange callback: it updates the shared store and,
// if the bundle actually changed, re-stamps every managed webhook
// configuration so the rule reconcilers pick up the new value.
func (r *CABundleReloader) OnChange(contents []byte) error {
	if !r.Store.set(contents) {
		return nil
	}
	r.Log.Info("CA bundle changed, re-stamping managed webhook configurations")
	return r.restampManaged(context.Background())
}

func (r *CABundleReloader) restampManaged(ctx context.Context) error {
	if err := r.restampValidating(ctx); err != nil {
		return err
	}
	return r.restampMutating(ctx)
}

func hasLabelSelector(key string) (labels.Selector, error) {
	req, err := labels.NewRequirement(key, selection.Exists, nil)
	if err != nil {
		return nil, fmt.Errorf("build label requirement for %s: %w", key, err)
	}
	return labels.NewSelector().Add(*req), nil
}

func (r *CABundleReloader) restampValidating(ctx context.Context) error {
	selector, err := hasLabelSelector(constants.ValidatingRuleOwnershipLabelKey)
	if err != nil {
		return err
	}
	var list admissionregistrationv1.ValidatingWebhookConfigurationList
	if err := r.Client.List(ctx, &list, client.MatchingLabelsSelector{Selector: selector}); err != nil {
		return fmt.Errorf("list managed validating webhook configurations: %w", err)
	}
	for i := range list.Items {
		obj := &list.Items[i]
		if err := r.stampShouldUpdate(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

func (r *CABundleReloader) restampMutating(ctx context.Context) error {
	selector, err := hasLabelSelector(constants.MutatingRuleOwnershipLabelKey)
	if err != nil {
		return err
	}
	var list admissionregistrationv1.MutatingWebhookConfigurationList
	if err := r.Client.List(ctx, &list, client.MatchingLabelsSelector{Selector: selector}); err != nil {
		return fmt.Errorf("list managed mutating webhook configurations: %w", err)
	}
	for i := range list.Items {
		obj := &list.Items[i]
		if err := r.stampShouldUpdate(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

// stampShouldUpdate patch-merges the should-update annotation onto obj.
// Patching, rather than rewriting the CABundle field directly, keeps the
// authoritative recompute inside the owning rule reconciler (which also
// holds the field manager for that object) and avoids two writers racing
// on the same webhook entry.
func (r *CABundleReloader) stampShouldUpdate(ctx context.Context, obj client.Object) error {
	return retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		original := obj.DeepCopyObject().(client.Object) //nolint:forcetypeassert // DeepCopyObject on a client.Object always yields one
		annotations := obj.GetAnnotations()
		if annotations == nil {
			annotations = map[string]string{}
		}
		annotations[constants.ShouldUpdateAnnotation] = "true"
		obj.SetAnnotations(annotations)
		return r.Client.Patch(ctx, obj, client.MergeFrom(original))
	})
}
