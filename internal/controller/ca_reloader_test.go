package controller

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/scriptguard/scriptguard/internal/constants"
)

func TestCABundleStore_SetReportsChange(t *testing.T) {
	store := NewCABundleStore()
	assert.True(t, store.set([]byte("bundle-1")))
	assert.False(t, store.set([]byte("bundle-1")))
	assert.True(t, store.set([]byte("bundle-2")))
	assert.Equal(t, []byte("bundle-2"), store.Get())
}

func TestCABundleReloader_UnchangedBundleIsANoOp(t *testing.T) {
	cl := fake.NewClientBuilder().WithScheme(clientgoscheme.Scheme).Build()
	store := NewCABundleStore()
	store.set([]byte("bundle-1"))
	r := &CABundleReloader{Client: cl, Log: logr.Discard(), Store: store}

	require.NoError(t, r.OnChange([]byte("bundle-1")))
}

func TestCABundleReloader_StampsManagedConfigurations(t *testing.T) {
	managed := &admissionregistrationv1.ValidatingWebhookConfiguration{
		ObjectMeta: metav1.ObjectMeta{
			Name:   "deny-bad",
			Labels: map[string]string{constants.ValidatingRuleOwnershipLabelKey: "deny-bad"},
		},
	}
	unmanaged := &admissionregistrationv1.ValidatingWebhookConfiguration{
		ObjectMeta: metav1.ObjectMeta{Name: "someone-elses"},
	}
	managedMutating := &admissionregistrationv1.MutatingWebhookConfiguration{
		ObjectMeta: metav1.ObjectMeta{
			Name:   "default-tier",
			Labels: map[string]string{constants.MutatingRuleOwnershipLabelKey: "default-tier"},
		},
	}

	cl := fake.NewClientBuilder().WithScheme(clientgoscheme.Scheme).
		WithObjects(managed, unmanaged, managedMutating).Build()
	store := NewCABundleStore()
	store.set([]byte("bundle-1"))
	r := &CABundleReloader{Client: cl, Log: logr.Discard(), Store: store}

	require.NoError(t, r.OnChange([]byte("bundle-2")))
	assert.Equal(t, []byte("bundle-2"), store.Get())

	var got admissionregistrationv1.ValidatingWebhookConfiguration
	require.NoError(t, cl.Get(context.Background(), client.ObjectKey{Name: "deny-bad"}, &got))
	assert.Equal(t, "true", got.Annotations[constants.ShouldUpdateAnnotation])

	var gotMutating admissionregistrationv1.MutatingWebhookConfiguration
	require.NoError(t, cl.Get(context.Background(), client.ObjectKey{Name: "default-tier"}, &gotMutating))
	assert.Equal(t, "true", gotMutating.Annotations[constants.ShouldUpdateAnnotation])

	var untouched admissionregistrationv1.ValidatingWebhookConfiguration
	require.NoError(t, cl.Get(context.Background(), client.ObjectKey{Name: "someone-elses"}, &untouched))
	assert.NotContains(t, untouched.Annotations, constants.ShouldUpdateAnnotation)
}
