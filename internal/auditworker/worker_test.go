package auditworker

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/k8s"
)

func newTestK8sClient(objs ...runtime.Object) *k8s.Client {
	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)
	return &k8s.Client{Dynamic: dynamicfake.NewSimpleDynamicClient(scheme, objs...)}
}

func strPtr(s string) *string { return &s }

func TestRun_NoViolationWhenScriptYieldsNothing(t *testing.T) {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "cm1", Namespace: "default"},
		Data:       map[string]string{"allowPrivileged": "false"},
	}
	k8sClient := newTestK8sClient(cm)

	cfg := Config{
		PolicyName: "no-host-network",
		Resources: []rulesv1.ResourceSelector{
			{Kind: "ConfigMap", Version: "v1", Namespace: strPtr("default"), Name: strPtr("cm1")},
		},
		Code: `({ output: null })`,
	}

	result, err := Run(context.Background(), k8sClient, nil, nil, cfg, logr.Discard())
	require.NoError(t, err)
	assert.False(t, result.Violation)
}

func TestRun_ViolationFoundYieldsOutput(t *testing.T) {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "cm1", Namespace: "default"},
		Data:       map[string]string{"flag": "bad"},
	}
	k8sClient := newTestK8sClient(cm)

	cfg := Config{
		PolicyName: "no-host-network",
		Resources: []rulesv1.ResourceSelector{
			{Kind: "ConfigMap", Version: "v1", Namespace: strPtr("default"), Name: strPtr("cm1")},
		},
		Code: `
			var cm = resources[0];
			(cm.data.flag === "bad") ? { output: { cm1: "flag is bad" } } : { output: null };
		`,
	}

	result, err := Run(context.Background(), k8sClient, nil, nil, cfg, logr.Discard())
	require.NoError(t, err)
	assert.True(t, result.Violation)
	assert.Equal(t, "flag is bad", result.Output["cm1"])
}

func TestRun_ListSelectorFetchesCollection(t *testing.T) {
	cm1 := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "cm1", Namespace: "default"}}
	cm2 := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "cm2", Namespace: "default"}}
	k8sClient := newTestK8sClient(cm1, cm2)

	cfg := Config{
		PolicyName: "count-configmaps",
		Resources: []rulesv1.ResourceSelector{
			{Kind: "ConfigMap", Version: "v1", Namespace: strPtr("default")},
		},
		Code: `({ output: resources[0].length === 2 ? null : { count: "unexpected" } })`,
	}

	result, err := Run(context.Background(), k8sClient, nil, nil, cfg, logr.Discard())
	require.NoError(t, err)
	assert.False(t, result.Violation)
}

func TestRun_MissingNamedResourceYieldsNull(t *testing.T) {
	k8sClient := newTestK8sClient()

	cfg := Config{
		PolicyName: "missing-resource",
		Resources: []rulesv1.ResourceSelector{
			{Kind: "ConfigMap", Version: "v1", Namespace: strPtr("default"), Name: strPtr("absent")},
		},
		Code: `({ output: resources[0] === null ? { missing: "absent" } : null })`,
	}

	result, err := Run(context.Background(), k8sClient, nil, nil, cfg, logr.Discard())
	require.NoError(t, err)
	assert.True(t, result.Violation)
	assert.Equal(t, "absent", result.Output["missing"])
}
