package admission

import (
	"context"
	"testing"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
)

func objectMeta(name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{Name: name}
}

func newTestScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, rulesv1.AddToScheme(scheme))
	return scheme
}

func TestEvaluator_Evaluate_DenyOnMissingLabel(t *testing.T) {
	rule := &rulesv1.ValidatingRule{
		ObjectMeta: objectMeta("deny-bad"),
		Spec: rulesv1.RuleSpec{
			Code: `
(function() {
  if (!request.object.metadata.labels || !request.object.metadata.labels.team) {
    return {denyReason: "missing team label"};
  }
  return {};
})()`,
		},
	}

	fakeClient := fake.NewClientBuilder().WithScheme(newTestScheme(t)).WithObjects(rule).Build()
	eval := &Evaluator{Client: fakeClient, Logger: logr.Discard()}

	req := &admissionv1.AdmissionRequest{
		UID:    types.UID("abc-123"),
		Object: runtime.RawExtension{Raw: []byte(`{"metadata":{"labels":{}}}`)},
	}

	resp, err := eval.Evaluate(context.Background(), rulesv1.ValidatingKind, "deny-bad", req)
	require.NoError(t, err)
	assert.Equal(t, types.UID("abc-123"), resp.UID)
	assert.False(t, resp.Allowed)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "missing team label", resp.Result.Message)
}

func TestEvaluator_Evaluate_AllowUntouched(t *testing.T) {
	rule := &rulesv1.ValidatingRule{
		ObjectMeta: objectMeta("allow-all"),
		Spec:       rulesv1.RuleSpec{Code: `({})`},
	}

	fakeClient := fake.NewClientBuilder().WithScheme(newTestScheme(t)).WithObjects(rule).Build()
	eval := &Evaluator{Client: fakeClient, Logger: logr.Discard()}

	req := &admissionv1.AdmissionRequest{
		UID:    types.UID("xyz"),
		Object: runtime.RawExtension{Raw: []byte(`{"metadata":{}}`)},
	}

	resp, err := eval.Evaluate(context.Background(), rulesv1.ValidatingKind, "allow-all", req)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Nil(t, resp.Patch)
}

func TestEvaluator_Evaluate_MutateAddsDefault(t *testing.T) {
	rule := &rulesv1.MutatingRule{
		ObjectMeta: objectMeta("default-tier"),
		Spec: rulesv1.RuleSpec{
			Code: `
(function() {
  if (!request.object.metadata.labels || !request.object.metadata.labels.tier) {
    return {patch: [{op: "add", path: "/metadata/labels/tier", value: "std"}]};
  }
  return {};
})()`,
		},
	}

	fakeClient := fake.NewClientBuilder().WithScheme(newTestScheme(t)).WithObjects(rule).Build()
	eval := &Evaluator{Client: fakeClient, Logger: logr.Discard()}

	req := &admissionv1.AdmissionRequest{
		UID:    types.UID("m-1"),
		Object: runtime.RawExtension{Raw: []byte(`{"metadata":{"labels":{}}}`)},
	}

	resp, err := eval.Evaluate(context.Background(), rulesv1.MutatingKind, "default-tier", req)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	require.NotNil(t, resp.PatchType)
	assert.Equal(t, admissionv1.PatchTypeJSONPatch, *resp.PatchType)
	assert.JSONEq(t, `[{"op":"add","path":"/metadata/labels/tier","value":"std"}]`, string(resp.Patch))

	// The returned patch must apply cleanly to the request object.
	patch, err := jsonpatch.DecodePatch(resp.Patch)
	require.NoError(t, err)
	patched, err := patch.Apply(req.Object.Raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"metadata":{"labels":{"tier":"std"}}}`, string(patched))
}

func TestEvaluator_Evaluate_RuleNotFound(t *testing.T) {
	fakeClient := fake.NewClientBuilder().WithScheme(newTestScheme(t)).Build()
	eval := &Evaluator{Client: fakeClient, Logger: logr.Discard()}

	_, err := eval.Evaluate(context.Background(), rulesv1.ValidatingKind, "missing", &admissionv1.AdmissionRequest{UID: types.UID("n")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}
