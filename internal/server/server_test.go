package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/admission"
)

func newTestServer(t *testing.T, objs ...client.Object) *Server {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, rulesv1.AddToScheme(scheme))
	fakeClient := fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()
	evaluator := &admission.Evaluator{Client: fakeClient, Logger: logr.Discard()}
	return New(":0", evaluator, &PolicyNormalizer{}, nil, logr.Discard())
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Ping(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ValidateDeniesOnMissingLabel(t *testing.T) {
	rule := &rulesv1.ValidatingRule{
		ObjectMeta: metav1.ObjectMeta{Name: "deny-bad"},
		Spec: rulesv1.RuleSpec{
			Code: `(request.object.metadata.labels && request.object.metadata.labels.team) ? {} : {denyReason: "missing team label"}`,
		},
	}
	s := newTestServer(t, rule)

	review := admissionv1.AdmissionReview{
		Request: &admissionv1.AdmissionRequest{
			UID:    types.UID("abc"),
			Object: runtime.RawExtension{Raw: []byte(`{"metadata":{"labels":{}}}`)},
		},
	}
	body, err := json.Marshal(review)
	require.NoError(t, err)

	rec := doRequest(s, http.MethodPost, "/validate/deny-bad", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	var respReview admissionv1.AdmissionReview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &respReview))
	require.NotNil(t, respReview.Response)
	assert.False(t, respReview.Response.Allowed)
	assert.Equal(t, "missing team label", respReview.Response.Result.Message)
}

func TestServer_ValidateReturns404ForUnknownRule(t *testing.T) {
	s := newTestServer(t)

	review := admissionv1.AdmissionReview{
		Request: &admissionv1.AdmissionRequest{UID: types.UID("abc")},
	}
	body, err := json.Marshal(review)
	require.NoError(t, err)

	rec := doRequest(s, http.MethodPost, "/validate/missing", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ValidateRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/validate/anything", []byte("not json"))
	assert.Equal(t, http.StatusOK, rec.Code)

	var respReview admissionv1.AdmissionReview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &respReview))
	assert.False(t, respReview.Response.Allowed)
}
