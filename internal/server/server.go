// Package server implements the HTTPS webhook server that dispatches
// admission callbacks to the evaluator and the policy-normalization
// mutating webhook, with TLS hot-reload and a graceful drain.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	admissionv1 "k8s.io/api/admission/v1"
	"k8s.io/apimachinery/pkg/types"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/admission"
	"github.com/scriptguard/scriptguard/internal/constants"
	"github.com/scriptguard/scriptguard/internal/metrics"
)

// drainTimeout bounds graceful shutdown.
const drainTimeout = 30 * time.Second

// Server is the webhook HTTPS endpoint.
type Server struct {
	httpServer *http.Server
	certStore  *certStore

	evaluator  *admission.Evaluator
	normalizer *PolicyNormalizer
	recorder   metrics.Recorder

	log logr.Logger
}

// New builds a Server listening on addr. TLS material is hot-reloaded from
// certPath/keyPath via two file watchers installed by WatchTLS.
func New(addr string, evaluator *admission.Evaluator, normalizer *PolicyNormalizer, recorder metrics.Recorder, log logr.Logger) *Server {
	s := &Server{
		evaluator:  evaluator,
		normalizer: normalizer,
		recorder:   recorder,
		certStore:  newCertStore(),
		log:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(constants.ValidatePathPrefix, s.handleValidate)
	mux.HandleFunc(constants.MutatePathPrefix, s.handleMutate)
	mux.HandleFunc(constants.CronPolicyNormalizationPath, s.handleCronPolicyNormalization)
	mux.HandleFunc(constants.PingPath, s.handlePing)

	s.httpServer = &http.Server{
		Addr:      addr,
		Handler:   mux,
		TLSConfig: &tls.Config{GetCertificate: s.certStore.GetCertificate, MinVersion: tls.VersionTLS12},
	}
	return s
}

// ListenAndServeTLS starts serving. It blocks until the server is shut down.
func (s *Server) ListenAndServeTLS() error {
	err := s.httpServer.ListenAndServeTLS("", "")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within drainTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(drainCtx); err != nil {
		s.log.Error(err, "graceful shutdown failed, closing listener")
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, constants.ValidatePathPrefix)
	s.handleAdmission(w, r, rulesv1.ValidatingKind, name)
}

func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, constants.MutatePathPrefix)
	s.handleAdmission(w, r, rulesv1.MutatingKind, name)
}

func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request, kind rulesv1.RuleKind, name string) {
	review, err := decodeReview(r)
	if err != nil {
		writeReview(w, deniedResponse(types.UID(""), fmt.Sprintf("cannot decode admission review: %v", err)))
		return
	}
	if review.Request == nil {
		writeReview(w, deniedResponse(types.UID(""), "admission review carries no request"))
		return
	}

	resp, err := s.evaluator.Evaluate(r.Context(), kind, name, review.Request)
	if err != nil {
		if errors.Is(err, admission.ErrRuleNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.log.Error(err, "admission evaluation failed", "rule", name)
		if s.recorder != nil {
			s.recorder.RecordAdmissionDecision(r.Context(), name, metrics.DecisionError)
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if s.recorder != nil {
		decision := metrics.DecisionAllow
		if !resp.Allowed {
			decision = metrics.DecisionDeny
		}
		s.recorder.RecordAdmissionDecision(r.Context(), name, decision)
	}

	writeReview(w, resp)
}

func decodeReview(r *http.Request) (*admissionv1.AdmissionReview, error) {
	if r.Body == nil {
		return nil, errors.New("empty body")
	}
	var review admissionv1.AdmissionReview
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		return nil, err
	}
	return &review, nil
}

func writeReview(w http.ResponseWriter, resp *admissionv1.AdmissionResponse) {
	review := &admissionv1.AdmissionReview{
		TypeMeta: admissionReviewTypeMeta,
		Response: resp,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(review); err != nil {
		http.Error(w, fmt.Sprintf("cannot encode admission review: %v", err), http.StatusInternalServerError)
	}
}
