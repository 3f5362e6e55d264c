package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/robfig/cron/v3"
	jsonpatch "gomodules.xyz/jsonpatch/v2"
	admissionv1 "k8s.io/api/admission/v1"
	"k8s.io/apimachinery/pkg/types"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/discovery"
)

// scheduleParser validates CronPolicy.Spec.Schedule at admission time,
// before the policy reconciler ever materializes a CronJob from it.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// groupVersionResolver is the subset of internal/discovery.Resolver the
// policy-normalization webhook needs.
type groupVersionResolver interface {
	ForKind(kind string, preferPreferred bool) ([]discovery.GroupVersion, error)
}

// PolicyNormalizer implements the policy-admission mutating webhook half of
// the admission surface: it resolves any ResourceSelector missing group/version via
// the discovery resolver, denying on absence or ambiguity.
type PolicyNormalizer struct {
	Resolver groupVersionResolver
}

// Normalize returns the normalized copy of policy, or a non-empty deny
// message when a selector's kind cannot be resolved unambiguously.
func (n *PolicyNormalizer) Normalize(policy *rulesv1.CronPolicy) (*rulesv1.CronPolicy, string, error) {
	if _, err := scheduleParser.Parse(policy.Spec.Schedule); err != nil {
		return nil, fmt.Sprintf("invalid schedule %q: %v", policy.Spec.Schedule, err), nil
	}

	normalized := policy.DeepCopy()
	for i := range normalized.Spec.Resources {
		sel := &normalized.Spec.Resources[i]
		if sel.Group != "" || sel.Version != "" {
			continue
		}

		matches, err := n.Resolver.ForKind(sel.Kind, true)
		if err != nil {
			return nil, "", fmt.Errorf("resolve group/version for kind %s: %w", sel.Kind, err)
		}

		switch len(matches) {
		case 0:
			return nil, fmt.Sprintf("no group/version hosts kind %q", sel.Kind), nil
		case 1:
			sel.Group = matches[0].Group
			sel.Version = matches[0].Version
		default:
			return nil, "multiple matching group/versions", nil
		}
	}
	return normalized, "", nil
}

func (s *Server) handleCronPolicyNormalization(w http.ResponseWriter, r *http.Request) {
	review, err := decodeReview(r)
	if err != nil {
		writeReview(w, deniedResponse(types.UID(""), fmt.Sprintf("cannot decode admission review: %v", err)))
		return
	}
	if review.Request == nil {
		writeReview(w, deniedResponse(types.UID(""), "admission review carries no request"))
		return
	}
	req := review.Request

	var policy rulesv1.CronPolicy
	if err := json.Unmarshal(req.Object.Raw, &policy); err != nil {
		writeReview(w, deniedResponse(req.UID, fmt.Sprintf("cannot decode CronPolicy: %v", err)))
		return
	}

	normalized, denyMessage, err := s.normalizer.Normalize(&policy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if denyMessage != "" {
		writeReview(w, deniedResponse(req.UID, denyMessage))
		return
	}

	normalizedRaw, err := json.Marshal(normalized)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ops, err := jsonpatch.CreatePatch(req.Object.Raw, normalizedRaw)
	if err != nil {
		http.Error(w, fmt.Sprintf("compute normalization patch: %v", err), http.StatusInternalServerError)
		return
	}

	resp := &admissionv1.AdmissionResponse{UID: req.UID, Allowed: true}
	if len(ops) > 0 {
		patchBytes, err := json.Marshal(ops)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		patchType := admissionv1.PatchTypeJSONPatch
		resp.Patch = patchBytes
		resp.PatchType = &patchType
	}
	writeReview(w, resp)
}
