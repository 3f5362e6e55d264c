// Package admission evaluates admission callbacks: given a rule's URL-path name and an
// admission request, look up the rule, build a capability-scoped sandbox,
// run its code, and translate the result into an admission response.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	admissionv1 "k8s.io/api/admission/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/constants"
	"github.com/scriptguard/scriptguard/internal/k8s"
	"github.com/scriptguard/scriptguard/internal/script"
)

// ErrRuleNotFound is returned when the named rule no longer exists; callers
// map this to an HTTP 404.
var ErrRuleNotFound = errors.New("rule not found")

// discoveryResolver is the subset internal/discovery.Resolver provides,
// needed by capability-scoped kubeGet/kubeList calls that omit `plural`.
type discoveryResolver interface {
	ResourceForKind(group, version, kind string) (string, error)
}

// Evaluator loads rules and runs their code against admission requests.
type Evaluator struct {
	Client    client.Client
	K8sClient *k8s.Client
	Resolver  discoveryResolver
	Logger    logr.Logger
}

// Evaluate looks up the rule of the given kind and name, evaluates its code
// against req, and returns the admission response. A non-nil error always
// maps to HTTP 500 at the server layer, except ErrRuleNotFound which maps
// to 404.
func (e *Evaluator) Evaluate(ctx context.Context, kind rulesv1.RuleKind, name string, req *admissionv1.AdmissionRequest) (*admissionv1.AdmissionResponse, error) {
	rule, err := e.lookupRule(ctx, kind, name)
	if err != nil {
		return nil, err
	}

	capability, err := e.capabilityFor(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("provision capability for rule %s: %w", rule.GetUniqueName(), err)
	}

	requestValue, err := requestToValue(req)
	if err != nil {
		return nil, fmt.Errorf("marshal admission request for rule %s: %w", rule.GetUniqueName(), err)
	}

	host := script.New(e.Logger, capability)
	out, err := host.EvalAdmission(ctx, rule.GetCode(), script.AdmissionInput{Request: requestValue}, timeoutSecondsFor(rule))
	if err != nil {
		return nil, fmt.Errorf("evaluate rule %s: %w", rule.GetUniqueName(), err)
	}

	return responseFrom(req.UID, kind, out)
}

func (e *Evaluator) lookupRule(ctx context.Context, kind rulesv1.RuleKind, name string) (rulesv1.Rule, error) {
	var rule rulesv1.Rule
	if kind == rulesv1.MutatingKind {
		rule = &rulesv1.MutatingRule{}
	} else {
		rule = &rulesv1.ValidatingRule{}
	}
	if err := e.Client.Get(ctx, client.ObjectKey{Name: name}, rule); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, name)
		}
		return nil, fmt.Errorf("get rule %s: %w", name, err)
	}
	return rule, nil
}

func (e *Evaluator) capabilityFor(ctx context.Context, rule rulesv1.Rule) (script.Capability, error) {
	sa := rule.GetServiceAccount()
	if sa == nil {
		return nil, nil
	}
	ref := script.ServiceAccountRef{Namespace: sa.Namespace, Name: sa.Name}
	return script.NewCapability(ctx, e.K8sClient, ref, e.Resolver)
}

func timeoutSecondsFor(rule rulesv1.Rule) int32 {
	if t := rule.GetTimeoutSeconds(); t != nil {
		return *t
	}
	return constants.DefaultTimeoutSeconds
}

// requestToValue re-encodes req through JSON so the sandbox sees plain
// maps keyed exactly as the wire format names them (request.object.*,
// request.userInfo.*, …).
func requestToValue(req *admissionv1.AdmissionRequest) (map[string]interface{}, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var value map[string]interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// responseFrom builds the AdmissionResponse from the program's output:
// uid echoed, allowed=false implies a message, patch present only on the
// mutating path and only when non-empty.
func responseFrom(uid types.UID, kind rulesv1.RuleKind, out *script.AdmissionOutput) (*admissionv1.AdmissionResponse, error) {
	resp := &admissionv1.AdmissionResponse{Allowed: true, UID: uid}

	if out.DenyReason != nil && *out.DenyReason != "" {
		resp.Allowed = false
		resp.Result = &metav1.Status{Message: *out.DenyReason}
		return resp, nil
	}

	if kind == rulesv1.MutatingKind && len(out.Patch) > 0 {
		patchBytes, err := json.Marshal(out.Patch)
		if err != nil {
			return nil, fmt.Errorf("marshal patch: %w", err)
		}
		patchType := admissionv1.PatchTypeJSONPatch
		resp.Patch = patchBytes
		resp.PatchType = &patchType
	}
	return resp, nil
}
