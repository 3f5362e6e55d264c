package v1

import (
	"fmt"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// RuleKind distinguishes a ValidatingRule from a MutatingRule for the rule
// reconciler, which is parameterized over this value rather than written
// twice (spec's "dynamic dispatch over rule kind" design note).
type RuleKind string

const (
	ValidatingKind RuleKind = "validating"
	MutatingKind   RuleKind = "mutating"
)

// Rule is the shape the rule reconciler and admission evaluator
// need from either ValidatingRule or MutatingRule.
type Rule interface {
	client.Object

	GetRuleKind() RuleKind
	GetFailurePolicy() *FailurePolicyType
	GetNamespaceSelector() *metav1.LabelSelector
	GetObjectSelector() *metav1.LabelSelector
	GetObjectRules() []admissionregistrationv1.RuleWithOperations
	GetTimeoutSeconds() *int32
	GetServiceAccount() *ServiceAccountRef
	GetCode() string

	// GetUniqueName is the name of the rule itself: rules are cluster-scoped
	// so the name is already a unique key.
	GetUniqueName() string

	// WebhookName is the per-kind suffixed name used inside the managed
	// webhook configuration's single webhook entry.
	WebhookName() string

	// URLPath is the path the webhook server expects callbacks for this rule on.
	URLPath() string
}

func (r *ValidatingRule) GetRuleKind() RuleKind                      { return ValidatingKind }
func (r *ValidatingRule) GetFailurePolicy() *FailurePolicyType       { return r.Spec.FailurePolicy }
func (r *ValidatingRule) GetNamespaceSelector() *metav1.LabelSelector { return r.Spec.NamespaceSelector }
func (r *ValidatingRule) GetObjectSelector() *metav1.LabelSelector   { return r.Spec.ObjectSelector }
func (r *ValidatingRule) GetObjectRules() []admissionregistrationv1.RuleWithOperations {
	return r.Spec.ObjectRules
}
func (r *ValidatingRule) GetTimeoutSeconds() *int32           { return r.Spec.TimeoutSeconds }
func (r *ValidatingRule) GetServiceAccount() *ServiceAccountRef { return r.Spec.ServiceAccount }
func (r *ValidatingRule) GetCode() string                    { return r.Spec.Code }
func (r *ValidatingRule) GetUniqueName() string               { return r.Name }
func (r *ValidatingRule) WebhookName() string {
	return fmt.Sprintf("%s.validatingwebhook.scriptguard.io", r.Name)
}
func (r *ValidatingRule) URLPath() string { return "/validate/" + r.Name }

func (r *MutatingRule) GetRuleKind() RuleKind                      { return MutatingKind }
func (r *MutatingRule) GetFailurePolicy() *FailurePolicyType       { return r.Spec.FailurePolicy }
func (r *MutatingRule) GetNamespaceSelector() *metav1.LabelSelector { return r.Spec.NamespaceSelector }
func (r *MutatingRule) GetObjectSelector() *metav1.LabelSelector   { return r.Spec.ObjectSelector }
func (r *MutatingRule) GetObjectRules() []admissionregistrationv1.RuleWithOperations {
	return r.Spec.ObjectRules
}
func (r *MutatingRule) GetTimeoutSeconds() *int32           { return r.Spec.TimeoutSeconds }
func (r *MutatingRule) GetServiceAccount() *ServiceAccountRef { return r.Spec.ServiceAccount }
func (r *MutatingRule) GetCode() string                    { return r.Spec.Code }
func (r *MutatingRule) GetUniqueName() string               { return r.Name }
func (r *MutatingRule) WebhookName() string {
	return fmt.Sprintf("%s.mutatingwebhook.scriptguard.io", r.Name)
}
func (r *MutatingRule) URLPath() string { return "/mutate/" + r.Name }

var (
	_ Rule = &ValidatingRule{}
	_ Rule = &MutatingRule{}
)
