package controller

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/constants"
	"github.com/scriptguard/scriptguard/internal/k8s"
)

// ServiceRef names the Service the webhook server listens behind, the way
// every managed webhook configuration's ClientConfig points at it.
type ServiceRef struct {
	Namespace string
	Name      string
	Port      int32
}

// RuleReconciler materializes the single managed
// ValidatingWebhookConfiguration (or MutatingWebhookConfiguration) for
// every rule of its configured kind, keeping it in sync with the rule spec
// and the active CA bundle. It is instantiated twice, once per rule kind,
// rather than written out twice or modeled via inheritance.
type RuleReconciler struct {
	client.Client
	K8sClient *k8s.Client
	Log       logr.Logger

	Kind    rulesv1.RuleKind
	Service ServiceRef
	Bundle  *CABundleStore

	// NewRule constructs a fresh, empty rule object of this reconciler's
	// kind so Reconcile can Get into it without a type switch.
	NewRule func() rulesv1.Rule
}

// fieldManager returns the per-kind field manager, so the two reconcilers
// never stomp each other's server-side-apply writes.
func (r *RuleReconciler) fieldManager() string {
	if r.Kind == rulesv1.MutatingKind {
		return constants.MutatingRuleFieldManager
	}
	return constants.ValidatingRuleFieldManager
}

func (r *RuleReconciler) ownershipLabel() string {
	if r.Kind == rulesv1.MutatingKind {
		return constants.MutatingRuleOwnershipLabelKey
	}
	return constants.ValidatingRuleOwnershipLabelKey
}

// Reconcile maintains the one managed webhook configuration every rule
// owns, carrying the ownership label and the current CA bundle.
func (r *RuleReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	rule := r.NewRule()
	if err := r.Get(ctx, client.ObjectKey{Name: req.Name}, rule); err != nil {
		if apierrors.IsNotFound(err) {
			// Deleted; owner-reference garbage collection removes the
			// dependent webhook configuration. Nothing left to do.
			return ctrl.Result{}, nil
		}
		return ctrl.Result{RequeueAfter: constants.RequeueAfterTransientError}, fmt.Errorf("get rule %s: %w", req.Name, err)
	}

	if err := r.reconcileWebhookConfiguration(ctx, rule); err != nil {
		r.Log.Error(err, "reconcile webhook configuration failed", "rule", rule.GetUniqueName())
		return ctrl.Result{RequeueAfter: constants.RequeueAfterTransientError}, err
	}

	return ctrl.Result{}, nil
}

func (r *RuleReconciler) reconcileWebhookConfiguration(ctx context.Context, rule rulesv1.Rule) error {
	failurePolicy := admissionregistrationv1.Fail
	if fp := rule.GetFailurePolicy(); fp != nil {
		failurePolicy = *fp
	}

	timeoutSeconds := constants.DefaultTimeoutSeconds
	if t := rule.GetTimeoutSeconds(); t != nil {
		timeoutSeconds = *t
	}
	if timeoutSeconds > constants.MaxTimeoutSeconds {
		timeoutSeconds = constants.MaxTimeoutSeconds
	}

	sideEffectsNone := admissionregistrationv1.SideEffectClassNone
	port := r.Service.Port
	path := rule.URLPath()
	bundle := r.Bundle.Get()

	owner, err := controllerReferenceFor(rule, r.Kind)
	if err != nil {
		return fmt.Errorf("build owner reference for %s: %w", rule.GetUniqueName(), err)
	}

	labels := map[string]string{r.ownershipLabel(): rule.GetUniqueName()}

	switch r.Kind {
	case rulesv1.ValidatingKind:
		webhook := &admissionregistrationv1.ValidatingWebhookConfiguration{
			TypeMeta: metav1.TypeMeta{
				APIVersion: admissionregistrationv1.SchemeGroupVersion.String(),
				Kind:       "ValidatingWebhookConfiguration",
			},
			ObjectMeta: metav1.ObjectMeta{
				Name:            rule.GetUniqueName(),
				Labels:          labels,
				OwnerReferences: []metav1.OwnerReference{owner},
			},
			Webhooks: []admissionregistrationv1.ValidatingWebhook{{
				Name: rule.WebhookName(),
				ClientConfig: admissionregistrationv1.WebhookClientConfig{
					Service: &admissionregistrationv1.ServiceReference{
						Namespace: r.Service.Namespace,
						Name:      r.Service.Name,
						Path:      &path,
						Port:      &port,
					},
					CABundle: bundle,
				},
				Rules:                   rule.GetObjectRules(),
				FailurePolicy:           &failurePolicy,
				NamespaceSelector:       rule.GetNamespaceSelector(),
				ObjectSelector:          rule.GetObjectSelector(),
				SideEffects:             &sideEffectsNone,
				TimeoutSeconds:          &timeoutSeconds,
				AdmissionReviewVersions: []string{constants.AdmissionReviewVersion},
			}},
		}
		return r.K8sClient.PatchApply(ctx, webhook, r.fieldManager())
	case rulesv1.MutatingKind:
		webhook := &admissionregistrationv1.MutatingWebhookConfiguration{
			TypeMeta: metav1.TypeMeta{
				APIVersion: admissionregistrationv1.SchemeGroupVersion.String(),
				Kind:       "MutatingWebhookConfiguration",
			},
			ObjectMeta: metav1.ObjectMeta{
				Name:            rule.GetUniqueName(),
				Labels:          labels,
				OwnerReferences: []metav1.OwnerReference{owner},
			},
			Webhooks: []admissionregistrationv1.MutatingWebhook{{
				Name: rule.WebhookName(),
				ClientConfig: admissionregistrationv1.WebhookClientConfig{
					Service: &admissionregistrationv1.ServiceReference{
						Namespace: r.Service.Namespace,
						Name:      r.Service.Name,
						Path:      &path,
						Port:      &port,
					},
					CABundle: bundle,
				},
				Rules:                   rule.GetObjectRules(),
				FailurePolicy:           &failurePolicy,
				NamespaceSelector:       rule.GetNamespaceSelector(),
				ObjectSelector:          rule.GetObjectSelector(),
				SideEffects:             &sideEffectsNone,
				TimeoutSeconds:          &timeoutSeconds,
				AdmissionReviewVersions: []string{constants.AdmissionReviewVersion},
			}},
		}
		return r.K8sClient.PatchApply(ctx, webhook, r.fieldManager())
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

// controllerReferenceFor builds the owner reference a managed webhook
// configuration carries back to its rule, without requiring a live scheme
// lookup (rule kinds are a closed, two-member set).
func controllerReferenceFor(rule rulesv1.Rule, kind rulesv1.RuleKind) (metav1.OwnerReference, error) {
	goKind := "ValidatingRule"
	if kind == rulesv1.MutatingKind {
		goKind = "MutatingRule"
	}
	controller := true
	blockOwnerDeletion := true
	return metav1.OwnerReference{
		APIVersion:         rulesv1.GroupVersion.String(),
		Kind:               goKind,
		Name:               rule.GetName(),
		UID:                rule.GetUID(),
		Controller:         &controller,
		BlockOwnerDeletion: &blockOwnerDeletion,
	}, nil
}

// SetupWithManager wires the reconciler to watch its rule kind plus its
// owned webhook-configuration kind, so the CA-bundle reloader's
// annotation write (on the owned object) triggers a fresh reconcile of
// the owning rule.
func (r *RuleReconciler) SetupWithManager(mgr ctrl.Manager) error {
	var obj client.Object
	var owned client.Object
	if r.Kind == rulesv1.MutatingKind {
		obj = &rulesv1.MutatingRule{}
		owned = &admissionregistrationv1.MutatingWebhookConfiguration{}
	} else {
		obj = &rulesv1.ValidatingRule{}
		owned = &admissionregistrationv1.ValidatingWebhookConfiguration{}
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(obj).
		Owns(owned).
		Complete(r)
}
