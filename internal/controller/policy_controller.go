package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/constants"
	"github.com/scriptguard/scriptguard/internal/naming"
)

// cronParser validates CronPolicy.Spec.Schedule the way the robfig/cron
// scheduler itself would resolve it; standard five-field crontab syntax
// plus the same descriptor shorthands ("@hourly", ...) the CronJob API
// server accepts.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// PolicyReconciler materializes, for every CronPolicy, a
// ServiceAccount, the minimal Role/RoleBinding (or ClusterRole/
// ClusterRoleBinding for cluster-scoped targets) the job's identity needs to
// read the policy's declared resources, and the CronJob that runs the audit
// worker.
type PolicyReconciler struct {
	client.Client
	Log logr.Logger

	// CheckerImage is the audit-worker container image, CONF_CHECKER_IMAGE
	// from the controller role's environment.
	CheckerImage string
}

// Reconcile materializes every dependent object for one
// CronPolicy, or lets owner-reference garbage collection clean up after a
// deletion.
func (r *PolicyReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	policy := &rulesv1.CronPolicy{}
	if err := r.Get(ctx, client.ObjectKey{Name: req.Name}, policy); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{RequeueAfter: constants.RequeueAfterTransientError}, fmt.Errorf("get cron policy %s: %w", req.Name, err)
	}

	if _, err := cronParser.Parse(policy.Spec.Schedule); err != nil {
		r.Log.Info("cron policy carries an invalid schedule, skipping", "policy", policy.Name, "schedule", policy.Spec.Schedule, "error", err.Error())
		return ctrl.Result{}, nil
	}

	if err := r.reconcilePolicy(ctx, policy); err != nil {
		r.Log.Error(err, "reconcile cron policy failed", "policy", policy.Name)
		return ctrl.Result{RequeueAfter: constants.RequeueAfterTransientError}, err
	}
	return ctrl.Result{}, nil
}

func (r *PolicyReconciler) reconcilePolicy(ctx context.Context, policy *rulesv1.CronPolicy) error {
	if err := r.reconcileServiceAccount(ctx, policy); err != nil {
		return err
	}

	targets := groupResourcesByNamespace(policy.Spec.Resources)
	for namespace, resources := range targets.namespaced {
		if err := r.reconcileNamespacedRBAC(ctx, policy, namespace, resources); err != nil {
			return err
		}
	}
	if len(targets.clusterWide) > 0 {
		if err := r.reconcileClusterRBAC(ctx, policy, targets.clusterWide); err != nil {
			return err
		}
	}

	return r.reconcileCronJob(ctx, policy)
}

func (r *PolicyReconciler) reconcileServiceAccount(ctx context.Context, policy *rulesv1.CronPolicy) error {
	sa := &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{
			Name:      naming.ServiceAccountNameForCronPolicy(policy.Name),
			Namespace: policy.Spec.Namespace,
		},
	}
	_, err := controllerutil.CreateOrPatch(ctx, r.Client, sa, func() error {
		sa.Labels = ownershipLabels(policy.Name)
		return controllerutil.SetControllerReference(policy, sa, r.Client.Scheme())
	})
	if err != nil {
		return fmt.Errorf("reconcile service account for cron policy %s: %w", policy.Name, err)
	}
	return nil
}

// resourceTargets partitions a policy's resource selectors by the access
// scope they need: one Role/RoleBinding per distinct namespace, one shared
// ClusterRole/ClusterRoleBinding for every selector naming no namespace.
type resourceTargets struct {
	namespaced  map[string][]rulesv1.ResourceSelector
	clusterWide []rulesv1.ResourceSelector
}

func groupResourcesByNamespace(resources []rulesv1.ResourceSelector) resourceTargets {
	targets := resourceTargets{namespaced: map[string][]rulesv1.ResourceSelector{}}
	for _, sel := range resources {
		if sel.Namespace == nil || *sel.Namespace == "" {
			targets.clusterWide = append(targets.clusterWide, sel)
			continue
		}
		targets.namespaced[*sel.Namespace] = append(targets.namespaced[*sel.Namespace], sel)
	}
	return targets
}

// policyRules builds the minimal rbacv1.PolicyRule set for a group of
// resource selectors: one rule per selector, verb `get` when the selector
// names a single object, `list` otherwise.
func policyRules(resources []rulesv1.ResourceSelector) []rbacv1.PolicyRule {
	rules := make([]rbacv1.PolicyRule, 0, len(resources))
	for _, sel := range resources {
		verb := "list"
		var resourceNames []string
		if sel.Name != nil && *sel.Name != "" {
			verb = "get"
			resourceNames = []string{*sel.Name}
		}
		plural := sel.Kind
		if sel.Plural != nil && *sel.Plural != "" {
			plural = *sel.Plural
		} else {
			plural = naming.Pluralize(sel.Kind)
		}
		rules = append(rules, rbacv1.PolicyRule{
			APIGroups:     []string{sel.Group},
			Resources:     []string{plural},
			ResourceNames: resourceNames,
			Verbs:         []string{verb},
		})
	}
	return rules
}

func (r *PolicyReconciler) reconcileNamespacedRBAC(ctx context.Context, policy *rulesv1.CronPolicy, namespace string, resources []rulesv1.ResourceSelector) error {
	roleName := naming.RoleNameForNamespace(policy.Name, namespace)
	role := &rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{Name: roleName, Namespace: namespace},
	}
	_, err := controllerutil.CreateOrPatch(ctx, r.Client, role, func() error {
		role.Labels = ownershipLabels(policy.Name)
		role.Rules = policyRules(resources)
		return controllerutil.SetOwnerReference(policy, role, r.Client.Scheme())
	})
	if err != nil {
		return fmt.Errorf("reconcile role %s/%s: %w", namespace, roleName, err)
	}

	binding := &rbacv1.RoleBinding{
		ObjectMeta: metav1.ObjectMeta{Name: roleName, Namespace: namespace},
	}
	_, err = controllerutil.CreateOrPatch(ctx, r.Client, binding, func() error {
		binding.Labels = ownershipLabels(policy.Name)
		binding.RoleRef = rbacv1.RoleRef{APIGroup: rbacv1.GroupName, Kind: "Role", Name: roleName}
		binding.Subjects = []rbacv1.Subject{{
			Kind:      rbacv1.ServiceAccountKind,
			Name:      naming.ServiceAccountNameForCronPolicy(policy.Name),
			Namespace: policy.Spec.Namespace,
		}}
		return controllerutil.SetOwnerReference(policy, binding, r.Client.Scheme())
	})
	if err != nil {
		return fmt.Errorf("reconcile role binding %s/%s: %w", namespace, roleName, err)
	}
	return nil
}

func (r *PolicyReconciler) reconcileClusterRBAC(ctx context.Context, policy *rulesv1.CronPolicy, resources []rulesv1.ResourceSelector) error {
	name := naming.ClusterRoleNameForCronPolicy(policy.Name)
	clusterRole := &rbacv1.ClusterRole{ObjectMeta: metav1.ObjectMeta{Name: name}}
	_, err := controllerutil.CreateOrPatch(ctx, r.Client, clusterRole, func() error {
		clusterRole.Labels = ownershipLabels(policy.Name)
		clusterRole.Rules = policyRules(resources)
		return controllerutil.SetOwnerReference(policy, clusterRole, r.Client.Scheme())
	})
	if err != nil {
		return fmt.Errorf("reconcile cluster role %s: %w", name, err)
	}

	binding := &rbacv1.ClusterRoleBinding{ObjectMeta: metav1.ObjectMeta{Name: name}}
	_, err = controllerutil.CreateOrPatch(ctx, r.Client, binding, func() error {
		binding.Labels = ownershipLabels(policy.Name)
		binding.RoleRef = rbacv1.RoleRef{APIGroup: rbacv1.GroupName, Kind: "ClusterRole", Name: name}
		binding.Subjects = []rbacv1.Subject{{
			Kind:      rbacv1.ServiceAccountKind,
			Name:      naming.ServiceAccountNameForCronPolicy(policy.Name),
			Namespace: policy.Spec.Namespace,
		}}
		return controllerutil.SetOwnerReference(policy, binding, r.Client.Scheme())
	})
	if err != nil {
		return fmt.Errorf("reconcile cluster role binding %s: %w", name, err)
	}
	return nil
}

func (r *PolicyReconciler) reconcileCronJob(ctx context.Context, policy *rulesv1.CronPolicy) error {
	resourcesJSON, err := json.Marshal(policy.Spec.Resources)
	if err != nil {
		return fmt.Errorf("marshal resources for cron policy %s: %w", policy.Name, err)
	}
	notificationsJSON, err := json.Marshal(policy.Spec.Notifications)
	if err != nil {
		return fmt.Errorf("marshal notifications for cron policy %s: %w", policy.Name, err)
	}

	restartPolicy := policy.Spec.RestartPolicy
	if restartPolicy == "" {
		restartPolicy = corev1.RestartPolicyOnFailure
	}

	name := naming.CronJobNameForCronPolicy(policy.Name)
	cronJob := &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: policy.Spec.Namespace},
	}
	_, err = controllerutil.CreateOrPatch(ctx, r.Client, cronJob, func() error {
		cronJob.Labels = ownershipLabels(policy.Name)
		cronJob.Spec = batchv1.CronJobSpec{
			Schedule: policy.Spec.Schedule,
			Suspend:  &policy.Spec.Suspend,
			JobTemplate: batchv1.JobTemplateSpec{
				Spec: batchv1.JobSpec{
					Template: corev1.PodTemplateSpec{
						ObjectMeta: metav1.ObjectMeta{Labels: ownershipLabels(policy.Name)},
						Spec: corev1.PodSpec{
							ServiceAccountName: naming.ServiceAccountNameForCronPolicy(policy.Name),
							RestartPolicy:      restartPolicy,
							Containers: []corev1.Container{{
								Name:  "audit-worker",
								Image: r.CheckerImage,
								Env: []corev1.EnvVar{
									{Name: constants.EnvPolicyName, Value: policy.Name},
									{Name: constants.EnvResources, Value: string(resourcesJSON)},
									{Name: constants.EnvCode, Value: policy.Spec.Code},
									{Name: constants.EnvNotifications, Value: string(notificationsJSON)},
								},
							}},
						},
					},
				},
			},
		}
		return controllerutil.SetControllerReference(policy, cronJob, r.Client.Scheme())
	})
	if err != nil {
		return fmt.Errorf("reconcile cron job %s/%s: %w", policy.Spec.Namespace, name, err)
	}
	return nil
}

func ownershipLabels(policyName string) map[string]string {
	return map[string]string{constants.CronPolicyOwnershipLabelKey: policyName}
}

// SetupWithManager watches CronPolicy and everything it owns, so a change
// to a dependent (e.g. a manually edited RoleBinding) triggers a corrective
// re-reconcile.
func (r *PolicyReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&rulesv1.CronPolicy{}).
		Owns(&corev1.ServiceAccount{}).
		Owns(&rbacv1.Role{}).
		Owns(&rbacv1.RoleBinding{}).
		Owns(&rbacv1.ClusterRole{}).
		Owns(&rbacv1.ClusterRoleBinding{}).
		Owns(&batchv1.CronJob{}).
		Complete(r)
}
