/*
Copyright 2021.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package v1 holds the custom resources scriptguard installs: ValidatingRule,
// MutatingRule and CronPolicy.
package v1

import (
	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// FailurePolicyType mirrors admissionregistrationv1.FailurePolicyType but is
// re-declared here so rule specs do not need to import the admission API
// package to express their default.
type FailurePolicyType = admissionregistrationv1.FailurePolicyType

const (
	Fail   = admissionregistrationv1.Fail
	Ignore = admissionregistrationv1.Ignore
)

// ServiceAccountRef grants a rule's script cluster-read capability scoped to
// the referenced service account.
type ServiceAccountRef struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// RuleSpec is shared by ValidatingRule and MutatingRule.
type RuleSpec struct {
	// +kubebuilder:default=Fail
	FailurePolicy *FailurePolicyType `json:"failurePolicy,omitempty"`

	NamespaceSelector *metav1.LabelSelector `json:"namespaceSelector,omitempty"`
	ObjectSelector    *metav1.LabelSelector `json:"objectSelector,omitempty"`

	ObjectRules []admissionregistrationv1.RuleWithOperations `json:"objectRules,omitempty"`

	// +kubebuilder:default=10
	TimeoutSeconds *int32 `json:"timeoutSeconds,omitempty"`

	ServiceAccount *ServiceAccountRef `json:"serviceAccount,omitempty"`

	Code string `json:"code"`
}

// RuleStatus holds the rule's status conditions. The rule reconcilers do
// not write it, so it stays empty.
type RuleStatus struct {
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Cluster,shortName=vr
// +kubebuilder:printcolumn:name="Policy Status",type=string,JSONPath=".status.conditions[?(@.type=='WebhookConfigured')].status"

// ValidatingRule admits or denies objects by running its script against the
// admission request and reading the script's denyReason output.
type ValidatingRule struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   RuleSpec   `json:"spec,omitempty"`
	Status RuleStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ValidatingRuleList is a list of ValidatingRule.
type ValidatingRuleList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ValidatingRule `json:"items"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Cluster,shortName=mr
// +kubebuilder:printcolumn:name="Policy Status",type=string,JSONPath=".status.conditions[?(@.type=='WebhookConfigured')].status"

// MutatingRule patches objects by running its script and reading the
// script's patch output, a JSON-Patch document.
type MutatingRule struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   RuleSpec   `json:"spec,omitempty"`
	Status RuleStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// MutatingRuleList is a list of MutatingRule.
type MutatingRuleList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []MutatingRule `json:"items"`
}

// ResourceListParams narrows a `list` call the way metav1.ListOptions does,
// without exposing the entire options struct to rule authors.
type ResourceListParams struct {
	LabelSelector string `json:"labelSelector,omitempty"`
	FieldSelector string `json:"fieldSelector,omitempty"`
}

// ResourceSelector names a cluster resource (or resource collection) an
// audit policy's script reads. Group/Version may be left blank; the policy
// admission webhook resolves and fills them in.
type ResourceSelector struct {
	Group   string `json:"group,omitempty"`
	Version string `json:"version,omitempty"`
	Kind    string `json:"kind"`
	// Plural is the URL-path form of Kind. Computed by the pluralizer when absent.
	Plural *string `json:"plural,omitempty"`

	Namespace *string `json:"namespace,omitempty"`
	Name      *string `json:"name,omitempty"`

	ListParams *ResourceListParams `json:"listParams,omitempty"`
}

// SlackTarget delivers a notification to a Slack incoming webhook.
type SlackTarget struct {
	WebhookURL string `json:"webhookUrl"`
	Template   string `json:"template"`
}

// WebhookTarget delivers a notification to an arbitrary HTTP endpoint.
type WebhookTarget struct {
	URL          string            `json:"url"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyTemplate string            `json:"bodyTemplate"`
}

// NotificationSpec enumerates the notification sinks a CronPolicy may fire
// on violation.
type NotificationSpec struct {
	Slack   *SlackTarget   `json:"slack,omitempty"`
	Webhook *WebhookTarget `json:"webhook,omitempty"`
}

// CronPolicySpec describes a periodic audit: what it reads, what it runs,
// and where violations are reported.
type CronPolicySpec struct {
	Schedule string `json:"schedule"`
	Suspend  bool   `json:"suspend,omitempty"`

	Resources []ResourceSelector `json:"resources"`
	Code      string             `json:"code"`

	Notifications NotificationSpec `json:"notifications,omitempty"`

	Namespace string `json:"namespace"`

	// +kubebuilder:default=OnFailure
	RestartPolicy corev1.RestartPolicy `json:"restartPolicy,omitempty"`
}

// CronPolicyStatus holds the policy's status conditions. The policy
// reconciler does not write it, so it stays empty.
type CronPolicyStatus struct {
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Cluster,shortName=cp
// +kubebuilder:printcolumn:name="Schedule",type=string,JSONPath=".spec.schedule"
// +kubebuilder:printcolumn:name="Suspend",type=boolean,JSONPath=".spec.suspend"

// CronPolicy projects into a scheduled audit job, a scoped identity, and the
// role-bindings the job's service account needs to read its target
// resources.
type CronPolicy struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   CronPolicySpec   `json:"spec,omitempty"`
	Status CronPolicyStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// CronPolicyList is a list of CronPolicy.
type CronPolicyList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []CronPolicy `json:"items"`
}
