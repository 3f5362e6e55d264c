//go:build !ignore_autogenerated

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

// Code generated by hand to mirror controller-gen object-deepcopy output.

package v1

import (
	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	runtime "k8s.io/apimachinery/pkg/runtime"
)

func (in *ServiceAccountRef) DeepCopyInto(out *ServiceAccountRef) { *out = *in }

func (in *ServiceAccountRef) DeepCopy() *ServiceAccountRef {
	if in == nil {
		return nil
	}
	out := new(ServiceAccountRef)
	in.DeepCopyInto(out)
	return out
}

func (in *RuleSpec) DeepCopyInto(out *RuleSpec) {
	*out = *in
	if in.FailurePolicy != nil {
		out.FailurePolicy = new(FailurePolicyType)
		*out.FailurePolicy = *in.FailurePolicy
	}
	if in.NamespaceSelector != nil {
		out.NamespaceSelector = in.NamespaceSelector.DeepCopy()
	}
	if in.ObjectSelector != nil {
		out.ObjectSelector = in.ObjectSelector.DeepCopy()
	}
	if in.ObjectRules != nil {
		l := make([]admissionregistrationv1.RuleWithOperations, len(in.ObjectRules))
		for i := range in.ObjectRules {
			in.ObjectRules[i].DeepCopyInto(&l[i])
		}
		out.ObjectRules = l
	}
	if in.TimeoutSeconds != nil {
		out.TimeoutSeconds = new(int32)
		*out.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.ServiceAccount != nil {
		out.ServiceAccount = in.ServiceAccount.DeepCopy()
	}
}

func (in *RuleSpec) DeepCopy() *RuleSpec {
	if in == nil {
		return nil
	}
	out := new(RuleSpec)
	in.DeepCopyInto(out)
	return out
}

func (in *RuleStatus) DeepCopyInto(out *RuleStatus) {
	*out = *in
	if in.Conditions != nil {
		l := make([]metav1.Condition, len(in.Conditions))
		for i := range in.Conditions {
			in.Conditions[i].DeepCopyInto(&l[i])
		}
		out.Conditions = l
	}
}

func (in *RuleStatus) DeepCopy() *RuleStatus {
	if in == nil {
		return nil
	}
	out := new(RuleStatus)
	in.DeepCopyInto(out)
	return out
}

func (in *ValidatingRule) DeepCopyInto(out *ValidatingRule) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

func (in *ValidatingRule) DeepCopy() *ValidatingRule {
	if in == nil {
		return nil
	}
	out := new(ValidatingRule)
	in.DeepCopyInto(out)
	return out
}

func (in *ValidatingRule) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (in *ValidatingRuleList) DeepCopyInto(out *ValidatingRuleList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		l := make([]ValidatingRule, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&l[i])
		}
		out.Items = l
	}
}

func (in *ValidatingRuleList) DeepCopy() *ValidatingRuleList {
	if in == nil {
		return nil
	}
	out := new(ValidatingRuleList)
	in.DeepCopyInto(out)
	return out
}

func (in *ValidatingRuleList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (in *MutatingRule) DeepCopyInto(out *MutatingRule) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

func (in *MutatingRule) DeepCopy() *MutatingRule {
	if in == nil {
		return nil
	}
	out := new(MutatingRule)
	in.DeepCopyInto(out)
	return out
}

func (in *MutatingRule) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (in *MutatingRuleList) DeepCopyInto(out *MutatingRuleList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		l := make([]MutatingRule, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&l[i])
		}
		out.Items = l
	}
}

func (in *MutatingRuleList) DeepCopy() *MutatingRuleList {
	if in == nil {
		return nil
	}
	out := new(MutatingRuleList)
	in.DeepCopyInto(out)
	return out
}

func (in *MutatingRuleList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (in *ResourceListParams) DeepCopyInto(out *ResourceListParams) { *out = *in }

func (in *ResourceListParams) DeepCopy() *ResourceListParams {
	if in == nil {
		return nil
	}
	out := new(ResourceListParams)
	in.DeepCopyInto(out)
	return out
}

func (in *ResourceSelector) DeepCopyInto(out *ResourceSelector) {
	*out = *in
	if in.Plural != nil {
		out.Plural = new(string)
		*out.Plural = *in.Plural
	}
	if in.Namespace != nil {
		out.Namespace = new(string)
		*out.Namespace = *in.Namespace
	}
	if in.Name != nil {
		out.Name = new(string)
		*out.Name = *in.Name
	}
	if in.ListParams != nil {
		out.ListParams = in.ListParams.DeepCopy()
	}
}

func (in *ResourceSelector) DeepCopy() *ResourceSelector {
	if in == nil {
		return nil
	}
	out := new(ResourceSelector)
	in.DeepCopyInto(out)
	return out
}

func (in *SlackTarget) DeepCopyInto(out *SlackTarget) { *out = *in }

func (in *SlackTarget) DeepCopy() *SlackTarget {
	if in == nil {
		return nil
	}
	out := new(SlackTarget)
	in.DeepCopyInto(out)
	return out
}

func (in *WebhookTarget) DeepCopyInto(out *WebhookTarget) {
	*out = *in
	if in.Headers != nil {
		m := make(map[string]string, len(in.Headers))
		for k, v := range in.Headers {
			m[k] = v
		}
		out.Headers = m
	}
}

func (in *WebhookTarget) DeepCopy() *WebhookTarget {
	if in == nil {
		return nil
	}
	out := new(WebhookTarget)
	in.DeepCopyInto(out)
	return out
}

func (in *NotificationSpec) DeepCopyInto(out *NotificationSpec) {
	*out = *in
	if in.Slack != nil {
		out.Slack = in.Slack.DeepCopy()
	}
	if in.Webhook != nil {
		out.Webhook = in.Webhook.DeepCopy()
	}
}

func (in *NotificationSpec) DeepCopy() *NotificationSpec {
	if in == nil {
		return nil
	}
	out := new(NotificationSpec)
	in.DeepCopyInto(out)
	return out
}

func (in *CronPolicySpec) DeepCopyInto(out *CronPolicySpec) {
	*out = *in
	if in.Resources != nil {
		l := make([]ResourceSelector, len(in.Resources))
		for i := range in.Resources {
			in.Resources[i].DeepCopyInto(&l[i])
		}
		out.Resources = l
	}
	in.Notifications.DeepCopyInto(&out.Notifications)
}

func (in *CronPolicySpec) DeepCopy() *CronPolicySpec {
	if in == nil {
		return nil
	}
	out := new(CronPolicySpec)
	in.DeepCopyInto(out)
	return out
}

func (in *CronPolicyStatus) DeepCopyInto(out *CronPolicyStatus) {
	*out = *in
	if in.Conditions != nil {
		l := make([]metav1.Condition, len(in.Conditions))
		for i := range in.Conditions {
			in.Conditions[i].DeepCopyInto(&l[i])
		}
		out.Conditions = l
	}
}

func (in *CronPolicyStatus) DeepCopy() *CronPolicyStatus {
	if in == nil {
		return nil
	}
	out := new(CronPolicyStatus)
	in.DeepCopyInto(out)
	return out
}

func (in *CronPolicy) DeepCopyInto(out *CronPolicy) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

func (in *CronPolicy) DeepCopy() *CronPolicy {
	if in == nil {
		return nil
	}
	out := new(CronPolicy)
	in.DeepCopyInto(out)
	return out
}

func (in *CronPolicy) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (in *CronPolicyList) DeepCopyInto(out *CronPolicyList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		l := make([]CronPolicy, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&l[i])
		}
		out.Items = l
	}
}

func (in *CronPolicyList) DeepCopy() *CronPolicyList {
	if in == nil {
		return nil
	}
	out := new(CronPolicyList)
	in.DeepCopyInto(out)
	return out
}

func (in *CronPolicyList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}
