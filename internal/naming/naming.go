// Package naming holds the small naming helpers shared by the policy
// reconciler, the audit worker and the script host's capability client.
package naming

import (
	"strings"
)

// Pluralize derives the URL-path plural of a Kind:
// (a) ends in s|x|z|ch|sh -> +es; (b) ends in y preceded by a consonant ->
// strip y + ies; (c) otherwise +s. The result is lower-cased, matching the
// Kubernetes resource-name convention.
func Pluralize(kind string) string {
	lower := strings.ToLower(kind)

	switch {
	case strings.HasSuffix(lower, "s"),
		strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "z"),
		strings.HasSuffix(lower, "ch"),
		strings.HasSuffix(lower, "sh"):
		return lower + "es"
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !isVowel(lower[len(lower)-2]):
		return lower[:len(lower)-1] + "ies"
	default:
		return lower + "s"
	}
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	default:
		return false
	}
}

// ServiceAccountNameForCronPolicy returns the name of the ServiceAccount the
// policy reconciler materializes for a given policy.
func ServiceAccountNameForCronPolicy(policyName string) string {
	return policyName
}

// CronJobNameForCronPolicy returns the name of the CronJob the policy
// reconciler materializes for a given policy.
func CronJobNameForCronPolicy(policyName string) string {
	return policyName
}

// RoleNameForNamespace returns the name of the Role the policy reconciler
// creates in a given target namespace for a policy.
func RoleNameForNamespace(policyName, namespace string) string {
	return policyName + "-" + namespace
}

// ClusterRoleNameForCronPolicy returns the name of the ClusterRole the
// policy reconciler creates when any of the policy's resources are
// cluster-scoped.
func ClusterRoleNameForCronPolicy(policyName string) string {
	return policyName + "-cluster"
}
