package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/discovery"
)

type fakeResolver struct {
	matches map[string][]discovery.GroupVersion
	err     error
}

func (f *fakeResolver) ForKind(kind string, _ bool) ([]discovery.GroupVersion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.matches[kind], nil
}

func TestNormalize_InvalidScheduleIsDenied(t *testing.T) {
	n := &PolicyNormalizer{Resolver: &fakeResolver{}}
	policy := &rulesv1.CronPolicy{Spec: rulesv1.CronPolicySpec{Schedule: "not a schedule"}}

	_, denyMessage, err := n.Normalize(policy)
	require.NoError(t, err)
	assert.Contains(t, denyMessage, "invalid schedule")
}

func TestNormalize_FillsGroupVersionForUniqueMatch(t *testing.T) {
	n := &PolicyNormalizer{Resolver: &fakeResolver{matches: map[string][]discovery.GroupVersion{
		"Pod": {{Group: "", Version: "v1"}},
	}}}
	policy := &rulesv1.CronPolicy{Spec: rulesv1.CronPolicySpec{
		Schedule:  "@daily",
		Resources: []rulesv1.ResourceSelector{{Kind: "Pod"}},
	}}

	normalized, denyMessage, err := n.Normalize(policy)
	require.NoError(t, err)
	assert.Empty(t, denyMessage)
	assert.Equal(t, "v1", normalized.Spec.Resources[0].Version)
}

func TestNormalize_NoMatchIsDenied(t *testing.T) {
	n := &PolicyNormalizer{Resolver: &fakeResolver{matches: map[string][]discovery.GroupVersion{}}}
	policy := &rulesv1.CronPolicy{Spec: rulesv1.CronPolicySpec{
		Schedule:  "@daily",
		Resources: []rulesv1.ResourceSelector{{Kind: "Widget"}},
	}}

	_, denyMessage, err := n.Normalize(policy)
	require.NoError(t, err)
	assert.Contains(t, denyMessage, "no group/version")
}

func TestNormalize_AmbiguousMatchIsDenied(t *testing.T) {
	n := &PolicyNormalizer{Resolver: &fakeResolver{matches: map[string][]discovery.GroupVersion{
		"Widget": {{Group: "a", Version: "v1"}, {Group: "b", Version: "v1"}},
	}}}
	policy := &rulesv1.CronPolicy{Spec: rulesv1.CronPolicySpec{
		Schedule:  "@daily",
		Resources: []rulesv1.ResourceSelector{{Kind: "Widget"}},
	}}

	_, denyMessage, err := n.Normalize(policy)
	require.NoError(t, err)
	assert.Contains(t, denyMessage, "multiple matching")
}

func TestNormalize_AlreadyResolvedSelectorIsUntouched(t *testing.T) {
	n := &PolicyNormalizer{Resolver: &fakeResolver{}}
	policy := &rulesv1.CronPolicy{Spec: rulesv1.CronPolicySpec{
		Schedule:  "@daily",
		Resources: []rulesv1.ResourceSelector{{Kind: "Pod", Group: "", Version: "v1"}},
	}}

	normalized, denyMessage, err := n.Normalize(policy)
	require.NoError(t, err)
	assert.Empty(t, denyMessage)
	assert.Equal(t, "v1", normalized.Spec.Resources[0].Version)
}
