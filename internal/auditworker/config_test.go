package auditworker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptguard/scriptguard/internal/constants"
)

func TestLoadConfig_ParsesAllFields(t *testing.T) {
	t.Setenv(constants.EnvPolicyName, "no-host-network")
	t.Setenv(constants.EnvResources, `[{"kind":"Pod","version":"v1","namespace":"default"}]`)
	t.Setenv(constants.EnvCode, `({ output: null })`)
	t.Setenv(constants.EnvNotifications, `{"slack":{"webhookUrl":"https://hooks.slack.test/x","template":"{policy.name}"}}`)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "no-host-network", cfg.PolicyName)
	assert.Equal(t, `({ output: null })`, cfg.Code)
	require.Len(t, cfg.Resources, 1)
	assert.Equal(t, "Pod", cfg.Resources[0].Kind)
	require.NotNil(t, cfg.Notifications.Slack)
	assert.Equal(t, "https://hooks.slack.test/x", cfg.Notifications.Slack.WebhookURL)
}

func TestLoadConfig_MissingPolicyNameIsError(t *testing.T) {
	t.Setenv(constants.EnvResources, `[]`)
	t.Setenv(constants.EnvCode, `({})`)
	t.Setenv(constants.EnvNotifications, `{}`)

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_MalformedResourcesIsError(t *testing.T) {
	t.Setenv(constants.EnvPolicyName, "p")
	t.Setenv(constants.EnvResources, `not-json`)
	t.Setenv(constants.EnvCode, `({})`)
	t.Setenv(constants.EnvNotifications, `{}`)

	_, err := LoadConfig()
	require.Error(t, err)
}
