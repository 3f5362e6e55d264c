// Package auditworker implements the one-shot process a CronPolicy's
// scheduled job invokes. It snapshots the policy's declared resources,
// evaluates the policy's script against them, and delivers notifications
// for any violation.
package auditworker

import (
	"encoding/json"
	"fmt"
	"os"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/constants"
)

// Config is the parsed form of the audit-worker role's environment.
type Config struct {
	PolicyName    string
	Resources     []rulesv1.ResourceSelector
	Code          string
	Notifications rulesv1.NotificationSpec
}

// LoadConfig reads and validates POLICY_NAME, RESOURCES, CODE, and
// NOTIFICATIONS from the process environment.
func LoadConfig() (Config, error) {
	policyName, ok := os.LookupEnv(constants.EnvPolicyName)
	if !ok || policyName == "" {
		return Config{}, fmt.Errorf("missing required env var %s", constants.EnvPolicyName)
	}

	resourcesJSON, ok := os.LookupEnv(constants.EnvResources)
	if !ok || resourcesJSON == "" {
		return Config{}, fmt.Errorf("missing required env var %s", constants.EnvResources)
	}
	var resources []rulesv1.ResourceSelector
	if err := json.Unmarshal([]byte(resourcesJSON), &resources); err != nil {
		return Config{}, fmt.Errorf("cannot parse %s: %w", constants.EnvResources, err)
	}

	code, ok := os.LookupEnv(constants.EnvCode)
	if !ok {
		return Config{}, fmt.Errorf("missing required env var %s", constants.EnvCode)
	}

	notificationsJSON, ok := os.LookupEnv(constants.EnvNotifications)
	if !ok || notificationsJSON == "" {
		return Config{}, fmt.Errorf("missing required env var %s", constants.EnvNotifications)
	}
	var notifications rulesv1.NotificationSpec
	if err := json.Unmarshal([]byte(notificationsJSON), &notifications); err != nil {
		return Config{}, fmt.Errorf("cannot parse %s: %w", constants.EnvNotifications, err)
	}

	return Config{
		PolicyName:    policyName,
		Resources:     resources,
		Code:          code,
		Notifications: notifications,
	}, nil
}
