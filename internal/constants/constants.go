// Package constants centralizes the labels, annotations and timeouts
// scriptguard's reconcilers and servers share.
package constants

import "time"

const (
	// Ownership labels, one per managed object kind. Present on every
	// dependent object so the
	// corresponding reconciler can list "everything it owns".
	ValidatingRuleOwnershipLabelKey = "scriptguard.io/validating-rule"
	MutatingRuleOwnershipLabelKey   = "scriptguard.io/mutating-rule"
	CronPolicyOwnershipLabelKey     = "scriptguard.io/cron-policy"

	// Annotation the CA-bundle reloader stamps on a managed
	// webhook configuration to signal the rule reconciler that its cached
	// body is stale and must be recomputed.
	ShouldUpdateAnnotation = "scriptguard.io/should-update"

	// Webhook server routes.
	ValidatePathPrefix           = "/validate/"
	MutatePathPrefix             = "/mutate/"
	CronPolicyNormalizationPath  = "/internal/mutate/cronpolicies"
	PingPath                     = "/ping"

	AdmissionReviewVersion = "v1"

	// Common name of the self-signed root the webhook's trust bundle and
	// serving certificates descend from.
	CACommonName = "scriptguard-ca"

	DefaultTimeoutSeconds int32 = 10
	MaxTimeoutSeconds     int32 = 10

	// Field managers for server-side apply, distinct per rule kind so the
	// two reconcilers never stomp each other's writes.
	ValidatingRuleFieldManager = "scriptguard-validating-rule-reconciler"
	MutatingRuleFieldManager   = "scriptguard-mutating-rule-reconciler"

	RequeueAfterTransientError = 3 * time.Second

	MetricsShutdownTimeout = 5 * time.Second

	// The lease lives in the same namespace as the webhook
	// Service (CONF_SERVICE_NAMESPACE) since that is the only namespace
	// both the controller and webhook binaries are guaranteed to have
	// write access to.
	LeaseName = "scriptguard-leader"

	// CronJob pod env vars consumed by the audit worker.
	EnvPolicyName    = "CONF_POLICY_NAME"
	EnvResources     = "CONF_RESOURCES"
	EnvCode          = "CONF_CODE"
	EnvNotifications = "CONF_NOTIFICATIONS"

	// Controller-role env vars.
	EnvServiceNamespace = "CONF_SERVICE_NAMESPACE"
	EnvServiceName      = "CONF_SERVICE_NAME"
	EnvServicePort      = "CONF_SERVICE_PORT"
	EnvCABundlePath     = "CONF_CA_BUNDLE_PATH"
	EnvCheckerImage     = "CONF_CHECKER_IMAGE"

	// Webhook-role env vars.
	EnvCertPath   = "CONF_CERT_PATH"
	EnvKeyPath    = "CONF_KEY_PATH"
	EnvListenAddr = "CONF_LISTEN_ADDR"

	DefaultListenAddr = "[::]:3000"
)
