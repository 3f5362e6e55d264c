package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/scriptguard/scriptguard/internal/auditworker"
	"github.com/scriptguard/scriptguard/internal/constants"
	"github.com/scriptguard/scriptguard/internal/discovery"
	"github.com/scriptguard/scriptguard/internal/k8s"
	"github.com/scriptguard/scriptguard/internal/metrics"
)

const httpTimeout = 15 * time.Second

// NewRootCommand builds the audit-worker CLI: a single-shot command the
// CronJob pod built by the cron policy reconciler runs once per
// schedule tick, reading its policy from the environment rather than flags.
// It never touches the ValidatingRule/MutatingRule/CronPolicy types
// directly; its configuration arrives pre-rendered as env vars, so the
// typed client it builds only needs the built-in scheme.
func NewRootCommand() *cobra.Command {
	var level string

	rootCmd := &cobra.Command{
		Use:   "audit-worker",
		Short: "Evaluates one cron policy's script against its declared resources and reports the outcome",
		Long: `Fetches the resources a CronPolicy declares, runs its script against them,
and delivers a notification when the script reports a violation. Exits 1
when a violation was found, and also when loading the configuration,
building the cluster client or fetching the resources fails; a failing
script exits zero.`,

		RunE: func(_ *cobra.Command, _ []string) error {
			handler, err := NewHandler(os.Stdout, level)
			if err != nil {
				return err
			}
			runID := uuid.New().String()
			slogger := slog.New(handler).With("runID", runID)

			cfg, err := auditworker.LoadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			slogger = slogger.With("policy", cfg.PolicyName)
			log := logr.FromSlogHandler(slogger.Handler())

			restConfig := ctrl.GetConfigOrDie()
			typedClient, err := client.New(restConfig, client.Options{Scheme: clientgoscheme.Scheme})
			if err != nil {
				return fmt.Errorf("build orchestrator client: %w", err)
			}
			k8sClient, err := k8s.NewFromConfig(restConfig, typedClient)
			if err != nil {
				return fmt.Errorf("build orchestrator client: %w", err)
			}
			resolver := discovery.New(k8sClient.Discovery)
			httpClient := &http.Client{Timeout: httpTimeout}

			ctx := context.Background()
			result, err := auditworker.Run(ctx, k8sClient, resolver, httpClient, cfg, log)
			if err != nil {
				return fmt.Errorf("run audit: %w", err)
			}

			if result.Violation {
				slogger.Warn("policy violation found", "output", result.Output)
				recordViolation(ctx, cfg.PolicyName, slogger)
				os.Exit(1)
			}
			slogger.Info("no violation found")
			return nil
		},
	}

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.Flags().StringVarP(&level, "loglevel", "l", DefaultLogLevel, fmt.Sprintf("level of the logs. Supported values are: %v", SupportedLogLevels()))

	return rootCmd
}

// recordViolation flushes a single violation count through the OTLP
// exporter. The process is one-shot, so the provider is built, used, and
// shut down inline; a missing collector only logs.
func recordViolation(ctx context.Context, policyName string, slogger *slog.Logger) {
	recorder, err := metrics.New(ctx, "")
	if err != nil {
		slogger.Warn("cannot initialize metrics exporter", "error", err.Error())
		return
	}
	recorder.RecordAuditViolation(ctx, policyName)
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.MetricsShutdownTimeout)
	defer cancel()
	if err := recorder.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("cannot flush metrics", "error", err.Error())
	}
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error on cmd.Execute(): %s\n", err.Error())
		os.Exit(1)
	}
}
