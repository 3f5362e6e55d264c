// Package metrics exports scriptguard's two OTLP counters: admission
// decisions (allow/deny/error) and audit violations. Rule and policy counts
// are already visible via the Kubernetes API, so no gauge duplicates them.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	meterName      = "scriptguard"
	exportInterval = 10 * time.Second
)

// Decision labels the outcome of an admission evaluation.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionError Decision = "error"
)

// Recorder is the narrow interface the webhook server and audit worker
// depend on, so tests can swap in a no-op without standing up a real
// exporter.
type Recorder interface {
	RecordAdmissionDecision(ctx context.Context, ruleName string, decision Decision)
	RecordAuditViolation(ctx context.Context, policyName string)
	Shutdown(ctx context.Context) error
}

// Provider owns the SDK meter provider and the two instruments. Construct
// with New, and call Shutdown during graceful termination to flush the
// final export.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider

	admissionDecisions metric.Int64Counter
	auditViolations    metric.Int64Counter
}

// New dials an OTLP/gRPC exporter at endpoint (insecure, matching the
// in-cluster collector sidecar pattern) and registers a periodic reader
// with it.
func New(ctx context.Context, endpoint string) (*Provider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
	if endpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter(meterName)

	admissionDecisions, err := meter.Int64Counter(
		"scriptguard.admission.decisions",
		metric.WithDescription("Count of admission decisions by rule and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create admission decisions counter: %w", err)
	}

	auditViolations, err := meter.Int64Counter(
		"scriptguard.audit.violations",
		metric.WithDescription("Count of audit violations by policy"),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit violations counter: %w", err)
	}

	return &Provider{
		meterProvider:      mp,
		admissionDecisions: admissionDecisions,
		auditViolations:    auditViolations,
	}, nil
}

// RecordAdmissionDecision increments the admission-decision counter for
// ruleName/decision.
func (p *Provider) RecordAdmissionDecision(ctx context.Context, ruleName string, decision Decision) {
	p.admissionDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule", ruleName),
		attribute.String("decision", string(decision)),
	))
}

// RecordAuditViolation increments the audit-violation counter for
// policyName.
func (p *Provider) RecordAuditViolation(ctx context.Context, policyName string) {
	p.auditViolations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", policyName),
	))
}

// Shutdown flushes any buffered metrics and tears down the exporter
// connection. Call with a context bounded by constants.MetricsShutdownTimeout.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}
