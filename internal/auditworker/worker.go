package auditworker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/k8s"
	"github.com/scriptguard/scriptguard/internal/naming"
	"github.com/scriptguard/scriptguard/internal/notify"
	"github.com/scriptguard/scriptguard/internal/script"
)

// discoveryResolver is the subset of internal/discovery.Resolver needed to
// fall back a selector's plural when the policy admission webhook's
// normalization pass did not already fill it in.
type discoveryResolver interface {
	ResourceForKind(group, version, kind string) (string, error)
}

// Result is the outcome of one audit run.
type Result struct {
	Violation bool
	Output    map[string]string
}

// Run fetches cfg's declared resources, evaluates cfg.Code against them,
// and dispatches notifications when the output map is non-empty.
// Audit-path scripts get no capability: their only input is the resources
// this function pre-fetches.
func Run(ctx context.Context, k8sClient *k8s.Client, resolver discoveryResolver, httpClient *http.Client, cfg Config, log logr.Logger) (Result, error) {
	resources, err := fetchResources(ctx, k8sClient, resolver, cfg.Resources)
	if err != nil {
		return Result{}, fmt.Errorf("fetch declared resources for policy %s: %w", cfg.PolicyName, err)
	}

	host := script.New(log, nil)
	output, err := host.EvalAudit(ctx, cfg.Code, script.AuditInput{Resources: resources}, 0)
	if err != nil {
		// A broken or timed-out script is not a violation: log it and let
		// the run count as clean, so a bad policy cannot page anyone.
		log.Error(err, "script evaluation failed", "policy", cfg.PolicyName)
		return Result{}, nil
	}
	if len(output) == 0 {
		return Result{Violation: false}, nil
	}

	// Notification delivery failures are logged by Dispatch and never
	// escalate the exit code: the violation itself already does that.
	notify.Dispatch(ctx, httpClient, cfg.Notifications, notify.Context{
		PolicyName: cfg.PolicyName,
		Output:     output,
	}, log)

	return Result{Violation: true, Output: output}, nil
}

// fetchResources resolves each selector to a single object (when Name is
// set) or a list, preserving selector order so the bound `resources` array a
// script sees lines up with how the CronPolicy declared it.
func fetchResources(ctx context.Context, k8sClient *k8s.Client, resolver discoveryResolver, selectors []rulesv1.ResourceSelector) ([]interface{}, error) {
	resources := make([]interface{}, 0, len(selectors))
	for _, sel := range selectors {
		gvr := resolveGVR(resolver, sel)
		namespace := ""
		if sel.Namespace != nil {
			namespace = *sel.Namespace
		}

		if sel.Name != nil {
			obj, err := k8sClient.GetOpt(ctx, gvr, namespace, *sel.Name)
			if err != nil {
				return nil, fmt.Errorf("get %s %s/%s: %w", sel.Kind, namespace, *sel.Name, err)
			}
			if obj == nil {
				resources = append(resources, nil)
				continue
			}
			resources = append(resources, obj.Object)
			continue
		}

		labelSelector, fieldSelector := "", ""
		if sel.ListParams != nil {
			labelSelector = sel.ListParams.LabelSelector
			fieldSelector = sel.ListParams.FieldSelector
		}
		list, err := k8sClient.List(ctx, gvr, namespace, labelSelector, fieldSelector)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", sel.Kind, err)
		}
		items := make([]interface{}, 0, len(list.Items))
		for i := range list.Items {
			items = append(items, list.Items[i].Object)
		}
		resources = append(resources, items)
	}
	return resources, nil
}

func resolveGVR(resolver discoveryResolver, sel rulesv1.ResourceSelector) k8s.GVR {
	plural := ""
	if sel.Plural != nil {
		plural = *sel.Plural
	} else if resolver != nil {
		if resolved, err := resolver.ResourceForKind(sel.Group, sel.Version, sel.Kind); err == nil {
			plural = resolved
		}
	}
	if plural == "" {
		plural = naming.Pluralize(sel.Kind)
	}
	return k8s.GVR{Group: sel.Group, Version: sel.Version, Resource: plural}
}
