// Package script runs the JavaScript programs carried by rules and cron
// policies inside per-evaluation goja sandboxes. Every evaluation gets
// its own *goja.Runtime: sandboxes are never shared across concurrent
// evaluations, and each program runs on a goroutine started for that one
// evaluation.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/go-logr/logr"
	jsonpatch "gomodules.xyz/jsonpatch/v2"
)

// DefaultDeadline is the admission-path default and the ceiling applied to
// any caller-specified timeout.
const DefaultDeadline = 10 * time.Second

// ErrSandboxTimeout is returned when a program does not finish before its
// deadline elapses.
var ErrSandboxTimeout = errors.New("sandbox evaluation timed out")

// Capability is the optional set of Kubernetes read helpers a program may
// call. It is nil unless the rule carries a serviceAccount; goja
// bindings check for nil and raise a JS exception rather than a panic.
type Capability interface {
	KubeGet(ctx context.Context, args KubeGetArgs) (map[string]interface{}, error)
	KubeList(ctx context.Context, args KubeListArgs) ([]interface{}, error)
}

// KubeGetArgs mirrors the object literal scripts pass to kubeGet.
type KubeGetArgs struct {
	Group     string `json:"group"`
	Version   string `json:"version"`
	Kind      string `json:"kind"`
	Plural    string `json:"plural"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// KubeListArgs mirrors the object literal scripts pass to kubeList.
type KubeListArgs struct {
	Group      string      `json:"group"`
	Version    string      `json:"version"`
	Kind       string      `json:"kind"`
	Plural     string      `json:"plural"`
	Namespace  string      `json:"namespace"`
	ListParams *ListParams `json:"listParams"`
}

// ListParams mirrors the spec's ResourceListParams.
type ListParams struct {
	LabelSelector string `json:"labelSelector"`
	FieldSelector string `json:"fieldSelector"`
}

// Host evaluates one program against one input context.
type Host struct {
	logger     logr.Logger
	capability Capability // nil when the rule carries no serviceAccount
}

// New creates a Host. capability may be nil; helpers that need it will then
// raise a JS exception when called.
func New(logger logr.Logger, capability Capability) *Host {
	return &Host{logger: logger, capability: capability}
}

// AdmissionInput is the value injected as `request` on the admission path.
type AdmissionInput struct {
	Request interface{}
}

// AdmissionOutput is the program's yielded mapping on the admission path.
type AdmissionOutput struct {
	DenyReason *string           `json:"denyReason"`
	Patch      []json.RawMessage `json:"patch"`
}

// EvalAdmission runs code with `request` bound to input.Request, under a
// deadline of min(timeoutSeconds, 10) seconds.
func (h *Host) EvalAdmission(ctx context.Context, code string, input AdmissionInput, timeoutSeconds int32) (*AdmissionOutput, error) {
	vm, err := h.newRuntime(ctx)
	if err != nil {
		return nil, err
	}

	if err := vm.Set("request", input.Request); err != nil {
		return nil, fmt.Errorf("cannot bind request: %w", err)
	}

	result, err := h.run(ctx, vm, code, deadlineFor(timeoutSeconds))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &AdmissionOutput{}, nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal program output: %w", err)
	}
	var out AdmissionOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("program output does not match the expected shape: %w", err)
	}
	return &out, nil
}

// AuditInput is the value injected as `resources` on the audit path: an
// ordered list aligned to the policy's resource selectors.
type AuditInput struct {
	Resources []interface{}
}

// EvalAudit runs code with `resources` bound to input.Resources. A non-nil,
// non-empty returned map signals a violation.
func (h *Host) EvalAudit(ctx context.Context, code string, input AuditInput, timeoutSeconds int32) (map[string]string, error) {
	vm, err := h.newRuntime(ctx)
	if err != nil {
		return nil, err
	}

	if err := vm.Set("resources", input.Resources); err != nil {
		return nil, fmt.Errorf("cannot bind resources: %w", err)
	}

	result, err := h.run(ctx, vm, code, deadlineFor(timeoutSeconds))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal program output: %w", err)
	}
	var out struct {
		Output map[string]string `json:"output"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("program output does not match the expected shape: %w", err)
	}
	return out.Output, nil
}

func deadlineFor(timeoutSeconds int32) time.Duration {
	d := DefaultDeadline
	if timeoutSeconds > 0 {
		requested := time.Duration(timeoutSeconds) * time.Second
		if requested < d {
			d = requested
		}
	}
	return d
}

func (h *Host) newRuntime(ctx context.Context) (*goja.Runtime, error) {
	vm := goja.New()
	// Object literals passed to helpers (kubeGet, kubeList) are decoded into
	// KubeGetArgs/KubeListArgs by their json tag names.
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := registerHelpers(vm, h.capability, ctx, h.logger); err != nil {
		return nil, err
	}
	return vm, nil
}

// run executes the program text and returns its final expression value
// (scripts are expected to end in an object-literal expression, matching
// how rule authors write them), enforcing the
// wall-clock deadline via goja's interrupt mechanism.
func (h *Host) run(ctx context.Context, vm *goja.Runtime, code string, deadline time.Duration) (interface{}, error) {
	timer := time.AfterFunc(deadline, func() {
		vm.Interrupt(ErrSandboxTimeout)
	})
	defer timer.Stop()

	done := make(chan struct{})
	var value goja.Value
	var runErr error
	go func() {
		defer close(done)
		value, runErr = vm.RunString(code)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		vm.Interrupt(ctx.Err())
		<-done
	}

	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			return nil, ErrSandboxTimeout
		}
		return nil, fmt.Errorf("script evaluation failed: %w", runErr)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// jsonPatchFromDiff computes an RFC 6902 patch between two JSON-serializable
// values, used by the jsonPatchDiff helper.
func jsonPatchFromDiff(before, after interface{}) (interface{}, error) {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal before value: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal after value: %w", err)
	}
	ops, err := jsonpatch.CreatePatch(beforeJSON, afterJSON)
	if err != nil {
		return nil, fmt.Errorf("cannot compute rfc6902 patch: %w", err)
	}
	var out interface{}
	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal patch ops: %w", err)
	}
	if err := json.Unmarshal(opsJSON, &out); err != nil {
		return nil, fmt.Errorf("cannot unmarshal patch ops: %w", err)
	}
	return out, nil
}
