package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/go-logr/logr"
)

// registerHelpers binds every pure and capability-gated helper onto a
// fresh runtime.
func registerHelpers(vm *goja.Runtime, cap Capability, ctx context.Context, logger logr.Logger) error {
	bindings := map[string]interface{}{
		"toJsonString": helperToJSONString,
		"debugPrint":   helperDebugPrint(logger),
		"deepCopy":     helperDeepCopy,
		"jsonPatchDiff": func(before, after interface{}) interface{} {
			patch, err := jsonPatchFromDiff(before, after)
			if err != nil {
				panic(vm.ToValue(err.Error()))
			}
			return patch
		},
		"startsWith": func(s, prefix string) bool { return strings.HasPrefix(s, prefix) },
		"endsWith":   func(s, suffix string) bool { return strings.HasSuffix(s, suffix) },
		"lookup":     helperLookup,
		"kubeGet":    helperKubeGet(ctx, cap, vm),
		"kubeList":   helperKubeList(ctx, cap, vm),
	}

	for name, fn := range bindings {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("cannot register helper %s: %w", name, err)
		}
	}
	return nil
}

func helperToJSONString(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func helperDebugPrint(logger logr.Logger) func(v interface{}) {
	return func(v interface{}) {
		logger.Info("debugPrint", "value", v)
	}
}

// helperDeepCopy round-trips through JSON, which is sufficient since every
// value reachable from script-land is itself JSON-serializable (admission
// requests, audit resources, and program outputs all are).
func helperDeepCopy(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// helperLookup performs safe nested traversal: it returns nil the moment a
// key is missing or an intermediate value isn't a mapping, rather than
// raising.
func helperLookup(v interface{}, keys ...string) interface{} {
	current := v
	for _, k := range keys {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		next, present := m[k]
		if !present {
			return nil
		}
		current = next
	}
	return current
}

func helperKubeGet(ctx context.Context, cap Capability, vm *goja.Runtime) func(args KubeGetArgs) interface{} {
	return func(args KubeGetArgs) interface{} {
		if cap == nil {
			panic(vm.ToValue("kubeGet requires a rule with a serviceAccount"))
		}
		obj, err := cap.KubeGet(ctx, args)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		if obj == nil {
			return nil
		}
		return obj
	}
}

func helperKubeList(ctx context.Context, cap Capability, vm *goja.Runtime) func(args KubeListArgs) interface{} {
	return func(args KubeListArgs) interface{} {
		if cap == nil {
			panic(vm.ToValue("kubeList requires a rule with a serviceAccount"))
		}
		items, err := cap.KubeList(ctx, args)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return items
	}
}
