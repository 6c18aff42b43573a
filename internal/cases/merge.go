package cases

import (
	"fmt"

	"dario.cat/mergo"

	"github.com/thridium/casetrack/model"
)

// MergeStepValue folds one partial contribution into a step's accumulated
// slot. It is pure and deterministic; the precedence is evaluated in order:
//
//  1. absent/empty slot: the contribution is taken verbatim, no merge.
//  2. array slot: the contribution is appended as one new element; the
//     array is never flattened into the contribution.
//  3. object slot: deep structural merge. Shared array-valued keys
//     concatenate, shared object-valued keys recurse, scalar conflicts
//     resolve in favour of the contribution. Keys present only in the
//     existing slot are retained.
//
// The same function runs on both write paths: advancing a case (the merged
// value goes out with the task completion) and the not-ready path (the
// merged value is patched onto the instance with the step left pending).
func MergeStepValue(existing, incoming any) (any, error) {
	slot := model.StepValueOf(existing)

	switch slot.Kind {
	case model.StepValueAbsent:
		return incoming, nil

	case model.StepValueArray:
		out := make([]any, 0, len(slot.Array)+1)
		out = append(out, slot.Array...)
		return append(out, incoming), nil

	default:
		incomingMap, ok := incoming.(map[string]any)
		if !ok {
			// A non-object contribution cannot be key-merged into an
			// object slot; the contribution wins, matching the scalar
			// conflict rule.
			return incoming, nil
		}
		merged := deepCopyMap(slot.Object)
		if err := mergo.Merge(&merged, incomingMap,
			mergo.WithOverride,
			mergo.WithAppendSlice); err != nil {
			return nil, fmt.Errorf("cases: merging step value: %w", err)
		}
		return merged, nil
	}
}

// deepCopyMap clones a decoded JSON object so that merging never mutates
// the value read from the engine.
func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return deepCopyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, elem := range typed {
			out[i] = deepCopyValue(elem)
		}
		return out
	default:
		return v
	}
}
