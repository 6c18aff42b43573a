package model

// StepValueKind tags the shape of a per-step result slot.
type StepValueKind int

const (
	// StepValueAbsent means the step has no accumulated value yet.
	StepValueAbsent StepValueKind = iota
	// StepValueObject means the slot holds a single result object.
	StepValueObject
	// StepValueArray means the slot holds an append-only list of results.
	StepValueArray
)

func (k StepValueKind) String() string {
	switch k {
	case StepValueAbsent:
		return "absent"
	case StepValueObject:
		return "object"
	case StepValueArray:
		return "array"
	default:
		return "unknown"
	}
}

// StepValue is the polymorphic per-step accumulator inside
// intermediate_results. A slot is absent, a single object, or an array of
// objects. Once a slot becomes an array it only ever grows; once it is an
// object, later writes merge by key rather than replace.
type StepValue struct {
	Kind   StepValueKind
	Object map[string]any
	Array  []any
}

// StepValueOf classifies a raw decoded value into the tagged variant.
// Absent and empty slots are equivalent: both take the next contribution
// verbatim. A stray scalar (contributions are always objects in practice)
// classifies as absent so that the next write simply overwrites it.
func StepValueOf(raw any) StepValue {
	switch v := raw.(type) {
	case []any:
		return StepValue{Kind: StepValueArray, Array: v}
	case map[string]any:
		if len(v) == 0 {
			return StepValue{Kind: StepValueAbsent}
		}
		return StepValue{Kind: StepValueObject, Object: v}
	default:
		return StepValue{Kind: StepValueAbsent}
	}
}

// Interface returns the raw representation suitable for serialization back
// into the intermediate_results container.
func (sv StepValue) Interface() any {
	switch sv.Kind {
	case StepValueArray:
		return sv.Array
	case StepValueObject:
		return sv.Object
	default:
		return nil
	}
}
