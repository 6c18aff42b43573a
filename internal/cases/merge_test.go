package cases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeStepValue_absent_takes_incoming_verbatim(t *testing.T) {
	incoming := map[string]any{"score": 0.9, "names": []any{"alice"}}

	for _, existing := range []any{nil, map[string]any{}, "stray-scalar"} {
		got, err := MergeStepValue(existing, incoming)
		require.NoError(t, err)
		assert.Equal(t, incoming, got, "existing=%v", existing)
	}
}

func TestMergeStepValue_array_appends_one_element(t *testing.T) {
	existing := []any{
		map[string]any{"resIndex": "r1"},
		map[string]any{"resIndex": "r2"},
	}
	incoming := map[string]any{"resIndex": "r3"}

	got, err := MergeStepValue(existing, incoming)
	require.NoError(t, err)

	arr, ok := got.([]any)
	require.True(t, ok, "merged value should stay an array")
	require.Len(t, arr, 3)
	assert.Equal(t, existing[0], arr[0])
	assert.Equal(t, existing[1], arr[1])
	assert.Equal(t, incoming, arr[2])
}

func TestMergeStepValue_array_never_flattens_incoming_array(t *testing.T) {
	existing := []any{map[string]any{"resIndex": "r1"}}
	incoming := []any{map[string]any{"resIndex": "r2"}, map[string]any{"resIndex": "r3"}}

	got, err := MergeStepValue(existing, incoming)
	require.NoError(t, err)

	arr := got.([]any)
	require.Len(t, arr, 2)
	assert.Equal(t, incoming, arr[1], "incoming array appended as a single element")
}

func TestMergeStepValue_object_deep_merge(t *testing.T) {
	existing := map[string]any{
		"onlyExisting": "kept",
		"tags":         []any{"a"},
		"nested": map[string]any{
			"keep":  1,
			"clash": "old",
		},
		"score": 0.9,
	}
	incoming := map[string]any{
		"tags": []any{"b"},
		"nested": map[string]any{
			"clash": "new",
			"added": true,
		},
		"score": 0.95,
	}

	got, err := MergeStepValue(existing, incoming)
	require.NoError(t, err)

	merged, ok := got.(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "kept", merged["onlyExisting"])
	assert.Equal(t, []any{"a", "b"}, merged["tags"], "shared array keys concatenate")
	assert.Equal(t, 0.95, merged["score"], "scalar conflicts resolve to incoming")

	nested := merged["nested"].(map[string]any)
	assert.Equal(t, 1, nested["keep"])
	assert.Equal(t, "new", nested["clash"])
	assert.Equal(t, true, nested["added"])
}

func TestMergeStepValue_does_not_mutate_existing(t *testing.T) {
	existing := map[string]any{
		"tags":   []any{"a"},
		"nested": map[string]any{"clash": "old"},
	}
	incoming := map[string]any{
		"tags":   []any{"b"},
		"nested": map[string]any{"clash": "new"},
	}

	_, err := MergeStepValue(existing, incoming)
	require.NoError(t, err)

	assert.Equal(t, []any{"a"}, existing["tags"])
	assert.Equal(t, "old", existing["nested"].(map[string]any)["clash"])
}

func TestMergeStepValue_is_deterministic(t *testing.T) {
	existing := map[string]any{"a": []any{1.0}, "b": map[string]any{"x": "1"}}
	incoming := map[string]any{"a": []any{2.0}, "b": map[string]any{"y": "2"}}

	first, err := MergeStepValue(existing, incoming)
	require.NoError(t, err)
	second, err := MergeStepValue(existing, incoming)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
