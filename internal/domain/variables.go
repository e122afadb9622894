package domain

import (
	"encoding/json"
	"reflect"

	"dario.cat/mergo"
	gojson "github.com/goccy/go-json"
)

// VariableWrite is a single key/value a Parallel or ForEach arm wants to
// apply to the execution's shared variable set once the arm completes.
type VariableWrite struct {
	Key   string
	Value json.RawMessage
}

// MergeArmVariables merges the variable writes produced by sibling arms of a
// Parallel or ForEach node. Two arms writing different values to the same
// key is a ConcurrentVariableConflict; the same key written to equal values
// by multiple arms is not an error. The caller folds the result into
// whatever base variable set (an enclosing scope or exec.Variables) is
// live at the join point; nothing here needs to know about that base since
// every arm's writes are staged separately and only ever added, never
// compared against a pre-existing value.
func MergeArmVariables(armWrites [][]VariableWrite) (map[string]json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)

	seen := make(map[string]json.RawMessage)
	for _, writes := range armWrites {
		for _, w := range writes {
			if prior, ok := seen[w.Key]; ok && !jsonEqual(prior, w.Value) {
				return nil, NewConcurrentVariableConflictError(w.Key)
			}
			seen[w.Key] = w.Value
			merged[w.Key] = w.Value
		}
	}
	return merged, nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if err := gojson.Unmarshal(a, &av); err != nil {
		return string(a) == string(b)
	}
	if err := gojson.Unmarshal(b, &bv); err != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(av, bv)
}

// MergeOutputs deep-merges two JSON-encoded outputs, combining an accumulated
// value with a newly produced result. The scheduler does not call it; a
// Nested node's output is the child's own final output. Objects merge key-by-key with
// override semantics; arrays are concatenated; anything else is replaced.
func MergeOutputs(current, result json.RawMessage) (json.RawMessage, error) {
	if len(current) == 0 {
		return result, nil
	}
	if len(result) == 0 {
		return current, nil
	}

	var currentData, resultData interface{}
	if err := gojson.Unmarshal(current, &currentData); err != nil {
		return nil, NewStorageError("unmarshal_current_output", err)
	}
	if err := gojson.Unmarshal(result, &resultData); err != nil {
		return nil, NewStorageError("unmarshal_result_output", err)
	}

	switch {
	case isObject(currentData) && isObject(resultData):
		currentMap := currentData.(map[string]interface{})
		resultMap := resultData.(map[string]interface{})

		if err := mergo.Merge(&currentMap, resultMap, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return nil, NewStorageError("merge_outputs", err)
		}

		merged, err := gojson.Marshal(currentMap)
		if err != nil {
			return nil, NewStorageError("marshal_merged_output", err)
		}
		return merged, nil

	case isArray(currentData) && isArray(resultData):
		currentSlice := currentData.([]interface{})
		resultSlice := resultData.([]interface{})

		merged := make([]interface{}, 0, len(currentSlice)+len(resultSlice))
		merged = append(merged, currentSlice...)
		merged = append(merged, resultSlice...)

		mergedBytes, err := gojson.Marshal(merged)
		if err != nil {
			return nil, NewStorageError("marshal_merged_array", err)
		}
		return mergedBytes, nil

	default:
		return result, nil
	}
}

// CollectForEach assembles ordered arm outputs into a single JSON array,
// preserving input order regardless of the order in which arms completed.
func CollectForEach(results []json.RawMessage) (json.RawMessage, error) {
	normalized := make([]json.RawMessage, len(results))
	for i, r := range results {
		if len(r) == 0 {
			normalized[i] = json.RawMessage("null")
			continue
		}
		normalized[i] = r
	}
	out, err := gojson.Marshal(normalized)
	if err != nil {
		return nil, NewStorageError("marshal_foreach_collection", err)
	}
	return out, nil
}

func isObject(v interface{}) bool {
	_, ok := v.(map[string]interface{})
	return ok
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}
