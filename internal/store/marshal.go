package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/fieldlogic/internal/ir"
)

// marshalValue converts a form value to canonical JSON TEXT for storage.
// Canonical JSON keeps stored values byte-identical across replays.
func marshalValue(v any) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses stored JSON TEXT back into a JSON-native value.
func unmarshalValue(data string) (any, error) {
	if data == "" || data == "null" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return ir.Normalize(v), nil
}

// unmarshalObject parses stored JSON TEXT into an object. Empty text and
// null decode to nil.
func unmarshalObject(data string) (map[string]any, error) {
	v, err := unmarshalValue(data)
	if err != nil || v == nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unmarshal object: got %T", v)
	}
	return m, nil
}

// marshalErrors stores per-field error kinds as canonical JSON.
func marshalErrors(errs map[string][]string) (string, error) {
	if len(errs) == 0 {
		return "{}", nil
	}
	return marshalValue(errs)
}

func unmarshalErrors(data string) (map[string][]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var out map[string][]string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal errors: %w", err)
	}
	return out, nil
}
