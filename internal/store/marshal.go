package store

import (
	"fmt"

	"github.com/roach88/resgraph/internal/ir"
)

// marshalValue converts a node value to canonical JSON TEXT for storage.
func marshalValue(v ir.Value) (string, error) {
	if v == nil {
		v = ir.Null{}
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses stored JSON TEXT back to a value.
func unmarshalValue(data string) (ir.Value, error) {
	if data == "" {
		return ir.Null{}, nil
	}
	v, err := ir.Unmarshal([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}
