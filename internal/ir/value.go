package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface representing the values a node can hold.
// Only Null, String, Int, Float, Bool and Array implement it.
type Value interface {
	irValue() // Sealed - only these types implement it
}

// Null is the value of a node that has never been written.
type Null struct{}

func (Null) irValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string node value.
type String string

func (String) irValue() {}

// Int is an integer node value. Always int64.
type Int int64

func (Int) irValue() {}

// Float is a floating point node value (sensor readings, setpoints).
type Float float64

func (Float) irValue() {}

// Bool is a boolean node value.
type Bool bool

func (Bool) irValue() {}

// Array is an ordered list of values (schedules, sample buffers).
type Array []Value

func (Array) irValue() {}

// Equal reports whether two values are identical in type and content.
// A nil Value equals Null. NaN floats compare equal to each other so that
// repeated NaN writes count as "unchanged".
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		if !ok {
			return false
		}
		if math.IsNaN(float64(av)) && math.IsNaN(float64(bv)) {
			return true
		}
		return av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Truthy interprets a value as a flag. Null counts as absent and reports
// ok=false; non-bool values also report ok=false.
func Truthy(v Value) (value bool, ok bool) {
	b, isBool := v.(Bool)
	if !isBool {
		return false, false
	}
	return bool(b), true
}

// FromAny converts a decoded YAML/JSON value into a Value.
// Integers stay Int, numbers with a fractional part become Float.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of int64 range: %d", val)
		}
		return Int(int64(val)), nil
	case float64:
		return Float(val), nil
	case float32:
		return Float(float64(val)), nil
	case json.Number:
		return numberValue(string(val))
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// Unmarshal decodes JSON into a Value. Numbers without a fraction or
// exponent decode as Int, all other numbers as Float.
func Unmarshal(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

func numberValue(s string) (Value, error) {
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q: %w", s, err)
		}
		return Float(f), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("number out of int64 range: %s", s)
	}
	return Int(n), nil
}

// Format renders a value for logs and CLI output.
func Format(v Value) string {
	if v == nil {
		return "null"
	}
	data, err := MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%T>", v)
	}
	return string(data)
}
