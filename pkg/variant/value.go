// Package variant provides the tagged value representation exchanged
// between endpoints. The network layer is written once against Value
// instead of once per primitive type.
package variant

import (
	"fmt"
	"strings"
)

// Type is the discriminant of a Value.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeVoid
	TypeBoolean
	TypeInt32
	TypeInt64
	TypeFloat64
	TypeString
)

// String returns the type name as used in configuration files and logs.
func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeBoolean:
		return "boolean"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	default:
		return "invalid"
	}
}

// ParseType resolves a type name from a configuration file.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "void":
		return TypeVoid, nil
	case "bool", "boolean":
		return TypeBoolean, nil
	case "int32":
		return TypeInt32, nil
	case "int", "int64":
		return TypeInt64, nil
	case "float", "double", "float64":
		return TypeFloat64, nil
	case "string":
		return TypeString, nil
	default:
		return TypeInvalid, fmt.Errorf("unknown value type %q", name)
	}
}

// Value is a typed, fixed-length array of elements. A scalar is an array
// of length one. Void values carry no elements and are used for trigger
// pulses.
type Value struct {
	typ   Type
	b     []bool
	i32   []int32
	i64   []int64
	f64   []float64
	s     []string
	nElem int
}

// Void returns the value used for trigger pulses.
func Void() Value {
	return Value{typ: TypeVoid}
}

// Booleans wraps a boolean array.
func Booleans(v ...bool) Value {
	return Value{typ: TypeBoolean, b: v, nElem: len(v)}
}

// Int32s wraps an int32 array.
func Int32s(v ...int32) Value {
	return Value{typ: TypeInt32, i32: v, nElem: len(v)}
}

// Int64s wraps an int64 array.
func Int64s(v ...int64) Value {
	return Value{typ: TypeInt64, i64: v, nElem: len(v)}
}

// Float64s wraps a float64 array.
func Float64s(v ...float64) Value {
	return Value{typ: TypeFloat64, f64: v, nElem: len(v)}
}

// Strings wraps a string array.
func Strings(v ...string) Value {
	return Value{typ: TypeString, s: v, nElem: len(v)}
}

// Zero returns the zero value of the given type and element count.
func Zero(t Type, nElements int) Value {
	switch t {
	case TypeVoid:
		return Void()
	case TypeBoolean:
		return Booleans(make([]bool, nElements)...)
	case TypeInt32:
		return Int32s(make([]int32, nElements)...)
	case TypeInt64:
		return Int64s(make([]int64, nElements)...)
	case TypeFloat64:
		return Float64s(make([]float64, nElements)...)
	case TypeString:
		return Strings(make([]string, nElements)...)
	default:
		return Value{}
	}
}

// Type returns the discriminant.
func (v Value) Type() Type { return v.typ }

// NElements returns the element count. Void and invalid values have zero
// elements.
func (v Value) NElements() int { return v.nElem }

// IsValid reports whether the value carries a known type.
func (v Value) IsValid() bool { return v.typ != TypeInvalid }

// AsBooleans extracts the boolean array.
func (v Value) AsBooleans() ([]bool, error) {
	if v.typ != TypeBoolean {
		return nil, fmt.Errorf("value is %s, not boolean", v.typ)
	}
	return v.b, nil
}

// AsInt32s extracts the int32 array.
func (v Value) AsInt32s() ([]int32, error) {
	if v.typ != TypeInt32 {
		return nil, fmt.Errorf("value is %s, not int32", v.typ)
	}
	return v.i32, nil
}

// AsInt64s extracts the int64 array.
func (v Value) AsInt64s() ([]int64, error) {
	if v.typ != TypeInt64 {
		return nil, fmt.Errorf("value is %s, not int64", v.typ)
	}
	return v.i64, nil
}

// AsFloat64s extracts the float64 array.
func (v Value) AsFloat64s() ([]float64, error) {
	if v.typ != TypeFloat64 {
		return nil, fmt.Errorf("value is %s, not float64", v.typ)
	}
	return v.f64, nil
}

// AsStrings extracts the string array.
func (v Value) AsStrings() ([]string, error) {
	if v.typ != TypeString {
		return nil, fmt.Errorf("value is %s, not string", v.typ)
	}
	return v.s, nil
}

// ScalarInt64 extracts a scalar as int64, converting from any integer type.
func (v Value) ScalarInt64() (int64, error) {
	switch v.typ {
	case TypeInt32:
		if len(v.i32) != 1 {
			return 0, fmt.Errorf("value has %d elements, not scalar", len(v.i32))
		}
		return int64(v.i32[0]), nil
	case TypeInt64:
		if len(v.i64) != 1 {
			return 0, fmt.Errorf("value has %d elements, not scalar", len(v.i64))
		}
		return v.i64[0], nil
	default:
		return 0, fmt.Errorf("value is %s, not an integer", v.typ)
	}
}

// ScalarFloat64 extracts a scalar float64.
func (v Value) ScalarFloat64() (float64, error) {
	if v.typ != TypeFloat64 || len(v.f64) != 1 {
		return 0, fmt.Errorf("value is %s with %d elements, not a scalar float64", v.typ, v.nElem)
	}
	return v.f64[0], nil
}

// ScalarBoolean extracts a scalar boolean.
func (v Value) ScalarBoolean() (bool, error) {
	if v.typ != TypeBoolean || len(v.b) != 1 {
		return false, fmt.Errorf("value is %s with %d elements, not a scalar boolean", v.typ, v.nElem)
	}
	return v.b[0], nil
}

// ScalarString extracts a scalar string.
func (v Value) ScalarString() (string, error) {
	if v.typ != TypeString || len(v.s) != 1 {
		return "", fmt.Errorf("value is %s with %d elements, not a scalar string", v.typ, v.nElem)
	}
	return v.s[0], nil
}

// Equal reports whether two values have the same type and elements.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ || v.nElem != other.nElem {
		return false
	}
	switch v.typ {
	case TypeBoolean:
		return slicesEqual(v.b, other.b)
	case TypeInt32:
		return slicesEqual(v.i32, other.i32)
	case TypeInt64:
		return slicesEqual(v.i64, other.i64)
	case TypeFloat64:
		return slicesEqual(v.f64, other.f64)
	case TypeString:
		return slicesEqual(v.s, other.s)
	default:
		return true
	}
}

// Clone returns a deep copy so a fan-out can hand independent buffers to
// each consumer.
func (v Value) Clone() Value {
	out := Value{typ: v.typ, nElem: v.nElem}
	switch v.typ {
	case TypeBoolean:
		out.b = append([]bool(nil), v.b...)
	case TypeInt32:
		out.i32 = append([]int32(nil), v.i32...)
	case TypeInt64:
		out.i64 = append([]int64(nil), v.i64...)
	case TypeFloat64:
		out.f64 = append([]float64(nil), v.f64...)
	case TypeString:
		out.s = append([]string(nil), v.s...)
	}
	return out
}

// String renders the value for logs and diagnostics.
func (v Value) String() string {
	switch v.typ {
	case TypeVoid:
		return "void{}"
	case TypeBoolean:
		return fmt.Sprintf("boolean%v", v.b)
	case TypeInt32:
		return fmt.Sprintf("int32%v", v.i32)
	case TypeInt64:
		return fmt.Sprintf("int64%v", v.i64)
	case TypeFloat64:
		return fmt.Sprintf("float64%v", v.f64)
	case TypeString:
		return fmt.Sprintf("string%v", v.s)
	default:
		return "invalid{}"
	}
}

func slicesEqual[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
