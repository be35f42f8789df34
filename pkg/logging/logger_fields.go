package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Component field helpers for the runtime's building blocks

func Component(name string) Field {
	return String("component", name)
}

// ModuleField names an application module.
func ModuleField(name string) Field {
	return String("module", name)
}

// EndpointField names an accessor endpoint.
func EndpointField(name string) Field {
	return String("endpoint", name)
}

// NetworkField describes a variable network.
func NetworkField(desc string) Field {
	return String("network", desc)
}

// DeviceField names a device alias.
func DeviceField(alias string) Field {
	return String("device", alias)
}

// ValidityField carries an ok/faulty state.
func ValidityField(v string) Field {
	return String("validity", v)
}

// VersionField carries a version number stamp.
func VersionField(v uint64) Field {
	return Uint64("version", v)
}

func Count(n int) Field {
	return Int("count", n)
}
