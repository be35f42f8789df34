// Package config loads the application configuration: runtime settings
// plus a set of named initial values that are fed as constants into
// otherwise unconnected application inputs.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// VariableSpec declares one configured initial value.
type VariableSpec struct {
	Name     string `yaml:"name" validate:"required"`
	Type     string `yaml:"type" validate:"required,oneof=void boolean int32 int64 float64 string"`
	Unit     string `yaml:"unit"`
	Elements int    `yaml:"elements" validate:"gte=0"`

	// Value holds the scalar or list literal; decoded per Type.
	Value yaml.Node `yaml:"value"`
}

// Config is the top-level application configuration file.
type Config struct {
	AppName      string `yaml:"app_name" validate:"required"`
	LogLevel     string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	QueueDepth   int    `yaml:"queue_depth" validate:"omitempty,gte=1,lte=4096"`
	TestableMode bool   `yaml:"testable_mode"`

	Variables []VariableSpec `yaml:"variables" validate:"dive"`
}

var validate = validator.New()

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Values decodes the configured variables into typed values, keyed by
// variable name.
func (c *Config) Values() (map[string]variant.Value, error) {
	out := make(map[string]variant.Value, len(c.Variables))
	for i := range c.Variables {
		spec := &c.Variables[i]
		if _, dup := out[spec.Name]; dup {
			return nil, fmt.Errorf("config: duplicate variable %q", spec.Name)
		}
		v, err := spec.decode()
		if err != nil {
			return nil, fmt.Errorf("config: variable %q: %w", spec.Name, err)
		}
		out[spec.Name] = v
	}
	return out, nil
}

func (s *VariableSpec) decode() (variant.Value, error) {
	typ, err := variant.ParseType(s.Type)
	if err != nil {
		return variant.Value{}, err
	}
	switch typ {
	case variant.TypeVoid:
		return variant.Void(), nil
	case variant.TypeBoolean:
		var vals []bool
		if err := decodeScalarOrList(&s.Value, &vals); err != nil {
			return variant.Value{}, err
		}
		return variant.Booleans(vals...), nil
	case variant.TypeInt32:
		var vals []int32
		if err := decodeScalarOrList(&s.Value, &vals); err != nil {
			return variant.Value{}, err
		}
		return variant.Int32s(vals...), nil
	case variant.TypeInt64:
		var vals []int64
		if err := decodeScalarOrList(&s.Value, &vals); err != nil {
			return variant.Value{}, err
		}
		return variant.Int64s(vals...), nil
	case variant.TypeFloat64:
		var vals []float64
		if err := decodeScalarOrList(&s.Value, &vals); err != nil {
			return variant.Value{}, err
		}
		return variant.Float64s(vals...), nil
	case variant.TypeString:
		var vals []string
		if err := decodeScalarOrList(&s.Value, &vals); err != nil {
			return variant.Value{}, err
		}
		return variant.Strings(vals...), nil
	default:
		return variant.Value{}, fmt.Errorf("unsupported type %q", s.Type)
	}
}

// decodeScalarOrList accepts both `value: 5` and `value: [1, 2, 3]`.
func decodeScalarOrList[T any](node *yaml.Node, out *[]T) error {
	if node.Kind == yaml.SequenceNode {
		return node.Decode(out)
	}
	var single T
	if err := node.Decode(&single); err != nil {
		return err
	}
	*out = []T{single}
	return nil
}
