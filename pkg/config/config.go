// Package config provides layered configuration loading: struct defaults,
// then an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

type loader struct {
	envPrefix string
	optional  bool
}

// Option configures Load.
type Option func(*loader)

// WithEnvPrefix overlays environment variables starting with prefix. The rest
// of the name maps to a key by lower-casing it and reading "__" as a level
// separator: APP_HTTP__PORT with prefix "APP_" sets http.port.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) { l.envPrefix = prefix }
}

// Optional makes a missing config file fall back to defaults and env only.
func Optional() Option {
	return func(l *loader) { l.optional = true }
}

// Load fills target, which should already hold the defaults, from filename and
// the environment, then validates it if it implements Validator.
func Load[T any](filename string, target *T, opts ...Option) error {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}

	k := koanf.New(".")

	if filename != "" {
		_, err := os.Stat(filename)
		switch {
		case err == nil:
			if err := k.Load(file.Provider(filename), yaml.Parser()); err != nil {
				return fmt.Errorf("failed to parse config file %s: %w", filename, err)
			}
		case errors.Is(err, os.ErrNotExist) && l.optional:
		default:
			return fmt.Errorf("failed to read config file %s: %w", filename, err)
		}
	}

	if l.envPrefix != "" {
		prefix := l.envPrefix
		provider := env.Provider(prefix, ".", func(s string) string {
			s = strings.ToLower(strings.TrimPrefix(s, prefix))
			return strings.ReplaceAll(s, "__", ".")
		})
		if err := k.Load(provider, nil); err != nil {
			return fmt.Errorf("failed to load env config: %w", err)
		}
	}

	if err := k.UnmarshalWithConf("", target, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

// MustLoad loads configuration and panics on failure.
func MustLoad[T any](filename string, target *T, opts ...Option) {
	if err := Load(filename, target, opts...); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
}
