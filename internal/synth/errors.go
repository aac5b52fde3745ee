package synth

import (
	"errors"
	"fmt"
)

var (
	ErrReservedName     = errors.New("synth: entity name ends with reserved suffix \"Schema\"")
	ErrUnsupportedField = errors.New("synth: unsupported field type")
	ErrFieldCollision   = errors.New("synth: field name collision")
	ErrUnknownTarget    = errors.New("synth: unknown relationship target")
)

// ConfigError — ошибка конфигурации сущностей. Прерывает синтез целиком.
type ConfigError struct {
	Entity string
	Field  string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Entity, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(entity, field string, err error) error {
	return &ConfigError{Entity: entity, Field: field, Err: err}
}
