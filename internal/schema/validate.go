package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldError — ошибка одного поля.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок валидации
const (
	ErrRequired     = "required"
	ErrTypeMismatch = "type_mismatch"
	ErrEnumInvalid  = "enum_invalid"
	ErrRefNotFound  = "ref_not_found"
	ErrReadOnly     = "readonly_field"
	ErrUnresolvable = "unresolved_ref"
)

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// ValidationError собирает все ошибки полей одной модели.
type ValidationError struct {
	Model  string
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("%s: %d validation error(s): %s", e.Model, len(e.Errors), strings.Join(parts, "; "))
}

// Has проверяет, есть ли ошибка с данным кодом.
func (e *ValidationError) Has(code string) bool {
	for _, fe := range e.Errors {
		if fe.Code == code {
			return true
		}
	}
	return false
}

// AsValidation достаёт *ValidationError из цепочки ошибок.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

type mode struct {
	partial bool // PATCH: отсутствующие поля не трогаем
	load    bool // вход клиента: readonly пропускаем, AutoKey может отсутствовать
}

// Validate проверяет и нормализует obj под модель. Неизвестные ключи отбрасываются,
// отсутствующие получают значение по политике умолчания.
// Вложенные forward-ссылки разрешаются здесь, при первом использовании.
func (m *Model) Validate(obj map[string]any) (map[string]any, error) {
	return m.run(obj, mode{})
}

// ValidatePartial — как Validate, но отсутствующие поля не обязательны и не заполняются.
func (m *Model) ValidatePartial(obj map[string]any) (map[string]any, error) {
	return m.run(obj, mode{partial: true})
}

func (m *Model) run(obj map[string]any, md mode) (map[string]any, error) {
	out, errs := m.validate(obj, "", md)
	if len(errs) > 0 {
		return nil, &ValidationError{Model: m.name, Errors: errs}
	}
	return out, nil
}

func (m *Model) validate(obj map[string]any, prefix string, md mode) (map[string]any, []FieldError) {
	var errs []FieldError
	out := make(map[string]any, len(m.fields))

	for _, f := range m.fields {
		if md.load && f.ReadOnly {
			continue
		}
		path := prefix + f.Name
		v, ok := obj[f.Name]
		if !ok {
			if md.partial || (md.load && f.AutoKey) {
				continue
			}
			if _, given := obj[f.Pair]; f.Pair != "" && given {
				continue
			}
			switch f.Default {
			case DefaultNull:
				out[f.Name] = nil
			case DefaultEmptyList:
				out[f.Name] = []any{}
			default:
				errs = append(errs, ferr(ErrRequired, path, "Field '"+path+"' is required"))
			}
			continue
		}
		if md.load && f.AutoKey && v == nil {
			continue
		}
		norm, ferrs := m.coerce(f.Type, v, path)
		if len(ferrs) > 0 {
			errs = append(errs, ferrs...)
			continue
		}
		out[f.Name] = norm
	}
	if len(errs) == 0 {
		errs = m.checkPairs(out, prefix)
	}
	return out, errs
}

// checkPairs: FK-колонка и её belongs_to, переданные вместе, указывают на одну запись.
func (m *Model) checkPairs(out map[string]any, prefix string) []FieldError {
	var errs []FieldError
	for _, f := range m.fields {
		if f.Pair == "" || f.Ref == nil || f.Name > f.Pair {
			continue
		}
		a, okA := out[f.Name]
		b, okB := out[f.Pair]
		if !okA || !okB || sameValue(a, b) {
			continue
		}
		path := prefix + f.Name
		errs = append(errs, ferr(ErrTypeMismatch, path,
			fmt.Sprintf("Field '%s' disagrees with '%s'", path, prefix+f.Pair)))
	}
	return errs
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func (m *Model) coerce(t Type, v any, path string) (any, []FieldError) {
	if t.Kind == KindNullable {
		if v == nil {
			return nil, nil
		}
		return m.coerce(*t.Elem, v, path)
	}
	if v == nil {
		return nil, []FieldError{ferr(ErrTypeMismatch, path, "Field '"+path+"' must not be null")}
	}

	switch t.Kind {
	case KindList:
		items, ok := asSlice(v)
		if !ok {
			return nil, []FieldError{ferr(ErrTypeMismatch, path, "Field '"+path+"' must be an array")}
		}
		out := make([]any, 0, len(items))
		var errs []FieldError
		for i, it := range items {
			norm, ferrs := m.coerce(*t.Elem, it, fmt.Sprintf("%s[%d]", path, i))
			if len(ferrs) > 0 {
				errs = append(errs, ferrs...)
				continue
			}
			out = append(out, norm)
		}
		return out, errs

	case KindRef:
		target, err := m.ns.Lookup(t.Ref)
		if err != nil {
			return nil, []FieldError{ferr(ErrUnresolvable, path, err.Error())}
		}
		nested, ok := asObject(v)
		if !ok {
			return nil, []FieldError{ferr(ErrTypeMismatch, path, "Field '"+path+"' must be an object")}
		}
		norm, errs := target.validate(nested, path+".", mode{})
		if len(errs) > 0 {
			return nil, errs
		}
		return norm, nil
	}

	norm, err := coercePrimitive(t, v)
	if err != nil {
		code := ErrTypeMismatch
		if errors.Is(err, errEnum) {
			code = ErrEnumInvalid
		}
		return nil, []FieldError{ferr(code, path, "Field '"+path+"' "+err.Error())}
	}
	return norm, nil
}

var (
	dateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`) // YYYY-MM-DD
	errEnum = errors.New("value is not allowed")
)

// Coerce приводит одиночное значение к примитивному типу t (без обёрток).
func Coerce(t Type, v any) (any, error) {
	return coercePrimitive(t.Base(), v)
}

// coercePrimitive приводит значение к каноническому виду:
// int -> int64, float -> float64, date -> "YYYY-MM-DD", datetime -> RFC3339 (UTC).
func coercePrimitive(t Type, v any) (any, error) {
	switch t.Kind {
	case KindString:
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if len(t.Enum) > 0 {
			for _, ev := range t.Enum {
				if s == ev {
					return s, nil
				}
			}
			return nil, fmt.Errorf("%w: '%s'", errEnum, s)
		}
		return s, nil
	case KindInt:
		return toIntStrict(v)
	case KindFloat:
		return toFloatStrict(v)
	case KindBool:
		return toBoolStrict(v)
	case KindDate:
		if tm, ok := v.(time.Time); ok {
			return tm.Format("2006-01-02"), nil
		}
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if !dateRe.MatchString(s) {
			return nil, errors.New("must match YYYY-MM-DD")
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, errors.New("invalid date")
		}
		return s, nil
	case KindDateTime:
		if tm, ok := v.(time.Time); ok {
			return tm.UTC().Format(time.RFC3339), nil
		}
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		tm, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errors.New("must be RFC3339 datetime")
		}
		return tm.UTC().Format(time.RFC3339), nil
	case KindUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return u.String(), nil
		case [16]byte:
			return uuid.UUID(u).String(), nil
		}
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.New("must be uuid")
		}
		return u.String(), nil
	case KindJSON:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", t.Kind)
	}
}

func toStringStrict(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		// числа в строки не превращаем
		return "", errors.New("must be string")
	}
}

func toIntStrict(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint32:
		return int64(t), nil
	case float64:
		// JSON числа приходят как float64 — проверяем целостность
		if t != math.Trunc(t) || t < -(1<<63) || t >= 1<<63 {
			return 0, errors.New("must be integer")
		}
		return int64(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, errors.New("must be integer")
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.New("must be integer")
		}
		return n, nil
	default:
		return 0, errors.New("must be integer")
	}
}

func toFloatStrict(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, errors.New("must be float")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be float")
		}
		return f, nil
	default:
		return 0, errors.New("must be float")
	}
}

func toBoolStrict(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		// sqlite хранит bool как 0/1
		if t == 0 || t == 1 {
			return t == 1, nil
		}
		return false, errors.New("must be boolean")
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		default:
			return false, errors.New("must be boolean")
		}
	default:
		return false, errors.New("must be boolean")
	}
}

func asSlice(v any) ([]any, bool) {
	if arr, ok := v.([]any); ok {
		return arr, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case interface{ Fields() map[string]any }:
		return t.Fields(), true
	default:
		return nil, false
	}
}
