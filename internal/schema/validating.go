package schema

import (
	"context"
	"errors"
	"fmt"
)

// Session — живой дескриптор доступа к данным, которым validating-схема
// проверяет существование записей, на которые ссылается клиент.
type Session interface {
	Exists(ctx context.Context, table string, id any) (bool, error)
}

var ErrNoSession = errors.New("schema: validating schema requires a session")

// Validating — схема чтения/записи, привязанная к сессии.
// Поля-связи принимают первичные ключи целевых записей, computed-поля только отдаются.
// Единственный артефакт, из результата которого можно создать или изменить запись.
type Validating struct {
	*Model
	session Session
}

func NewValidating(m *Model, s Session) (*Validating, error) {
	if s == nil {
		return nil, ErrNoSession
	}
	if m.variant != VariantValidating {
		return nil, fmt.Errorf("schema: %s is a %s model, not validating", m.name, m.variant)
	}
	return &Validating{Model: m, session: s}, nil
}

func (v *Validating) Session() Session { return v.session }

// Load валидирует вход клиента для создания записи. Результат содержит только
// записываемые поля; ссылки проверены на существование.
func (v *Validating) Load(ctx context.Context, obj map[string]any) (map[string]any, error) {
	return v.load(ctx, obj, mode{load: true})
}

// LoadPartial — для частичного обновления: отсутствующие поля не обязательны.
func (v *Validating) LoadPartial(ctx context.Context, obj map[string]any) (map[string]any, error) {
	return v.load(ctx, obj, mode{load: true, partial: true})
}

func (v *Validating) load(ctx context.Context, obj map[string]any, md mode) (map[string]any, error) {
	var errs []FieldError
	for _, f := range v.fields {
		if _, ok := obj[f.Name]; ok && f.ReadOnly {
			errs = append(errs, ferr(ErrReadOnly, f.Name, "Field '"+f.Name+"' is read-only"))
		}
	}

	out, verrs := v.validate(obj, "", md)
	errs = append(errs, verrs...)
	if len(errs) > 0 {
		return nil, &ValidationError{Model: v.name, Errors: errs}
	}

	refErrs, err := v.checkRefs(ctx, out)
	if err != nil {
		return nil, err
	}
	if len(refErrs) > 0 {
		return nil, &ValidationError{Model: v.name, Errors: refErrs}
	}
	return out, nil
}

// checkRefs проверяет существование каждой переданной ссылки (одиночной и списка).
func (v *Validating) checkRefs(ctx context.Context, out map[string]any) ([]FieldError, error) {
	var errs []FieldError
	for _, f := range v.fields {
		if f.Ref == nil {
			continue
		}
		val, ok := out[f.Name]
		if !ok || val == nil {
			continue
		}
		ids := []any{val}
		if f.Ref.Many {
			ids, _ = val.([]any)
		}
		for _, id := range ids {
			found, err := v.session.Exists(ctx, f.Ref.Table, id)
			if err != nil {
				return nil, fmt.Errorf("check %s reference %v: %w", f.Name, id, err)
			}
			if !found {
				errs = append(errs, ferr(ErrRefNotFound, f.Name,
					fmt.Sprintf("Referenced '%s' %v not found", f.Ref.Entity, id)))
				break
			}
		}
	}
	return errs, nil
}

// Dump сериализует запись (включая computed-поля) по схеме.
func (v *Validating) Dump(row map[string]any) (map[string]any, error) {
	return v.Validate(row)
}
