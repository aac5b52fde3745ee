// Package synth синтезирует схемы сущностей реестра: flat, full, write и
// validating. Синтез идёт в два прохода через общее пространство имён
// forward-ссылок, поэтому сущности могут ссылаться друг на друга по кругу.
package synth

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

type Option func(*Driver)

func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithExclude исключает атрибуты сущности из всех её схем.
func WithExclude(entity string, fields ...string) Option {
	return func(d *Driver) {
		set := d.exclude[entity]
		if set == nil {
			set = map[string]bool{}
			d.exclude[entity] = set
		}
		for _, f := range fields {
			set[f] = true
		}
	}
}

// Driver — один прогон синтеза по реестру.
type Driver struct {
	reg     *dsl.Registry
	log     *zap.Logger
	exclude map[string]map[string]bool
}

func NewDriver(reg *dsl.Registry, opts ...Option) *Driver {
	d := &Driver{reg: reg, log: zap.NewNop(), exclude: map[string]map[string]bool{}}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run строит артефакты всех сущностей и привязывает их только если прогон
// удался целиком. Возвращает пространство имён прогона.
func (d *Driver) Run(session schema.Session) (*schema.Namespace, error) {
	var ns *schema.Namespace
	err := d.reg.Exclusive(func() error {
		var err error
		ns, err = d.run(session)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ns, nil
}

func (d *Driver) run(session schema.Session) (*schema.Namespace, error) {
	if !d.reg.Finalized() {
		if err := d.reg.Finalize(); err != nil {
			return nil, err
		}
	}
	entities := d.reg.Entities()

	// до любого артефакта: имена validating-схем не должны совпасть с сущностями
	for _, e := range entities {
		if err := CheckName(e); err != nil {
			return nil, err
		}
	}

	ns := schema.NewNamespace()
	log := d.log.With(zap.String("namespace", ns.ID()))
	res := NewResolver(d.reg, ns)
	cls := NewClassifier(d.reg, res, log)
	syn := NewSynthesizer(cls, ns)

	// проход 1: flat-модели — цели всех forward-ссылок
	sets := make(map[string]*schema.Set, len(entities))
	for _, e := range entities {
		cls.WarnUnsupported(e)
		flat, err := syn.Synthesize(e, schema.VariantFlat, d.exclude[e.Name])
		if err != nil {
			return nil, err
		}
		if err := ns.Register(flat); err != nil {
			return nil, configErr(e.Name, "", err)
		}
		sets[e.Name] = &schema.Set{Flat: flat}
		log.Debug("flat model", zap.String("model", flat.String()))
	}
	ns.Seal()

	// проход 2: модели со связями
	for _, e := range entities {
		set := sets[e.Name]
		var err error
		if set.Validating, err = syn.Validating(e, session, d.exclude[e.Name]); err != nil {
			return nil, wrapEntity(e, err)
		}
		if set.Full, err = syn.Synthesize(e, schema.VariantFull, d.exclude[e.Name]); err != nil {
			return nil, err
		}
		if set.Write, err = syn.Synthesize(e, schema.VariantWrite, d.exclude[e.Name]); err != nil {
			return nil, err
		}
		log.Debug("models",
			zap.String("full", set.Full.String()),
			zap.String("write", set.Write.String()),
			zap.String("validating", set.Validating.String()))
	}

	if missing := res.Unresolved(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", schema.ErrUnresolved, strings.Join(missing, ", "))
	}

	for _, e := range entities {
		e.Attach(*sets[e.Name])
	}
	log.Info("schemas synthesized", zap.Int("entities", len(entities)), zap.Int("models", ns.Len()+3*len(entities)))
	return ns, nil
}

// wrapEntity: ошибки, не являющиеся ConfigError (например, отсутствие сессии), получают имя сущности.
func wrapEntity(e *dsl.Entity, err error) error {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return err
	}
	return fmt.Errorf("%s: %w", e.Name, err)
}

// Initialize синтезирует схемы всех сущностей реестра и возвращает
// отображение имя таблицы -> сущность.
func Initialize(reg *dsl.Registry, session schema.Session, opts ...Option) (map[string]*dsl.Entity, error) {
	if _, err := NewDriver(reg, opts...).Run(session); err != nil {
		return nil, err
	}
	return reg.Tables(), nil
}
