package api

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crudkit/internal/dsl"
	"crudkit/internal/reference"
	"crudkit/internal/store"
	"crudkit/internal/synth"
)

// LoadRegistry читает справочники enum и DSL-сущности и финализирует реестр.
func LoadRegistry(dslDir, enumsDir string) (*dsl.Registry, error) {
	catalog, err := reference.LoadEnumCatalog(enumsDir)
	if err != nil {
		return nil, fmt.Errorf("enum load: %w", err)
	}
	reg, err := dsl.LoadRegistry(dslDir, reference.Codes(catalog, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("DSL load: %w", err)
	}
	return reg, nil
}

// Bootstrap готовит базу к работе: привязывает реестр к хранилищу, создаёт
// таблицы (migrate), затем синтезирует схемы; сессия validating-схем — само
// хранилище. Возвращает соответствие таблица -> сущность.
func Bootstrap(ctx context.Context, reg *dsl.Registry, st store.Store, log *zap.Logger, migrate bool, opts ...synth.Option) (map[string]*dsl.Entity, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := reg.Finalize(); err != nil {
		return nil, err
	}
	st.Use(reg)
	if migrate {
		if err := st.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	tables, err := synth.Initialize(reg, st, append([]synth.Option{synth.WithLogger(log)}, opts...)...)
	if err != nil {
		return nil, err
	}
	log.Info("database initialized", zap.Int("tables", len(tables)), zap.Bool("migrated", migrate))
	return tables, nil
}
