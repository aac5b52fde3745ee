package api

import (
	"strings"

	"crudkit/internal/dsl"
)

// lookupEntity находит сущность по имени таблицы, затем по имени сущности;
// регистр не важен. Неоднозначное совпадение без учёта регистра — не найдено.
func lookupEntity(reg *dsl.Registry, raw string) (*dsl.Entity, bool) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return nil, false
	}
	if e, ok := reg.ByTable(name); ok {
		return e, true
	}
	if e, ok := reg.Get(name); ok {
		return e, true
	}

	var found *dsl.Entity
	for _, e := range reg.Entities() {
		if strings.EqualFold(e.Table, name) || strings.EqualFold(e.Name, name) {
			if found != nil && found != e {
				return nil, false
			}
			found = e
		}
	}
	return found, found != nil
}
