package synth

import (
	"fmt"
	"sort"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

// Resolver переводит объявленные типы в типы схемы. Имена сущностей становятся
// forward-ссылками на flat-модели; сами модели при этом не строятся.
type Resolver struct {
	reg       *dsl.Registry
	ns        *schema.Namespace
	requested map[string]struct{}
}

func NewResolver(reg *dsl.Registry, ns *schema.Namespace) *Resolver {
	return &Resolver{reg: reg, ns: ns, requested: map[string]struct{}{}}
}

// Resolve: примитив -> schema.Prim, сущность -> schema.Ref("<Name>FlatModel").
// nullable берётся из объявления; обёртку списка добавляет вызывающий.
func (r *Resolver) Resolve(t dsl.TypeExpr) (schema.Type, bool, error) {
	if k, ok := schema.ParseKind(t.Name); ok {
		return schema.Prim(k), t.Nullable, nil
	}
	if _, ok := r.reg.Get(t.Name); ok {
		name := schema.FlatName(t.Name)
		r.requested[name] = struct{}{}
		return schema.Ref(name), t.Nullable, nil
	}
	return schema.Type{}, false, fmt.Errorf("%w: %q", ErrUnknownTarget, t.Name)
}

// Unresolved — запрошенные ссылки, которых нет в пространстве имён.
func (r *Resolver) Unresolved() []string {
	var out []string
	for name := range r.requested {
		if !r.ns.Has(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
