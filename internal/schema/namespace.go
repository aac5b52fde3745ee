package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Суффиксы имён синтезированных моделей.
const (
	FlatSuffix   = "FlatModel"
	ModelSuffix  = "Model"
	SchemaSuffix = "Schema"
)

func FlatName(entity string) string   { return entity + FlatSuffix }
func ModelName(entity string) string  { return entity + ModelSuffix }
func SchemaName(entity string) string { return entity + SchemaSuffix }

var (
	ErrUnresolved    = errors.New("schema: unresolved forward reference")
	ErrSealed        = errors.New("schema: namespace is sealed")
	ErrDuplicateName = errors.New("schema: name already registered")
	ErrForeignModel  = errors.New("schema: model belongs to another namespace")
)

// Namespace — таблица forward-ссылок одного прогона синтеза: имя -> flat-модель.
// Заполняется в первом проходе, после Seal только читается.
// Модели держат указатель на своё пространство имён, поэтому артефакты
// разных прогонов никогда не разрешают ссылки друг через друга.
type Namespace struct {
	id ulid.ULID

	mu     sync.RWMutex
	defs   map[string]*Model
	sealed bool
}

func NewNamespace() *Namespace {
	return &Namespace{
		id:   ulid.Make(),
		defs: make(map[string]*Model),
	}
}

// ID — идентификатор поколения (уникален для каждого прогона).
func (ns *Namespace) ID() string { return ns.id.String() }

func (ns *Namespace) Register(m *Model) error {
	if m.ns != ns {
		return fmt.Errorf("%w: %s", ErrForeignModel, m.name)
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrSealed, m.name)
	}
	if _, exists := ns.defs[m.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, m.name)
	}
	ns.defs[m.name] = m
	return nil
}

// Lookup разрешает forward-ссылку.
func (ns *Namespace) Lookup(name string) (*Model, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	m, ok := ns.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (namespace %s)", ErrUnresolved, name, ns.id)
	}
	return m, nil
}

func (ns *Namespace) Has(name string) bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	_, ok := ns.defs[name]
	return ok
}

func (ns *Namespace) Seal() {
	ns.mu.Lock()
	ns.sealed = true
	ns.mu.Unlock()
}

func (ns *Namespace) Sealed() bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.sealed
}

func (ns *Namespace) Names() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make([]string, 0, len(ns.defs))
	for name := range ns.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (ns *Namespace) Len() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.defs)
}
