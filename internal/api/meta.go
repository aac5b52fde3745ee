package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
)

// ===== META HANDLERS =====

type metaAttribute struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Type       string            `json:"type"`
	Nullable   bool              `json:"nullable,omitempty"`
	Primary    bool              `json:"primary,omitempty"`
	Target     string            `json:"target,omitempty"`
	ForeignKey string            `json:"foreignKey,omitempty"`
	OnDelete   string            `json:"onDelete,omitempty"`
	Enum       []string          `json:"enum,omitempty"`
	Expr       string            `json:"expr,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
}

type metaEntity struct {
	Name        string          `json:"name"`
	Table       string          `json:"table"`
	Attributes  []metaAttribute `json:"attributes"`
	Constraints map[string]any  `json:"constraints,omitempty"` // {"unique":[["title","author_id"]]}
	Schemas     []string        `json:"schemas"`
}

func describe(e *dsl.Entity) metaEntity {
	attrs := make([]metaAttribute, 0, len(e.Attrs))
	for _, a := range e.Attrs {
		ma := metaAttribute{
			Name:       a.Name,
			Kind:       a.Kind.String(),
			Type:       strings.ToLower(a.Type.Name),
			Nullable:   a.Nullable(),
			Primary:    a.Primary,
			Target:     a.Target,
			ForeignKey: a.ForeignKey,
			Enum:       append([]string(nil), a.Enum...),
			Expr:       a.Expr,
		}
		if a.Kind == dsl.AttrForeignKey {
			ma.OnDelete = a.OnDelete()
		}
		if len(a.Options) > 0 {
			ma.Options = make(map[string]string, len(a.Options))
			for k, v := range a.Options {
				ma.Options[k] = v
			}
		}
		attrs = append(attrs, ma)
	}

	var constraints map[string]any
	if len(e.Constraints.Unique) > 0 {
		uniq := make([][]string, 0, len(e.Constraints.Unique))
		for _, set := range e.Constraints.Unique {
			uniq = append(uniq, append([]string(nil), set...))
		}
		constraints = map[string]any{"unique": uniq}
	}

	var names []string
	set := e.Schemas()
	for _, m := range []*schema.Model{set.Flat, set.Full, set.Write} {
		if m != nil {
			names = append(names, m.Name())
		}
	}
	if set.Validating != nil {
		names = append(names, set.Validating.Name())
	}
	return metaEntity{Name: e.Name, Table: e.Table, Attributes: attrs, Constraints: constraints, Schemas: names}
}

// GET /api/meta
func (s *Server) MetaListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reg := s.reg.Load()
		out := make([]metaEntity, 0, reg.Len())
		for _, e := range reg.Entities() {
			out = append(out, describe(e))
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/meta/:table?variant=flat|full|write|validating — JSON Schema артефакта.
func (s *Server) MetaTableHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := lookupEntity(s.reg.Load(), c.Param("table"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		v, err := schema.ParseVariant(c.DefaultQuery("variant", "full"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		m, ok := e.Schemas().Model(v)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Schema not synthesized"})
			return
		}
		doc, err := m.Document()
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}
