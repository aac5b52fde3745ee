package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crudkit/internal/dsl"
	"crudkit/internal/schema"
	"crudkit/internal/store"
)

// entityFor разрешает :table; при неудаче отвечает 404 сам.
func (s *Server) entityFor(c *gin.Context) (*dsl.Registry, *dsl.Entity, bool) {
	reg := s.reg.Load()
	e, ok := lookupEntity(reg, c.Param("table"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
		return nil, nil, false
	}
	return reg, e, true
}

func (s *Server) idFor(c *gin.Context, e *dsl.Entity) (any, bool) {
	id, err := store.ParseID(e, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return nil, false
	}
	return id, true
}

func bindObject(c *gin.Context) (map[string]any, bool) {
	var obj map[string]any
	if err := c.ShouldBindJSON(&obj); err != nil || obj == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return nil, false
	}
	return obj, true
}

// POST /api/:table
func (s *Server) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reg, e, ok := s.entityFor(c)
		if !ok {
			return
		}
		obj, ok := bindObject(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		if err := applyDefaults(e, obj); err != nil {
			s.fail(c, err)
			return
		}
		loaded, err := e.Schemas().Validating.Load(ctx, obj)
		if err != nil {
			s.fail(c, err)
			return
		}

		row, links := split(reg, e, loaded)
		created, err := s.store.Insert(ctx, e, row)
		if err != nil {
			s.fail(c, err)
			return
		}
		id := created[e.PrimaryKey().Name]
		if err := s.applyLinks(ctx, id, links, false); err != nil {
			s.fail(c, err)
			return
		}

		out, err := s.fetch(c, reg, e, id)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

// GET /api/:table
func (s *Server) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reg, e, ok := s.entityFor(c)
		if !ok {
			return
		}
		q, err := parseListParams(e, c.Request.URL.Query())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()

		rows, total, err := s.store.List(ctx, e, q)
		if err != nil {
			s.fail(c, err)
			return
		}
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			full, err := s.render(ctx, reg, e, r)
			if err != nil {
				s.fail(c, err)
				return
			}
			out = append(out, full)
		}
		c.Header("X-Total-Count", strconv.Itoa(total))
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/:table/_count
func (s *Server) CountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, e, ok := s.entityFor(c)
		if !ok {
			return
		}
		q, err := parseListParams(e, c.Request.URL.Query())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q.Limit, q.Offset, q.Sort = 1, 0, nil
		_, total, err := s.store.List(c.Request.Context(), e, q)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": total})
	}
}

// GET /api/:table/:id
func (s *Server) GetOneHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reg, e, ok := s.entityFor(c)
		if !ok {
			return
		}
		id, ok := s.idFor(c, e)
		if !ok {
			return
		}
		out, err := s.fetch(c, reg, e, id)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// PUT /api/:table/:id — полная замена по write-схеме: колонки, FK и
// вложенные объекты связей (берутся их ключи).
func (s *Server) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reg, e, ok := s.entityFor(c)
		if !ok {
			return
		}
		id, ok := s.idFor(c, e)
		if !ok {
			return
		}
		obj, ok := bindObject(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		errs := append(checkReadonly(e, obj), checkPathID(e, obj, id)...)
		if len(errs) > 0 {
			s.fail(c, &schema.ValidationError{Model: e.Name, Errors: errs})
			return
		}
		if _, err := s.store.Get(ctx, e, id); err != nil {
			s.fail(c, err)
			return
		}

		obj[e.PrimaryKey().Name] = id
		norm, err := e.Schemas().Write.Validate(obj)
		if err != nil {
			s.fail(c, err)
			return
		}
		resolved, errs := resolveNested(reg, e, norm)
		if len(errs) > 0 {
			s.fail(c, &schema.ValidationError{Model: e.Name, Errors: errs})
			return
		}
		row, links := split(reg, e, resolved)
		if err := s.checkRefs(ctx, reg, e, row, links); err != nil {
			s.fail(c, err)
			return
		}
		if _, err := s.store.Update(ctx, e, id, row); err != nil {
			s.fail(c, err)
			return
		}
		if err := s.applyLinks(ctx, id, links, true); err != nil {
			s.fail(c, err)
			return
		}

		out, err := s.fetch(c, reg, e, id)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// PATCH /api/:table/:id — частичное обновление через validating-схему.
func (s *Server) UpdatePartialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reg, e, ok := s.entityFor(c)
		if !ok {
			return
		}
		id, ok := s.idFor(c, e)
		if !ok {
			return
		}
		obj, ok := bindObject(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		if errs := checkPathID(e, obj, id); len(errs) > 0 {
			s.fail(c, &schema.ValidationError{Model: e.Name, Errors: errs})
			return
		}
		if _, err := s.store.Get(ctx, e, id); err != nil {
			s.fail(c, err)
			return
		}
		loaded, err := e.Schemas().Validating.LoadPartial(ctx, obj)
		if err != nil {
			s.fail(c, err)
			return
		}

		row, links := split(reg, e, loaded)
		if _, err := s.store.Update(ctx, e, id, row); err != nil {
			s.fail(c, err)
			return
		}
		if err := s.applyLinks(ctx, id, links, true); err != nil {
			s.fail(c, err)
			return
		}

		out, err := s.fetch(c, reg, e, id)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// DELETE /api/:table/:id
func (s *Server) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, e, ok := s.entityFor(c)
		if !ok {
			return
		}
		id, ok := s.idFor(c, e)
		if !ok {
			return
		}
		if err := s.store.Delete(c.Request.Context(), e, id); err != nil {
			s.fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// fetch читает запись заново и отдаёт её по full-схеме.
func (s *Server) fetch(c *gin.Context, reg *dsl.Registry, e *dsl.Entity, id any) (map[string]any, error) {
	ctx := c.Request.Context()
	row, err := s.store.Get(ctx, e, id)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, reg, e, row)
}
