package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crudkit/internal/synth"
)

type reloadReq struct {
	DSLRoot   string `json:"dsl_root"`   // директория с *.dsl
	EnumsRoot string `json:"enums_root"` // директория со справочниками enum
}

// POST /api/_admin/reload — читает DSL и справочники заново, линтует,
// синтезирует схемы и атомарно подменяет реестр. Старый реестр обслуживает
// запросы, пока новый не готов целиком.
func (s *Server) AdminReloadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reloadReq
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
				return
			}
		}
		dslRoot := strings.TrimSpace(req.DSLRoot)
		if dslRoot == "" {
			dslRoot = s.opts.DSLDir
		}
		enumsRoot := strings.TrimSpace(req.EnumsRoot)
		if enumsRoot == "" {
			enumsRoot = s.opts.EnumsDir
		}

		s.reloadMu.Lock()
		defer s.reloadMu.Unlock()

		// 1) читаем новые схемы и справочники
		reg, err := LoadRegistry(dslRoot, enumsRoot)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "DSL load error", "details": err.Error()})
			return
		}

		// 2) линтер
		if issues := Lint(reg); Blocking(issues) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "schema has blocking issues",
				"issues":  issues,
				"hint":    "fix DSL and retry",
				"dslRoot": dslRoot, "enumsRoot": enumsRoot,
			})
			return
		}

		// 3) синтез до подмены: при ошибке остаётся прежний реестр
		if _, err := synth.Initialize(reg, s.store, synth.WithLogger(s.log)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "schema synthesis failed", "details": err.Error()})
			return
		}
		// 4) хранилище и реестр меняются вместе
		if err := s.swap(c.Request.Context(), reg, s.opts.Migrate); err != nil {
			s.fail(c, err)
			return
		}
		s.log.Info("registry reloaded", zap.String("dsl", dslRoot), zap.Int("entities", reg.Len()))

		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"dslRoot":   dslRoot,
			"enumsRoot": enumsRoot,
			"entities":  reg.Len(),
		})
	}
}

// GET /api/_admin/lint
func (s *Server) AdminLintHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		issues := Lint(s.reg.Load())
		if issues == nil {
			issues = []SchemaIssue{}
		}
		c.JSON(http.StatusOK, gin.H{"issues": issues, "blocking": Blocking(issues)})
	}
}
