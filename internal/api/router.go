// Package api — HTTP-слой: CRUD по таблицам реестра поверх синтезированных схем,
// метаданные, перезагрузка DSL.
package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crudkit/internal/dsl"
	"crudkit/internal/logging"
	"crudkit/internal/store"
)

type Options struct {
	DSLDir      string
	EnumsDir    string
	CORSOrigins []string
	// Migrate: при reload создавать таблицы новых сущностей
	Migrate bool
}

// Server держит текущий реестр (с прикреплёнными схемами) и хранилище.
// Реестр заменяется целиком при reload.
type Server struct {
	store store.Store
	log   *zap.Logger
	opts  Options

	reg      atomic.Pointer[dsl.Registry]
	reloadMu sync.Mutex
	// swapMu: запрос к данным видит реестр и привязку хранилища одного поколения
	swapMu sync.RWMutex
}

// NewServer ожидает реестр, уже прошедший Bootstrap.
func NewServer(reg *dsl.Registry, st store.Store, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{store: st, log: log, opts: opts}
	s.reg.Store(reg)
	return s
}

func (s *Server) Registry() *dsl.Registry { return s.reg.Load() }

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Gin(s.log))

	cc := cors.DefaultConfig()
	if len(s.opts.CORSOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = s.opts.CORSOrigins
	}
	cc.ExposeHeaders = []string{"X-Total-Count"}
	cc.MaxAge = 12 * time.Hour
	r.Use(cors.New(cc))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Hello World"})
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/_admin/reload", s.AdminReloadHandler())
		apiGroup.GET("/_admin/lint", s.AdminLintHandler())
	}

	data := apiGroup.Group("", s.sameGeneration())
	{
		data.GET("/meta", s.MetaListHandler())
		data.GET("/meta/:table", s.MetaTableHandler())

		// служебные маршруты раньше :id
		data.GET("/:table/_count", s.CountHandler())

		data.POST("/:table", s.CreateHandler())
		data.GET("/:table", s.ListHandler())
		data.GET("/:table/:id", s.GetOneHandler())
		data.PUT("/:table/:id", s.UpdateHandler())
		data.PATCH("/:table/:id", s.UpdatePartialHandler())
		data.DELETE("/:table/:id", s.DeleteHandler())
	}
	return r
}

// sameGeneration держит замену реестра, пока запрос не завершится.
func (s *Server) sameGeneration() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.swapMu.RLock()
		defer s.swapMu.RUnlock()
		c.Next()
	}
}

// swap привязывает хранилище к reg (и создаёт таблицы при migrate) и публикует
// реестр, не пропуская запросы к данным в промежуток между шагами.
func (s *Server) swap(ctx context.Context, reg *dsl.Registry, migrate bool) error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	prev := s.reg.Load()
	s.store.Use(reg)
	if migrate {
		if err := s.store.Migrate(ctx); err != nil {
			s.store.Use(prev)
			return err
		}
	}
	s.reg.Store(reg)
	return nil
}
