package http

import (
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/auth"
	"github.com/vovakirdan/wiretask-server/internal/config"
	"github.com/vovakirdan/wiretask-server/internal/core"
	"github.com/vovakirdan/wiretask-server/internal/metrics"
	"github.com/vovakirdan/wiretask-server/internal/service/tasks"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Hub        *core.Hub
	Dispatcher *core.Dispatcher
	Auth       *auth.Service
	Tasks      *tasks.Service
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Config     *config.Config
	Logger     *zerolog.Logger
}

// NewServer builds the HTTP server with the REST, WebSocket and ops routes.
func NewServer(deps Deps) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              deps.Config.Addr,
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: deps.Config.ReadHeaderTimeout,
	}
}

// NewRouter builds the gin engine.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	cfg := deps.Config
	logger := deps.Logger

	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxFileSize
	r.Use(RecoveryMiddleware(logger), LoggerMiddleware(logger, deps.Metrics), CORSMiddleware(cfg.CORS.Origin))

	started := time.Now()
	r.GET("/health", func(c *gin.Context) {
		stats, err := deps.Hub.Stats(c.Request.Context())
		if err != nil {
			respondError(c, stdhttp.StatusServiceUnavailable, "Сервер останавливается")
			return
		}
		respond(c, stdhttp.StatusOK, gin.H{
			"status":      "healthy",
			"connections": stats.Connections,
			"users":       stats.Users,
			"uptime":      time.Since(started).Seconds(),
		}, "Сервер работает нормально")
	})

	var origins []string
	if cfg.CORS.Origin != "" && cfg.CORS.Origin != "*" {
		origins = []string{strings.TrimPrefix(strings.TrimPrefix(cfg.CORS.Origin, "https://"), "http://")}
	}
	ws := NewWSHandler(deps.Hub, deps.Dispatcher, WSOptions{
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		SendBuffer:      cfg.WS.SendBuffer,
		OriginPatterns:  origins,
	}, logger)
	r.GET("/ws", gin.WrapH(ws))

	if cfg.Metrics.Enabled && deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	requireAuth := AuthMiddleware(deps.Auth, logger)

	api := NewAPIHandlers(deps.Auth, logger)
	authGroup := r.Group("/api/auth")
	authGroup.POST("/register", api.Register)
	authGroup.POST("/login", api.Login)
	authGroup.POST("/verify", api.Verify)
	authGroup.GET("/me", requireAuth, api.Me)

	th := NewTaskHandlers(deps.Tasks, deps.Hub, logger)
	tasksGroup := r.Group("/api/tasks", requireAuth)
	tasksGroup.GET("/stats", th.Stats)
	tasksGroup.GET("/search", th.Search)
	tasksGroup.GET("/due-soon", th.DueSoon)
	tasksGroup.GET("/overdue", th.Overdue)
	tasksGroup.GET("/status/:status", th.ByStatus)
	tasksGroup.GET("", th.List)
	tasksGroup.POST("", th.Create)
	tasksGroup.GET("/:id", th.Get)
	tasksGroup.PUT("/:id", th.Update)
	tasksGroup.PATCH("/:id/toggle", th.Toggle)
	tasksGroup.DELETE("/:id", th.Delete)
	tasksGroup.POST("/:id/upload", th.Upload)
	tasksGroup.GET("/:id/files/:attachmentId/download", th.Download)
	tasksGroup.DELETE("/:id/files/:attachmentId", th.DeleteFile)

	return r
}
