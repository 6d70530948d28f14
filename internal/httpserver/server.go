package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	cfgpkg "github.com/taoyao-code/vndstream/internal/config"
	"github.com/taoyao-code/vndstream/internal/health"
	"github.com/taoyao-code/vndstream/internal/storage"
)

// Server 监控模式的 HTTP 服务封装
type Server struct {
	srv *http.Server
}

// Routes 可选的路由处理函数
type Routes struct {
	MetricsPath    string
	MetricsHandler http.Handler
	Ready          func() bool
	Stats          func() any
	Health         *health.Aggregator
	// Runs 启用数据库时提供历史运行查询
	Runs storage.RunRepo
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// New 创建并配置 Gin + HTTP Server，注册健康检查、指标、统计与运行记录路由
func New(cfg cfgpkg.HTTPConfig, routes Routes) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		ready := routes.Ready == nil || routes.Ready()
		if ready && routes.Health != nil {
			ready = routes.Health.Ready(c.Request.Context())
		}
		if ready {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if routes.Health != nil {
		health.RegisterHTTPRoutes(r, routes.Health)
	}
	if routes.MetricsHandler != nil {
		path := routes.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(routes.MetricsHandler))
	}
	if routes.Stats != nil {
		r.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, routes.Stats())
		})
	}
	if routes.Runs != nil {
		h := &runHandler{repo: routes.Runs}
		r.GET("/runs", h.List)
		r.GET("/runs/:run_id", h.Get)
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{srv: srv}
}

// Handler 返回路由处理器
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start 启动 HTTP 服务（阻塞），正常关闭时返回 nil
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
