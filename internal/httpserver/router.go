package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ubersystem/pkg/otel"
	"ubersystem/pkg/rbac"
)

// Pinger pgxpool.Pool 满足这个接口
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 把普通函数适配成 Pinger，例如 Redis 的健康检查
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Router struct {
	Engine *gin.Engine
}

// NewProbeRouter 只有健康检查和 /metrics，mail-relay 使用
func NewProbeRouter(db Pinger) *Router {
	return &Router{Engine: newEngine(db)}
}

func newEngine(db Pinger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// NewRouter admin / categories 为 nil 时不挂对应的管理接口（没有配置数据库时）
func NewRouter(
	automailHandler *AutomailHandler,
	adminHandler *AdminHandler,
	categoryHandler *CategoryHandler,
	jwtSecret string,
	db Pinger,
) *Router {
	r := newEngine(db)

	api := r.Group("/api/automail")
	{
		api.GET("/status", automailHandler.Status)
		api.GET("/pending", automailHandler.Pending)
		api.GET("/categories", automailHandler.Categories)
	}

	admin := r.Group("/admin")
	admin.Use(AuthMiddleware(jwtSecret))
	{
		admin.POST("/automail/run", RequirePermission(rbac.PermissionTriggerRun), automailHandler.Run)
		if adminHandler != nil {
			admin.GET("/outbox/failed", RequirePermission(rbac.PermissionReadOutbox), adminHandler.FailedEvents)
			admin.POST("/outbox/:id/replay", RequirePermission(rbac.PermissionReplayOutbox), adminHandler.ReplayOutboxEvent)
			admin.POST("/outbox/replay-failed", RequirePermission(rbac.PermissionReplayOutbox), adminHandler.ReplayFailedEvents)
		}
		if categoryHandler != nil {
			admin.GET("/automail/categories/:ident/history", RequirePermission(rbac.PermissionReadStatus), categoryHandler.History)
			admin.POST("/automail/categories/:ident/approve", RequirePermission(rbac.PermissionApprove), categoryHandler.Approve)
			admin.POST("/automail/categories/:ident/unapprove", RequirePermission(rbac.PermissionApprove), categoryHandler.Unapprove)
		}
	}

	return &Router{Engine: r}
}

// Server 带优雅关闭的 HTTP server
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
