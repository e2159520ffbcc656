package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"signalhub/internal/config"
	"signalhub/internal/metrics"
	"signalhub/internal/mw"
	"signalhub/internal/signal"
	"signalhub/internal/ws"
)

// NewRouter 组装 HTTP 入口：健康检查、指标、websocket 升级端点。
func NewRouter(cfg config.Config, hub *ws.Hub, handler *signal.Handler) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": hub.Count(),
		})
	})
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 升级端点限速，防止重连风暴打穿服务
	r.GET("/ws", mw.RateLimit(rate.Limit(5), 10), ws.Serve(hub, handler))

	return r
}
