package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signal_ws_connections",
		Help: "Current number of active websocket connections",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signal_online_users",
		Help: "Current number of users with at least one live connection",
	})
	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signal_call_sessions",
		Help: "Current number of call sessions (ringing or active, 1:1 and group)",
	})
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signal_messages_total",
		Help: "Total number of chat messages stored",
	})
	PushSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signal_push_sent_total",
		Help: "Total number of push notifications dispatched",
	})
	PushEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signal_push_token_evictions_total",
		Help: "Total number of push tokens evicted after permanent delivery failures",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, OnlineUsers, ActiveCalls, MessagesTotal,
		PushSentTotal, PushEvictionsTotal,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
