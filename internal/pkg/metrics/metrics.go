package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 指标集合。
//
// 通过 InitMetrics 注册到默认 Registry；测试里允许重复调用，
// 所以注册动作用 sync.Once 保护。
var (
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthFailureTotal      *prometheus.CounterVec
	LoginRateLimitedTotal prometheus.Counter

	StatsCacheHitTotal  prometheus.Counter
	StatsCacheMissTotal prometheus.Counter
)

var initOnce sync.Once

// InitMetrics 创建并注册所有 Prometheus 指标。
func InitMetrics() {
	initOnce.Do(func() {
		HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_http_requests_total",
			Help: "HTTP 请求总数（按方法、路由、状态码）",
		}, []string{"method", "route", "status"})

		HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskhub_http_request_duration_seconds",
			Help:    "HTTP 请求耗时分布",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})

		AuthFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_auth_failure_total",
			Help: "认证失败总数（按失败原因）",
		}, []string{"reason"})

		LoginRateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_login_rate_limited_total",
			Help: "被限流拒绝的登录请求总数",
		})

		StatsCacheHitTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_stats_cache_hit_total",
			Help: "统计缓存命中次数",
		})

		StatsCacheMissTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_stats_cache_miss_total",
			Help: "统计缓存未命中次数",
		})

		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AuthFailureTotal,
			LoginRateLimitedTotal,
			StatsCacheHitTotal,
			StatsCacheMissTotal,
		)
	})
}
