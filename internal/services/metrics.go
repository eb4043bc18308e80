package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 运维可观测指标。用户侧永远收到回复，内部降级只体现在这里和日志里。
var (
	exchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exchanges_total",
			Help: "Total number of message exchanges processed",
		},
		[]string{"status"}, // completed, failed
	)

	retrievalDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_retrieval_degraded_total",
			Help: "Exchanges that proceeded without knowledge base context due to retrieval failure",
		},
	)

	generationRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_generation_retries_total",
			Help: "Total number of LLM generation retries",
		},
	)

	fallbackRepliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_fallback_replies_total",
			Help: "Replies answered with the static fallback message",
		},
	)
)

// MetricsService 指标服务
type MetricsService struct{}

// NewMetricsService 创建指标服务
func NewMetricsService() *MetricsService {
	return &MetricsService{}
}

// Handler 返回Prometheus指标的HTTP处理器
func (ms *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

// ServeHTTP 实现http.Handler接口
func (ms *MetricsService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ms.Handler().ServeHTTP(w, r)
}
