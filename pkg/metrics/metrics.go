package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 自动邮件单次 run 耗时（秒）
	DispatchRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automail_run_duration_seconds",
			Help:    "Duration of one automated email dispatch run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"state"}, // state: completed, aborted
	)

	// 被跳过的 run（锁被占用 / 未开启发送）
	DispatchRunSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automail_run_skipped_total",
			Help: "Total number of dispatch ticks that did not start a run",
		},
		[]string{"reason"}, // reason: lock_held, sending_disabled
	)

	// 每个邮件分类的发送结果
	DispatchEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automail_emails_total",
			Help: "Automated email outcomes per category",
		},
		[]string{"ident", "result"}, // result: sent, failed, unapproved, errored
	)

	// 单次 run 处理的实体数
	DispatchEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automail_entities_evaluated_total",
			Help: "Entities evaluated by the dispatch engine",
		},
		[]string{"entity_type"},
	)

	// mail-relay 投递延迟（毫秒）
	RelayDeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_latency_ms",
			Help:    "SMTP delivery latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of slow database queries",
		},
	)

	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow database queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		},
	)
)

// RecordDispatchRun 记录一次 run 的耗时
func RecordDispatchRun(state string, duration time.Duration) {
	DispatchRunDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// IncrementRunSkipped 增加跳过的 run 计数
func IncrementRunSkipped(reason string) {
	DispatchRunSkipped.WithLabelValues(reason).Inc()
}

// IncrementDispatch 增加某个分类的发送结果计数
func IncrementDispatch(ident, result string) {
	DispatchEmails.WithLabelValues(ident, result).Inc()
}

// AddEntitiesEvaluated 记录评估过的实体数
func AddEntitiesEvaluated(entityType string, n int) {
	DispatchEntities.WithLabelValues(entityType).Add(float64(n))
}

// RecordRelayDelivery 记录 SMTP 投递延迟
func RecordRelayDelivery(status string, duration time.Duration) {
	RelayDeliveryLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery 记录一次慢查询
func IncrementSlowQuery(duration time.Duration) {
	SlowQueryCount.Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}
