package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics — метрики публикации transactional outbox.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetricsWithRegisterer создаёт метрики outbox в заданном registerer.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_outbox_publish_attempts_total",
			Help: "Outbox publish attempts by result",
		}, []string{"result"}),
		pendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "marketplace_outbox_pending_records",
			Help: "Current number of pending outbox records",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "marketplace_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record",
		}),
	}
}

// RecordPublish фиксирует исход публикации: sent, retry_error, failed, dead_lettered, dlq_failed.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog выставляет размер backlog и возраст самой старой записи.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAgeSeconds float64) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(pending))
	m.oldestPendingAge.Set(oldestAgeSeconds)
}

// CleanupMetrics — метрики очистки просроченных ключей идемпотентности.
type CleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewCleanupMetricsWithRegisterer создаёт метрики очистки в заданном registerer.
func NewCleanupMetricsWithRegisterer(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &CleanupMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs by result",
		}, []string{"result"}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_idempotency_cleanup_deleted_total",
			Help: "Deleted expired idempotency records",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "marketplace_idempotency_cleanup_last_deleted",
			Help: "Records deleted during the last cleanup run",
		}),
	}
}

// RecordRun фиксирует завершённый прогон очистки.
func (m *CleanupMetrics) RecordRun(result string, deleted int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	if result == "ok" {
		m.lastDeleted.Set(float64(deleted))
	}
}

// RecordDeleted добавляет число удалённых записей.
func (m *CleanupMetrics) RecordDeleted(deleted int) {
	if m == nil || deleted <= 0 {
		return
	}
	m.deleted.Add(float64(deleted))
}
