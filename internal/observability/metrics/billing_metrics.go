package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonVersionConflict      = "version_conflict"
	ReasonDB                   = "db"
	ReasonUnknown              = "unknown"
)

// BillingMetrics are the pull-based counters scraped from /metrics.
type BillingMetrics struct {
	eventsProcessed   *prometheus.CounterVec
	reconcileErrors   *prometheus.CounterVec
	reconcileRetries  *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	processorCalls    *prometheus.CounterVec
}

// NewBillingMetrics registers the counters on registerer (default registerer when nil).
func NewBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "atelier"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &BillingMetrics{
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "atelier_reconcile_events_total",
			Help:        "Processor events handled by the reconciler, by type and outcome.",
			ConstLabels: constLabels,
		}, []string{"event_type", "outcome"}),
		reconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "atelier_reconcile_errors_total",
			Help:        "Reconciler failures returned to the caller for redelivery.",
			ConstLabels: constLabels,
		}, []string{"event_type", "reason"}),
		reconcileRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "atelier_reconcile_version_retries_total",
			Help:        "Optimistic write retries after a concurrent update of the same entity.",
			ConstLabels: constLabels,
		}, []string{"entity"}),
		reconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "atelier_reconcile_duration_seconds",
			Help:        "Time to apply one processor event.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"event_type"}),
		processorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "atelier_processor_calls_total",
			Help:        "Outbound payment processor calls by operation and result.",
			ConstLabels: constLabels,
		}, []string{"operation", "result"}),
	}

	registerer.MustRegister(
		m.eventsProcessed,
		m.reconcileErrors,
		m.reconcileRetries,
		m.reconcileDuration,
		m.processorCalls,
	)
	return m
}

// IncEvent counts an event by its final outcome.
func (m *BillingMetrics) IncEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(eventType, outcome).Inc()
}

// IncReconcileError counts a failed apply with a low-cardinality reason.
func (m *BillingMetrics) IncReconcileError(eventType string, err error) {
	if m == nil || err == nil {
		return
	}
	m.reconcileErrors.WithLabelValues(eventType, ClassifyStoreError(err)).Inc()
}

// IncReconcileErrorReason counts a failed apply whose reason the caller already knows.
func (m *BillingMetrics) IncReconcileErrorReason(eventType, reason string) {
	if m == nil {
		return
	}
	m.reconcileErrors.WithLabelValues(eventType, reason).Inc()
}

// IncVersionRetry counts a retry caused by a version conflict.
func (m *BillingMetrics) IncVersionRetry(entity string) {
	if m == nil {
		return
	}
	m.reconcileRetries.WithLabelValues(entity).Inc()
}

// ObserveReconcile records how long an event took to apply.
func (m *BillingMetrics) ObserveReconcile(eventType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// IncProcessorCall counts an outbound processor call.
func (m *BillingMetrics) IncProcessorCall(operation string, err error) {
	if m == nil {
		return
	}
	m.processorCalls.WithLabelValues(operation, resultOf(err)).Inc()
}

// ClassifyStoreError maps store errors to low-cardinality reasons.
func ClassifyStoreError(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return ReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ReasonUniqueViolation
	}
	if isDBError(err) {
		return ReasonDB
	}
	return ReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrInvalidValue) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
