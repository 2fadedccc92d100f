package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyStoreError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: ReasonDBLockTimeout},
		{name: "serialization_failure", err: fmt.Errorf("save: %w", &pgconn.PgError{Code: "40001"}), want: ReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: ReasonUniqueViolation},
		{name: "other pg error", err: &pgconn.PgError{Code: "42P01"}, want: ReasonDB},
		{name: "unknown", err: errors.New("boom"), want: ReasonUnknown},
		{name: "not found is not a db failure", err: gorm.ErrRecordNotFound, want: ReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyStoreError(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestBillingMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewBillingMetrics(registry, Config{ServiceName: "atelier", Environment: "test"})

	m.IncEvent("invoice.paid", "applied")
	m.IncEvent("invoice.paid", "applied")
	m.IncEvent("invoice.paid", "stale")
	m.IncReconcileError("invoice.paid", &pgconn.PgError{Code: "40001"})
	m.IncVersionRetry("organization")
	m.IncProcessorCall("create_subscription", nil)
	m.IncProcessorCall("create_subscription", errors.New("declined"))

	if got := testutil.ToFloat64(m.eventsProcessed.WithLabelValues("invoice.paid", "applied")); got != 2 {
		t.Fatalf("expected 2 applied events, got %v", got)
	}
	if got := testutil.ToFloat64(m.eventsProcessed.WithLabelValues("invoice.paid", "stale")); got != 1 {
		t.Fatalf("expected 1 stale event, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconcileErrors.WithLabelValues("invoice.paid", ReasonSerializationFailure)); got != 1 {
		t.Fatalf("expected 1 serialization error, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconcileRetries.WithLabelValues("organization")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.processorCalls.WithLabelValues("create_subscription", "error")); got != 1 {
		t.Fatalf("expected 1 failed processor call, got %v", got)
	}
}

func TestBillingMetricsNilSafe(t *testing.T) {
	var m *BillingMetrics
	m.IncEvent("x", "applied")
	m.IncReconcileError("x", errors.New("boom"))
	m.IncProcessorCall("x", nil)
}
