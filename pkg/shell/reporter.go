package shell

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/logger"
	"github.com/rubiojr/travelmate/pkg/metrics"
	"github.com/rubiojr/travelmate/pkg/storage"
)

// ReportSink receives error reports.
type ReportSink interface {
	ReportError(ctx context.Context, r backend.ErrorReport) error
}

// Reporter sends error log entries to the backend behind a circuit breaker.
// Reporting is best effort: failures are counted and logged, never returned
// to the feature that failed.
type Reporter struct {
	sink    ReportSink
	env     string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[struct{}]
	log     zerolog.Logger
}

// NewReporter builds a Reporter tagging reports with env. The breaker opens
// after 3 consecutive failures and probes again after a minute.
func NewReporter(sink ReportSink, env string) *Reporter {
	r := &Reporter{sink: sink, env: env, timeout: 5 * time.Second, log: logger.With("reporter")}
	metrics.ReporterBreakerState.Set(0)
	r.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "error-reporter",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
			metrics.ReporterBreakerState.Set(breakerValue(to))
		},
	})
	return r
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// State returns the breaker state.
func (r *Reporter) State() gobreaker.State { return r.cb.State() }

// Report sends one entry. The result is only used for metrics and tests.
func (r *Reporter) Report(ctx context.Context, e storage.ErrorEntry) error {
	_, err := r.cb.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return struct{}{}, r.sink.ReportError(ctx, backend.ErrorReport{
			ID:          e.ID,
			Operation:   e.Operation,
			Kind:        e.Kind,
			Status:      e.Status,
			Message:     e.Message,
			Environment: r.env,
			Time:        e.Time,
		})
	})
	switch {
	case err == nil:
		metrics.ErrorReports.WithLabelValues("sent").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ErrorReports.WithLabelValues("rejected").Inc()
		r.log.Debug().Err(err).Msg("error report skipped")
	default:
		metrics.ErrorReports.WithLabelValues("failed").Inc()
		r.log.Warn().Err(err).Msg("error report failed")
	}
	return err
}
