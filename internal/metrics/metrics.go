// Package metrics implements SPEC_FULL.md §2.16's counters/gauges for
// scheduling, rate-limit rejections, dead leads and dispatcher
// throughput. Adapted from the teacher's internal/metrics package,
// which exposed expvar counters behind a GetMetrics() singleton;
// consolidated here as the single metrics implementation (the teacher
// also carried a second, unrelated SMTP-connection-pool metrics
// package at its repo root which this replaces rather than keeps —
// see DESIGN.md).
package metrics

import (
	"context"
	"expvar"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Metrics holds the process-wide counters.
type Metrics struct {
	EmailsScheduled    *expvar.Int
	EmailsSent         *expvar.Int
	EmailsFailed       *expvar.Int
	JobsPaused         *expvar.Int
	JobsResumed        *expvar.Int
	JobsCancelled       *expvar.Int
	RateLimitRejections *expvar.Int
	NoSlotFound         *expvar.Int
	LeadsMarkedDead     *expvar.Int
	ConditionalTriggers *expvar.Int
	DispatcherEvents    *expvar.Int
	DispatcherDuplicates *expvar.Int
	CircuitBreakerTrips  *expvar.Map
	startTime            time.Time
	log                  *logrus.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton Metrics instance, creating it on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			EmailsScheduled:      expvar.NewInt("emails_scheduled_total"),
			EmailsSent:           expvar.NewInt("emails_sent_total"),
			EmailsFailed:         expvar.NewInt("emails_failed_total"),
			JobsPaused:           expvar.NewInt("jobs_paused_total"),
			JobsResumed:          expvar.NewInt("jobs_resumed_total"),
			JobsCancelled:        expvar.NewInt("jobs_cancelled_total"),
			RateLimitRejections:  expvar.NewInt("rate_limit_rejections_total"),
			NoSlotFound:          expvar.NewInt("no_slot_found_total"),
			LeadsMarkedDead:      expvar.NewInt("leads_marked_dead_total"),
			ConditionalTriggers:  expvar.NewInt("conditional_triggers_total"),
			DispatcherEvents:     expvar.NewInt("dispatcher_events_total"),
			DispatcherDuplicates: expvar.NewInt("dispatcher_duplicate_events_total"),
			CircuitBreakerTrips:  expvar.NewMap("circuit_breaker_trips"),
			startTime:            time.Now(),
			log:                  logrus.StandardLogger(),
		}
		expvar.Publish("uptime_seconds", expvar.Func(func() any {
			return int64(time.Since(instance.startTime).Seconds())
		}))
	})
	return instance
}

func (m *Metrics) RecordScheduled()          { m.EmailsScheduled.Add(1) }
func (m *Metrics) RecordSent()               { m.EmailsSent.Add(1) }
func (m *Metrics) RecordFailed()             { m.EmailsFailed.Add(1) }
func (m *Metrics) RecordPaused()             { m.JobsPaused.Add(1) }
func (m *Metrics) RecordResumed()            { m.JobsResumed.Add(1) }
func (m *Metrics) RecordCancelled()          { m.JobsCancelled.Add(1) }
func (m *Metrics) RecordRateLimitRejection() { m.RateLimitRejections.Add(1) }
func (m *Metrics) RecordNoSlotFound()        { m.NoSlotFound.Add(1) }
func (m *Metrics) RecordLeadDead()           { m.LeadsMarkedDead.Add(1) }
func (m *Metrics) RecordConditionalTrigger() { m.ConditionalTriggers.Add(1) }
func (m *Metrics) RecordDispatcherEvent()    { m.DispatcherEvents.Add(1) }
func (m *Metrics) RecordDispatcherDuplicate() { m.DispatcherDuplicates.Add(1) }
func (m *Metrics) RecordCircuitBreakerTrip(keyspace string) {
	m.CircuitBreakerTrips.Add(keyspace, 1)
}

// Serve starts the expvar metrics endpoint plus a liveness probe,
// shutting down cleanly when ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			m.log.WithError(err).Error("metrics: shutdown error")
		}
	}()

	m.log.WithField("port", port).Info("metrics: server starting")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
