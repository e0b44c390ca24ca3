package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	MetricRecordsTotal     = "processor_records_total"
	MetricCyclesTotal      = "processor_cycles_total"
	MetricCycleDuration    = "processor_cycle_duration_seconds"
	MetricLastBatchSize    = "processor_last_batch_size"
	MetricLastCycleSuccess = "processor_last_cycle_success_timestamp_seconds"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	records       *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastBatchSize prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

// New creates the processor metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRecordsTotal,
			Help: "Raw log records handled, by outcome",
		}, []string{"outcome"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCyclesTotal,
			Help: "Processing cycles, by result",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricCycleDuration,
			Help:    "Wall time of one fetch-decode-apply cycle",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		lastBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastBatchSize,
			Help: "Records fetched by the most recent cycle",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastCycleSuccess,
			Help: "Unix time of the last cycle that completed without a fetch or store failure",
		}),
	}
	reg.MustRegister(m.records, m.cycles, m.cycleDuration, m.lastBatchSize, m.lastSuccess)
	return m
}

func (m *Metrics) ObserveRecord(outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCycle(result string, fetched int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
	m.lastBatchSize.Set(float64(fetched))
	if result == "ok" {
		m.lastSuccess.SetToCurrentTime()
	}
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
