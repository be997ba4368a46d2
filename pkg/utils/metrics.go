package utils

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector owns the prometheus registry and the fixed metric set
// the CT engine reports into. It is the telemetry collaborator of the
// verification pipeline: callers record outcomes, scraping is optional.
type MetricsCollector struct {
	registry *prometheus.Registry

	verifications *prometheus.CounterVec
	scts          *prometheus.CounterVec
	storeState    *prometheus.GaugeVec
	checkDuration *prometheus.HistogramVec
}

func NewMetricsCollector(enableRuntimeMetrics bool) *MetricsCollector {
	reg := prometheus.NewRegistry()

	if enableRuntimeMetrics {
		_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		_ = reg.Register(collectors.NewGoCollector())
	}

	m := &MetricsCollector{
		registry: reg,
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctlynx_verifications_total",
			Help: "CT policy evaluations by compliance verdict.",
		}, []string{"verdict"}),
		scts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctlynx_scts_total",
			Help: "Verified SCTs by status and carrier origin.",
		}, []string{"status", "origin"}),
		storeState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ctlynx_logstore_state",
			Help: "Current log store state (1 for the active state).",
		}, []string{"state"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ctlynx_check_duration_seconds",
			Help:    "Wall time of full target checks, handshake included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
	}

	reg.MustRegister(m.verifications, m.scts, m.storeState, m.checkDuration)
	return m
}

func (m *MetricsCollector) ObserveVerification(verdict string) {
	m.verifications.WithLabelValues(verdict).Inc()
}

func (m *MetricsCollector) ObserveSCT(status, origin string) {
	m.scts.WithLabelValues(status, origin).Inc()
}

// SetStoreState marks one state active and clears the others, so the gauge
// always sums to one.
func (m *MetricsCollector) SetStoreState(state string) {
	for _, s := range []string{"compliant", "not_compliant", "unknown"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.storeState.WithLabelValues(s).Set(v)
	}
}

func (m *MetricsCollector) ObserveCheckDuration(mode string, d time.Duration) {
	m.checkDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartServerWithContext(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server error: %w", err)
	}
}

func (m *MetricsCollector) GetRegistry() *prometheus.Registry {
	return m.registry
}
