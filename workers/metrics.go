package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/kaif367/growupquotexapi/provision"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stephenafamo/janus/monitor"
)

type Metrics struct {
	Registry *prometheus.Registry

	StepOutcomes *prometheus.CounterVec
	Up           *prometheus.GaugeVec
	Connected    *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		StepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apideploy",
			Name:      "step_outcomes_total",
			Help:      "Step results by deployment, step and status.",
		}, []string{"deployment", "step", "status"}),
		Up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "apideploy",
			Name:      "upstream_up",
			Help:      "1 when the API process answered its last health probe.",
		}, []string{"deployment"}),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "apideploy",
			Name:      "upstream_connected",
			Help:      "The connected field reported by the status endpoint.",
		}, []string{"deployment"}),
	}

	m.Registry.MustRegister(
		m.StepOutcomes,
		m.Up,
		m.Connected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Observe counts a step outcome. Used as the runner callback.
func (m *Metrics) Observe(deployment string, o provision.Outcome) {
	m.StepOutcomes.WithLabelValues(deployment, o.Step, o.Status).Inc()
}

// MetricsServer exposes the registry on /metrics
type MetricsServer struct {
	Addr    string
	Metrics *Metrics
	Monitor monitor.Monitor
}

func (m MetricsServer) Play(ctx context.Context) error {
	if m.Addr == "" {
		// Disabled, just wait
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Metrics.Registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              m.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			err = fmt.Errorf("error shutting down metrics server: %w", err)
			m.Monitor.CaptureException(err, nil)
		}
	}()

	log.Printf("Serving metrics on %s\n", m.Addr)
	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("can't start metrics server: %w", err)
	}

	return nil
}
