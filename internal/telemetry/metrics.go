package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Collector records provisioning metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry      *prometheus.Registry
	providerCalls *prometheus.CounterVec
	pollQueries   *prometheus.CounterVec
	stageSeconds  *prometheus.GaugeVec
	runs          *prometheus.CounterVec
	diagnostics   *prometheus.CounterVec
}

// NewCollector creates a collector backed by its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bootnode",
			Name:      "provider_requests_total",
			Help:      "Cloud provider API requests by operation and result.",
		}, []string{"provider", "operation", "result"}),
		pollQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bootnode",
			Name:      "address_poll_queries_total",
			Help:      "Public address queries issued while waiting for a node.",
		}, []string{"provider"}),
		stageSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bootnode",
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each provisioning stage of the last run.",
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bootnode",
			Name:      "runs_total",
			Help:      "Provisioning runs by final status.",
		}, []string{"provider", "status"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bootnode",
			Name:      "diagnostics_total",
			Help:      "Non-fatal failures by stage.",
		}, []string{"stage"}),
	}
	c.registry.MustRegister(c.providerCalls, c.pollQueries, c.stageSeconds, c.runs, c.diagnostics)
	return c
}

// ProviderCall counts one provider request.
func (c *Collector) ProviderCall(provider, operation string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.providerCalls.WithLabelValues(provider, operation, result).Inc()
}

func (c *Collector) PollQueries(provider string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.pollQueries.WithLabelValues(provider).Add(float64(n))
}

func (c *Collector) StageDuration(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageSeconds.WithLabelValues(stage).Set(d.Seconds())
}

func (c *Collector) Diagnostic(stage string) {
	if c == nil {
		return
	}
	c.diagnostics.WithLabelValues(stage).Inc()
}

func (c *Collector) Run(provider, status string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(provider, status).Inc()
}

// Gatherer exposes the underlying registry.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.registry }

// Flush writes all metrics to path in the text exposition format, suitable
// for the node_exporter textfile collector. An empty path is a no-op.
func (c *Collector) Flush(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	log.Debug().Str("path", path).Msg("metrics written")
	return nil
}
