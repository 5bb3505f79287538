package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timmy/conveyor/internal/domain"
)

// Metrics bundles Prometheus collectors for the conveyor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry      *prometheus.Registry
	AdvanceTotal  *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	Running       prometheus.Gauge
	HealthStatus  *prometheus.GaugeVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	advanceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_advance_total",
			Help: "Advance calls by outcome.",
		},
		[]string{"outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conveyor_stage_duration_seconds",
			Help:    "Latency of integration stage calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_stage_failures_total",
			Help: "Failed integration stage calls by stage and error type.",
		},
		[]string{"stage", "error_type"},
	)
	running := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conveyor_running",
			Help: "1 while the background run loop is active.",
		},
	)
	healthStatus := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conveyor_health_status",
			Help: "Last probe result per dependency (0 ok, 1 warning, 2 error).",
		},
		[]string{"dependency"},
	)

	registry.MustRegister(advanceTotal, stageDuration, stageFailures, running, healthStatus)

	return &Metrics{
		Registry:      registry,
		AdvanceTotal:  advanceTotal,
		StageDuration: stageDuration,
		StageFailures: stageFailures,
		Running:       running,
		HealthStatus:  healthStatus,
	}
}

func (m *Metrics) IncAdvance(outcome OutcomeStatus) {
	if m == nil {
		return
	}
	m.AdvanceTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) ObserveStage(stage domain.Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) IncStageFailure(stage domain.Stage, errorType string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(string(stage), errorType).Inc()
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

func (m *Metrics) SetHealth(dependency string, status domain.HealthStatus) {
	if m == nil {
		return
	}
	value := 2.0
	switch status {
	case domain.HealthOK:
		value = 0
	case domain.HealthWarning:
		value = 1
	case domain.HealthChecking:
		return
	}
	m.HealthStatus.WithLabelValues(dependency).Set(value)
}
