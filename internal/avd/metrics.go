// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives lifecycle events from the Orchestrator.
type Metrics interface {
	// StateTransition records a lifecycle state change.
	StateTransition(from, to State)
	// StageDuration records how long a stage took and whether it failed.
	StageDuration(stage Stage, d time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) StateTransition(from, to State)                        {}
func (noopMetrics) StageDuration(stage Stage, d time.Duration, err error) {}

func NewNoopMetrics() Metrics { return noopMetrics{} }

// PrometheusMetrics implements Metrics on a private registry.
type PrometheusMetrics struct {
	transitions   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	failures      *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "avdrun"
	}
	m := &PrometheusMetrics{registry: prometheus.NewRegistry()}

	m.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of device lifecycle state transitions",
		},
		[]string{"from_state", "to_state"},
	)
	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of device lifecycle stages",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "status"},
	)
	m.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of failed lifecycle stages by reason",
		},
		[]string{"stage", "reason"},
	)
	m.registry.MustRegister(m.transitions, m.stageDuration, m.failures)
	return m
}

func (m *PrometheusMetrics) StateTransition(from, to State) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *PrometheusMetrics) StageDuration(stage Stage, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.failures.WithLabelValues(string(stage), failureReason(err)).Inc()
	}
	m.stageDuration.WithLabelValues(string(stage), status).Observe(d.Seconds())
}

// Registry exposes the registry for scraping or textfile export.
func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the current metrics in the node_exporter textfile format.
func (m *PrometheusMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrDeviceBootTimeout):
		return "boot_timeout"
	case errors.Is(err, ErrDeviceShutdownTimeout):
		return "shutdown_timeout"
	case errors.Is(err, ErrImageCreationFailed):
		return "image_creation"
	case errors.Is(err, ErrWorkUnitFailed):
		return "work_unit"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrPortExhausted):
		return "port_exhausted"
	case errors.Is(err, ErrExternalCommandFailed):
		return "external_command"
	default:
		return "other"
	}
}
