// Package metrics implements Prometheus metrics collection for dispatch
// operations.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arraystore/arraystore/pkg/errors"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Collector records per-operation dispatch metrics. A disabled collector is
// valid and drops every observation.
type Collector struct {
	mu       sync.RWMutex
	config   Config
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	openHandles       prometheus.Gauge
}

// NewCollector creates a metrics collector.
func NewCollector(config Config) *Collector {
	c := &Collector{config: config}
	if !config.Enabled {
		return c
	}
	if c.config.Namespace == "" {
		c.config.Namespace = "arraystore"
	}

	c.registry = prometheus.NewRegistry()

	c.operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.config.Namespace,
		Name:      "operations_total",
		Help:      "Total dispatch operations by operation and storage model",
	}, []string{"operation", "model"})

	c.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.config.Namespace,
		Name:      "operation_duration_seconds",
		Help:      "Dispatch operation duration by operation and storage model",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "model"})

	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.config.Namespace,
		Name:      "errors_total",
		Help:      "Total dispatch errors by operation and error code",
	}, []string{"operation", "code"})

	c.openHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: c.config.Namespace,
		Name:      "open_handles",
		Help:      "Number of currently open dataset handles",
	})

	c.registry.MustRegister(c.operationCounter, c.operationDuration, c.errorCounter, c.openHandles)
	return c
}

// Registry exposes the Prometheus registry for scraping, or nil when metrics
// are disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordOperation records one dispatch operation outcome.
func (c *Collector) RecordOperation(operation, model string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.operationCounter.WithLabelValues(operation, model).Inc()
	c.operationDuration.WithLabelValues(operation, model).Observe(duration.Seconds())
	if err != nil {
		c.errorCounter.WithLabelValues(operation, string(errors.CodeOf(err))).Inc()
	}
}

// HandleOpened bumps the open-handle gauge.
func (c *Collector) HandleOpened() {
	if c.config.Enabled {
		c.openHandles.Inc()
	}
}

// HandleClosed drops the open-handle gauge.
func (c *Collector) HandleClosed() {
	if c.config.Enabled {
		c.openHandles.Dec()
	}
}
