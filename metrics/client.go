// Package metrics records refinement outcomes in a Prometheus registry.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prepcli/prep/models"
)

const (
	RefinementsTotal      = "prep_refinements_total"
	RefinementDuration    = "prep_refinement_duration_seconds"
	ClarificationRounds   = "prep_clarification_rounds_total"
	ServeRequestsTotal    = "prep_serve_requests_total"
	ServeCacheHitsTotal   = "prep_serve_cache_hits_total"
	ServeRateLimitedTotal = "prep_serve_rate_limited_total"
)

type MonitoringClient struct {
	registry   *prometheus.Registry
	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewMonitoringClient returns a client with its own registry, so several can coexist in tests.
func NewMonitoringClient() *MonitoringClient {
	return &MonitoringClient{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (c *MonitoringClient) getOrCreateCounterVec(metricName string, labels []string) *prometheus.CounterVec {
	c.mu.RLock()
	counter, exists := c.counters[metricName]
	c.mu.RUnlock()
	if exists {
		return counter
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if counter, exists = c.counters[metricName]; exists {
		return counter
	}
	counter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricName,
		Help: helpFor(metricName),
	}, labels)
	c.registry.MustRegister(counter)
	c.counters[metricName] = counter
	return counter
}

func (c *MonitoringClient) getOrCreateHistogramVec(metricName string, labels []string) *prometheus.HistogramVec {
	c.mu.RLock()
	histogram, exists := c.histograms[metricName]
	c.mu.RUnlock()
	if exists {
		return histogram
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if histogram, exists = c.histograms[metricName]; exists {
		return histogram
	}
	histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricName,
		Help:    helpFor(metricName),
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160, 300},
	}, labels)
	c.registry.MustRegister(histogram)
	c.histograms[metricName] = histogram
	return histogram
}

// RecordCounter adds value to a counter. A metric must always be recorded with the same label names.
func (c *MonitoringClient) RecordCounter(metricName string, labels map[string]string, value float64) {
	labelNames, labelValues := splitLabels(labels)
	counter := c.getOrCreateCounterVec(metricName, labelNames)
	counter.WithLabelValues(labelValues...).Add(value)
}

func (c *MonitoringClient) RecordTimer(metricName string, labels map[string]string, duration time.Duration) {
	labelNames, labelValues := splitLabels(labels)
	histogram := c.getOrCreateHistogramVec(metricName, labelNames)
	histogram.WithLabelValues(labelValues...).Observe(duration.Seconds())
}

// ObserveRefinement records one finished run.
func (c *MonitoringClient) ObserveRefinement(provider models.ProviderID, outcome string, duration time.Duration, rounds int) {
	c.RecordCounter(RefinementsTotal, map[string]string{"provider": provider.String(), "outcome": outcome}, 1)
	c.RecordTimer(RefinementDuration, map[string]string{"provider": provider.String()}, duration)
	c.RecordCounter(ClarificationRounds, map[string]string{"provider": provider.String()}, float64(rounds))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *MonitoringClient) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Totals sums every series of each metric family: counter values, histogram sample sums.
func (c *MonitoringClient) Totals() (map[string]float64, error) {
	mfs, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	totals := make(map[string]float64, len(mfs))
	for _, mf := range mfs {
		for _, m := range mf.Metric {
			switch {
			case m.Gauge != nil:
				totals[mf.GetName()] += m.Gauge.GetValue()
			case m.Counter != nil:
				totals[mf.GetName()] += m.Counter.GetValue()
			case m.Histogram != nil:
				totals[mf.GetName()] += m.Histogram.GetSampleSum()
			}
		}
	}
	return totals, nil
}

func splitLabels(labels map[string]string) ([]string, []string) {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, labels[name])
	}
	return names, values
}

func helpFor(metricName string) string {
	switch metricName {
	case RefinementsTotal:
		return "Finished refinements by provider and outcome."
	case RefinementDuration:
		return "Wall time of a refinement including clarification rounds."
	case ClarificationRounds:
		return "Clarification rounds answered."
	case ServeRequestsTotal:
		return "HTTP requests handled by prep serve."
	case ServeCacheHitsTotal:
		return "Refinements answered from the serve cache."
	case ServeRateLimitedTotal:
		return "Requests rejected by the per-client rate limiter."
	}
	return strings.ReplaceAll(metricName, "_", " ")
}
