package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and updates engine metrics.
type Collector interface {
	// RegisterCounter registers a counter with the given name and label names.
	RegisterCounter(ctx context.Context, name string, labels ...string) (prometheus.Collector, error)
	// AddCounter adds the value to the counter identified by name and label values.
	AddCounter(ctx context.Context, name string, value float64, labelValues ...string) error
	// UnregisterCounter removes the counter with the given name.
	UnregisterCounter(ctx context.Context, name string, labels ...string) error
	// RegisterHistogram registers a histogram with the given name and label names.
	RegisterHistogram(ctx context.Context, name string, labels ...string) (prometheus.Collector, error)
	// ObserveHistogram records the value on the histogram identified by name and label values.
	ObserveHistogram(ctx context.Context, name string, value float64, labelValues ...string) error
	// UnregisterHistogram removes the histogram with the given name.
	UnregisterHistogram(ctx context.Context, name string, labels ...string) error
	// Handler returns an HTTP handler that serves the collector's registry.
	Handler() http.Handler
}

// contextKey is the key type used to store collectors in the context.
type contextKey string

// promCollector implements Collector backed by a dedicated prometheus registry.
type promCollector struct {
	namespace  string
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// WithMetrics returns a new context carrying a Collector for the namespace.
// If the context already carries one for that namespace it is returned unchanged.
func WithMetrics(ctx context.Context, namespace string) context.Context {
	if ctx == nil {
		panic("ctx cannot be nil")
	}
	if _, ok := ctx.Value(contextKey(namespace)).(Collector); ok {
		return ctx
	}
	return context.WithValue(ctx, contextKey(namespace), newCollector(namespace))
}

// FromContext returns the Collector stored in the context for the namespace,
// or a fresh one when the context carries none.
func FromContext(ctx context.Context, namespace string) Collector {
	if ctx == nil {
		panic("ctx cannot be nil")
	}
	if c, ok := ctx.Value(contextKey(namespace)).(Collector); ok {
		return c
	}
	return newCollector(namespace)
}

func newCollector(namespace string) *promCollector {
	return &promCollector{
		namespace:  namespace,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// RegisterCounter registers a counter with the given name and label names.
func (c *promCollector) RegisterCounter(_ context.Context, name string, labels ...string) (prometheus.Collector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if counter, ok := c.counters[name]; ok {
		return counter, nil
	}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      fmt.Sprintf("Counter for %s_%s", c.namespace, name),
	}, labels)
	if err := c.registry.Register(counter); err != nil {
		return nil, fmt.Errorf("failed to register counter %s: %w", name, err)
	}
	c.counters[name] = counter
	return counter, nil
}

// AddCounter adds the value to the counter identified by name and label values.
func (c *promCollector) AddCounter(_ context.Context, name string, value float64, labelValues ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	counter, ok := c.counters[name]
	if !ok {
		return fmt.Errorf("counter %s is not registered", name)
	}
	counter.WithLabelValues(labelValues...).Add(value)
	return nil
}

// UnregisterCounter removes the counter with the given name.
func (c *promCollector) UnregisterCounter(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	counter, ok := c.counters[name]
	if !ok {
		return fmt.Errorf("counter %s is not registered", name)
	}
	c.registry.Unregister(counter)
	delete(c.counters, name)
	return nil
}

// RegisterHistogram registers a histogram with the given name and label names.
func (c *promCollector) RegisterHistogram(_ context.Context, name string, labels ...string) (prometheus.Collector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if histogram, ok := c.histograms[name]; ok {
		return histogram, nil
	}
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      fmt.Sprintf("Histogram for %s_%s", c.namespace, name),
	}, labels)
	if err := c.registry.Register(histogram); err != nil {
		return nil, fmt.Errorf("failed to register histogram %s: %w", name, err)
	}
	c.histograms[name] = histogram
	return histogram, nil
}

// ObserveHistogram records the value on the histogram identified by name and label values.
func (c *promCollector) ObserveHistogram(_ context.Context, name string, value float64, labelValues ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	histogram, ok := c.histograms[name]
	if !ok {
		return fmt.Errorf("histogram %s is not registered", name)
	}
	histogram.WithLabelValues(labelValues...).Observe(value)
	return nil
}

// UnregisterHistogram removes the histogram with the given name.
func (c *promCollector) UnregisterHistogram(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	histogram, ok := c.histograms[name]
	if !ok {
		return fmt.Errorf("histogram %s is not registered", name)
	}
	c.registry.Unregister(histogram)
	delete(c.histograms, name)
	return nil
}

// Handler returns an HTTP handler that serves the collector's registry.
func (c *promCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
