package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smazurov/camrelay/internal/logging"
)

const namespace = "camrelay"

// PrometheusSink keeps one gauge per metric name, labelled by stream, on a
// private registry.
type PrometheusSink struct {
	stream   string
	registry *prometheus.Registry
	logger   logging.Logger

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec
}

// NewPrometheusSink creates a sink. A nil registry gets a fresh one.
func NewPrometheusSink(stream string, registry *prometheus.Registry) *PrometheusSink {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &PrometheusSink{
		stream:   stream,
		registry: registry,
		logger:   logging.GetLogger("metrics"),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

// Registry returns the registry the gauges live on.
func (p *PrometheusSink) Registry() *prometheus.Registry {
	return p.registry
}

// Export implements Sink. A <probe>_no_data value of 1 also drops the
// probe's rate series for this stream, so a stalled stream stops reporting
// its last good bandwidth and frame rate.
func (p *PrometheusSink) Export(name string, value float64, _ time.Time) error {
	gauge, err := p.gauge(name)
	if err != nil {
		return err
	}
	gauge.WithLabelValues(p.stream).Set(value)

	if probe, ok := strings.CutSuffix(name, SuffixNoData); ok && value != 0 {
		p.clearRates(probe)
	}
	return nil
}

func (p *PrometheusSink) clearRates(probe string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, suffix := range rateSuffixes {
		if g, ok := p.gauges[sanitizeMetricName(probe+suffix)]; ok {
			g.DeleteLabelValues(p.stream)
		}
	}
}

func (p *PrometheusSink) gauge(name string) (*prometheus.GaugeVec, error) {
	metricName := sanitizeMetricName(name)

	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.gauges[metricName]; ok {
		return g, nil
	}

	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      metricName,
		Help:      fmt.Sprintf("Relay probe metric %s", name),
	}, []string{"stream"})
	if err := p.registry.Register(g); err != nil {
		return nil, fmt.Errorf("register %s: %w", metricName, err)
	}
	p.gauges[metricName] = g
	return g, nil
}

// Close removes every gauge from the registry.
func (p *PrometheusSink) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, g := range p.gauges {
		p.registry.Unregister(g)
		delete(p.gauges, name)
	}
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics until ctx ends.
func (p *PrometheusSink) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return p.serve(ctx, ln)
}

func (p *PrometheusSink) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	p.logger.Info("Serving Prometheus metrics", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// sanitizeMetricName maps name onto the Prometheus metric name alphabet.
func sanitizeMetricName(name string) string {
	result := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, name)

	if result == "" || (result[0] >= '0' && result[0] <= '9') {
		result = "_" + result
	}
	return result
}
