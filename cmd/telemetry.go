package cmd

import (
	"context"
	"slices"

	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/metrics"
	"github.com/smazurov/camrelay/internal/nats"
	"github.com/smazurov/camrelay/internal/session"
	"github.com/smazurov/camrelay/internal/systemd"
)

// telemetry is everything a session reports to: the event bus, the metric
// sinks and systemd.
type telemetry struct {
	bus      *events.Bus
	sink     metrics.Sink
	notifier *systemd.Notifier
	closers  []func()
}

// startTelemetry builds the sinks the options ask for. Optional outputs that
// fail to come up are logged and skipped; they never stop a session.
func (a *app) startTelemetry(ctx context.Context, logger logging.Logger) *telemetry {
	o := a.opts
	ctx, cancel := context.WithCancel(ctx)

	t := &telemetry{
		bus:      events.New(),
		notifier: systemd.NewNotifier(),
	}
	t.closers = append(t.closers, cancel, func() { _ = t.bus.Close() })

	go t.notifier.RunWatchdog(ctx)
	t.closers = append(t.closers, t.bus.Subscribe(func(e events.SessionStateEvent) {
		t.notifier.Status(e.State)
	}))

	sinks := metrics.MultiSink{metrics.NewLogSink(o.StreamName, logging.GetLogger("metrics"))}

	if o.MetricsPrometheusAddr != "" {
		prom := metrics.NewPrometheusSink(o.StreamName, nil)
		sinks = append(sinks, prom)
		t.closers = append(t.closers, prom.Close)
		go func() {
			if err := prom.Serve(ctx, o.MetricsPrometheusAddr); err != nil {
				logger.Warn("Prometheus endpoint stopped", "addr", o.MetricsPrometheusAddr, "error", err)
			}
		}()
	}

	natsURL := o.MetricsNatsURL
	if o.MetricsNatsEmbedded {
		srv := nats.NewServer(nats.ServerOptions{})
		if err := srv.Start(); err != nil {
			logger.Warn("Embedded NATS server failed to start", "error", err)
		} else {
			t.closers = append(t.closers, srv.Stop)
			if natsURL == "" {
				natsURL = srv.ClientURL()
			}
		}
	}
	if natsURL != "" {
		pub := nats.NewMetricsPublisher(nats.PublisherOptions{
			URL:      natsURL,
			Stream:   o.StreamName,
			User:     o.MetricsNatsUser,
			Password: o.MetricsNatsPassword,
			Token:    o.MetricsNatsToken,
		})
		if err := pub.Connect(); err != nil {
			logger.Warn("Publishing metrics without NATS", "url", natsURL, "error", err)
		}
		sinks = append(sinks, pub)
		t.closers = append(t.closers, pub.Close, t.bus.Subscribe(pub.PublishState))
	}

	t.sink = sinks
	return t
}

// common returns the session settings shared by stream and receive.
func (a *app) common(t *telemetry) session.Common {
	o := a.opts
	return session.Common{
		Stream:        o.StreamName,
		Monitoring:    o.MonitoringEnabled,
		Window:        o.MonitoringWindow,
		History:       o.MonitoringHistory,
		Sink:          t.sink,
		Bus:           t.bus,
		Notifier:      t.notifier,
		HandleSignals: true,
	}
}

// close releases everything in reverse order of creation.
func (t *telemetry) close() {
	for _, fn := range slices.Backward(t.closers) {
		fn()
	}
}
