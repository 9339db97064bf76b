package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// WatchSignals forwards the first of sigs to c as a ReasonSignal trigger.
// The handler is a plain goroutine, so teardown never runs in signal
// context. It stops listening when ctx ends or the coordinator stops.
func WatchSignals(ctx context.Context, c *Coordinator, sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			c.logger.Info("Received shutdown signal", "signal", sig.String())
			c.Trigger(ReasonSignal, nil)
		case <-ctx.Done():
		case <-c.Stopped():
		}
	}()
}
