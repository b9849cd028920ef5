package runtime

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalContext is cancelled by the first SIGINT or SIGTERM. A second signal
// exits the process without waiting for graceful shutdown.
func SignalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			signal.Stop(ch)
			close(stopped)
			cancel()
		})
	}

	go func() {
		select {
		case sig := <-ch:
			if logger != nil {
				logger.Info("shutdown requested", "signal", sig.String())
			}
			cancel()
		case <-stopped:
			return
		}
		select {
		case sig := <-ch:
			if logger != nil {
				logger.Warn("forced exit", "signal", sig.String())
			}
			os.Exit(1)
		case <-stopped:
		}
	}()
	return ctx, stop
}
