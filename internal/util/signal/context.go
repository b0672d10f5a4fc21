package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext is like signal.NotifyContext, but a second signal kills the
// process right away. With no signals given, it listens for SIGINT and SIGTERM.
func NotifyContext(parent context.Context, sig ...os.Signal) (context.Context, func()) {
	if len(sig) == 0 {
		sig = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sig...)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
			return
		}
		<-sigCh
		os.Exit(1)
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
