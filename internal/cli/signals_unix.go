//go:build unix

package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vietddude/resilient/internal/network"
)

// watchConnectivitySignals lets the platform report connectivity: SIGUSR1
// marks the backend unreachable and SIGUSR2 marks it reachable again.
func watchConnectivitySignals(ctx context.Context, m *network.Monitor) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			online := sig == syscall.SIGUSR2
			slog.Info("Connectivity signal received", "signal", sig, "online", online)
			m.SetOnline(ctx, online)
		}
	}
}
