//go:build !unix

package cli

import (
	"context"

	"github.com/vietddude/resilient/internal/network"
)

func watchConnectivitySignals(context.Context, *network.Monitor) {}
