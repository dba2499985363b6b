package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending offline actions",
	RunE:  runQueueList,
}

var queueSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Probe connectivity and replay pending offline actions",
	RunE:  runQueueSync,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every pending offline action",
	RunE:  runQueueClear,
}

func init() {
	queueCmd.AddCommand(queueListCmd, queueSyncCmd, queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cfg := loadConfig()
	ctx := context.Background()
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeApp(app)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tMETHOD\tENDPOINT\tQUEUED")
	for _, a := range app.Queue.Pending() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Type, a.Method, a.Endpoint, a.Timestamp.Format(time.RFC3339))
	}
	return w.Flush()
}

func runQueueSync(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cfg := loadConfig()
	ctx := context.Background()
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeApp(app)

	app.Monitor.Check(ctx)
	res, err := app.Queue.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync offline queue: %w", err)
	}
	if res.Skipped {
		slog.Warn("Backend unreachable, nothing replayed", "pending", app.Queue.Len())
		return nil
	}
	slog.Info("Sync finished",
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"pending", app.Queue.Len(),
	)
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cfg := loadConfig()
	ctx := context.Background()
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeApp(app)

	n := app.Queue.Len()
	if err := app.Queue.Clear(ctx); err != nil {
		return fmt.Errorf("clear offline queue: %w", err)
	}
	slog.Info("Offline queue cleared", "removed", n)
	return nil
}
