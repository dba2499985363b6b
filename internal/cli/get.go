package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/resilient/internal/infra/request"
)

var (
	getParams  []string
	getNoCache bool
)

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Fetch a path through the request layer and print the body",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().StringArrayVar(&getParams, "param", nil, "query parameter as key=value (repeatable)")
	getCmd.Flags().BoolVar(&getNoCache, "no-cache", false, "bypass the response cache")
	rootCmd.AddCommand(getCmd)
}

// parsePairs parses repeated key=value flags.
func parsePairs(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(raw))
	for _, p := range raw {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid value %q, want key=value", p)
		}
		params[k] = v
	}
	return params, nil
}

func runGet(cmd *cobra.Command, args []string) error {
	params, err := parsePairs(getParams)
	if err != nil {
		return fmt.Errorf("--param: %w", err)
	}
	cmd.SilenceUsage = true
	cfg := loadConfig()

	// Ctrl-C cancels the in-flight request.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeApp(app)

	resp, err := app.Client.Get(ctx, args[0], params, request.Options{
		Cache:          !getNoCache,
		SuppressNotify: true,
	})
	if err != nil {
		return fmt.Errorf("GET %s: %w", args[0], err)
	}

	printBody(resp.Body)
	return nil
}

func printBody(body []byte) {
	_, _ = os.Stdout.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Println()
	}
}
