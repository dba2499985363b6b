package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/resilient/internal/api"
	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/request"
)

var (
	sendData        string
	sendDataFile    string
	sendType        string
	sendHeaders     []string
	sendOfflineSafe bool
	sendOffline     bool
)

var sendCmd = &cobra.Command{
	Use:   "send <method> <path>",
	Short: "Send a mutating request, queueing it for replay when the backend is unreachable",
	Example: `  resilient send POST /posts --data '{"title":"draft"}' --type create_post
  resilient send DELETE /posts/1 --offline-safe
  resilient send PUT /notes/1 --data-file note.txt --header Content-Type=text/plain`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendData, "data", "", "request body, sent verbatim")
	sendCmd.Flags().StringVar(&sendDataFile, "data-file", "", "read the request body from a file")
	sendCmd.Flags().StringVar(&sendType, "type", "", "action type recorded in the offline queue")
	sendCmd.Flags().StringArrayVar(&sendHeaders, "header", nil, "request header as key=value (repeatable)")
	sendCmd.Flags().BoolVar(&sendOfflineSafe, "offline-safe", false, "also queue the request when it fails with a network error")
	sendCmd.Flags().BoolVar(&sendOffline, "offline", false, "queue the request without contacting the backend")
	sendCmd.MarkFlagsMutuallyExclusive("data", "data-file")
	rootCmd.AddCommand(sendCmd)
}

// buildMutation turns send arguments into a mutation.
func buildMutation(method, path string, body []byte, headers []string) (api.Mutation, error) {
	m := domain.Method(strings.ToUpper(method))
	if m.IsRead() {
		return api.Mutation{}, fmt.Errorf("%s is not a mutating method, use get", m)
	}

	hdrs, err := parsePairs(headers)
	if err != nil {
		return api.Mutation{}, fmt.Errorf("--header: %w", err)
	}

	mut := api.Mutation{
		Type:        sendType,
		Method:      m,
		Endpoint:    path,
		Headers:     hdrs,
		OfflineSafe: sendOfflineSafe,
	}
	if mut.Type == "" {
		mut.Type = strings.ToLower(string(m)) + " " + path
	}
	if len(body) > 0 {
		mut.Body = body
	}
	return mut, nil
}

func readBody() ([]byte, error) {
	if sendDataFile == "" {
		return []byte(sendData), nil
	}
	data, err := os.ReadFile(sendDataFile)
	if err != nil {
		return nil, fmt.Errorf("read --data-file: %w", err)
	}
	return data, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	body, err := readBody()
	if err != nil {
		return err
	}
	mut, err := buildMutation(args[0], args[1], body, sendHeaders)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeApp(app)

	if sendOffline {
		app.Monitor.SetOnline(ctx, false)
	} else {
		app.Monitor.Check(ctx)
	}

	resp, err := app.Client.Mutate(ctx, mut, request.Options{SuppressNotify: true})
	if errors.Is(err, api.ErrQueued) {
		slog.Info("Saved for offline replay",
			"method", mut.Method,
			"endpoint", mut.Endpoint,
			"pending", app.Queue.Len(),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", mut.Method, mut.Endpoint, err)
	}

	slog.Debug("Request sent", "status", resp.Status)
	printBody(resp.Body)
	return nil
}
