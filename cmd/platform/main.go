// Package main runs workflow nodes for the chat platform. Each JSON request read
// from the input names a node and carries its input; one JSON response is
// written per request.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/config"
	"github.com/easeaico/roza/internal/handler"
	"github.com/easeaico/roza/internal/logging"
	"github.com/easeaico/roza/internal/storage"
)

var (
	inputPath string
	nodeName  string
	pretty    bool
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "platform",
		Short: "Run workflow nodes over JSON",
		Long: `Reads JSON requests of the form {"node": "...", "input": {...}} and writes
one JSON response per request. With --node the input is the bare node input.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runNodes,
	}
	root.Flags().StringVarP(&inputPath, "input", "i", "", "read requests from this file instead of stdin")
	root.Flags().StringVarP(&nodeName, "node", "n", "", "treat the input as the input of this node")
	root.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")

	root.AddCommand(&cobra.Command{
		Use:   "nodes",
		Short: "List the available nodes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			m := storage.NewMemoryStore()
			h := handler.New(m, m.Configs(), handler.Options{}, nil)
			for _, name := range h.Nodes() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	})
	return root
}

func runNodes(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("configuration loaded",
		zap.String("store", cfg.Store),
		zap.String("timezone", cfg.Timezone),
		zap.String("command_prefix", cfg.CommandPrefix),
	)

	store, err := storage.NewStore(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	h := handler.New(store.Documents, store.Configs, handler.Options{
		Location:      cfg.Location(),
		CommandPrefix: cfg.CommandPrefix,
		Rand:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}, logger)

	in := cmd.InOrStdin()
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	return serve(ctx, h, in, cmd.OutOrStdout(), nodeName, logger)
}

// serve dispatches every JSON value read from r. A failing node does not stop
// the loop; its error is reported in the response and the exit status.
func serve(ctx context.Context, h *handler.Handler, r io.Reader, w io.Writer, node string, logger *zap.Logger) error {
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}

	var failed int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := next(dec, node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to decode request: %w", err)
		}

		resp, err := h.Dispatch(ctx, req)
		if err != nil {
			failed++
			logger.Warn("node failed", zap.String("node", req.Node), zap.Error(err))
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d request(s) failed", failed)
	}
	return nil
}

func next(dec *json.Decoder, node string) (handler.Request, error) {
	if node != "" {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return handler.Request{}, err
		}
		return handler.Request{Node: node, Input: raw}, nil
	}
	var req handler.Request
	err := dec.Decode(&req)
	return req, err
}
