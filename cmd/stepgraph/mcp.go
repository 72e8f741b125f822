package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/stepgraph/internal/logging"
	"github.com/rendis/stepgraph/internal/poller"
	"github.com/rendis/stepgraph/internal/streaming"
	"github.com/rendis/stepgraph/pkg/mcp"
)

// runMCP serves the MCP tools on stdio. Logs go to stderr since stdout
// carries the protocol.
func runMCP() {
	cfg := loadConfig()

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.New(os.Stderr, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := newValidator(cfg.SchemaPath)
	if err != nil {
		logger.Error("validator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	deps := mcp.StepgraphServerDeps{
		Validator: v,
		Logger:    logger,
		BinDir:    binDir(),
	}

	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		logger.Warn("snapshot archive unavailable, serving inline snapshots only",
			slog.String("db", cfg.DBPath), slog.String("error", err.Error()))
	} else {
		defer st.Close()
		hub := streaming.NewMemoryHub()
		deps.Store = st
		deps.Hub = hub
		deps.Ingester = poller.NewIngester(st, hub, logger, cfg.Keep)
	}

	if err := mcp.NewStepgraphServer(deps).Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("mcp server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
