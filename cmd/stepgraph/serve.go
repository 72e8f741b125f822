package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rendis/stepgraph/internal/logging"
	"github.com/rendis/stepgraph/internal/panel"
	"github.com/rendis/stepgraph/internal/poller"
	"github.com/rendis/stepgraph/internal/secrets"
	"github.com/rendis/stepgraph/internal/store"
	"github.com/rendis/stepgraph/internal/streaming"
	"github.com/rendis/stepgraph/internal/validation"
)

const fetchTimeout = 30 * time.Second

// pipelineDeps outlive pipeline rebuilds.
type pipelineDeps struct {
	store store.Store
	hub   streaming.EventHub
	vault *secrets.AESVault
}

// pipeline is everything rebuilt when the validator or retention changes.
type pipeline struct {
	validator validation.Validator
	ingester  *poller.Ingester
	poller    *poller.Poller
	handler   http.Handler
}

func buildPipeline(cfg Config, st store.Store, hub streaming.EventHub, vault *secrets.AESVault, logger *slog.Logger) (*pipeline, error) {
	v, err := newValidator(cfg.SchemaPath)
	if err != nil {
		return nil, err
	}
	in := poller.NewIngester(st, hub, logger, cfg.Keep)
	var opts []poller.Option
	if vault != nil {
		opts = append(opts, poller.WithSecrets(vault))
	}
	p := poller.New(in, poller.NewHTTPFetcher(fetchTimeout), v, logger, opts...)
	ps := panel.NewPanelServer(panel.PanelDeps{
		Store:     st,
		Hub:       hub,
		Ingester:  in,
		Poller:    p,
		Validator: v,
		Logger:    logger,
		BinDir:    binDir(),
	})
	return &pipeline{validator: v, ingester: in, poller: p, handler: ps.Handler()}, nil
}

// newValidator builds the snapshot validator, adding the schema at path
// when one is configured.
func newValidator(path string) (*validation.SnapshotValidator, error) {
	var extra []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", path, err)
		}
		extra = data
	}
	return validation.NewSnapshotValidator(extra)
}

func openStore(ctx context.Context, dbPath string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + dbPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func runServe() {
	cfg := loadConfig()

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.New(os.Stderr, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, level, logger); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg Config, level *slog.LevelVar, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	vault, err := openVault(st)
	if err != nil {
		return err
	}
	if vault == nil {
		logger.Info("vault disabled, set STEPGRAPH_VAULT_KEY to use secret headers")
	}

	hub := streaming.NewMemoryHub()
	p, err := buildPipeline(cfg, st, hub, vault, logger)
	if err != nil {
		return err
	}
	if err := p.poller.Start(ctx, cfg.Watches); err != nil {
		return err
	}
	stopMaintenance, err := startMaintenance(ctx, st, logger)
	if err != nil {
		return err
	}
	defer stopMaintenance()

	swapper := newHandlerSwapper(p.handler)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           swapper,
		ReadHeaderTimeout: 10 * time.Second,
		// SSE streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	if err := writePIDFile(pidPath()); err != nil {
		logger.Warn("pidfile not written", slog.String("error", err.Error()))
	}
	defer os.Remove(pidPath())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stepgraph listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("db", cfg.DBPath),
			slog.Int("watches", len(cfg.Watches)))
		errCh <- srv.ListenAndServe()
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownErr := srv.Shutdown(shutdownCtx)
			if err := p.poller.Stop(); err != nil {
				logger.Warn("poller stop", slog.String("error", err.Error()))
			}
			logger.Info("stepgraph stopped")
			return shutdownErr

		case err := <-errCh:
			_ = p.poller.Stop()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err

		case <-hup:
			cfg, p = reload(ctx, cfg, p, pipelineDeps{st, hub, vault}, level, swapper, logger)
		}
	}
}

// reload applies a fresh configuration. Fields that need a restart keep their
// running values so the next diff still reports them.
func reload(ctx context.Context, cfg Config, p *pipeline, deps pipelineDeps,
	level *slog.LevelVar, swapper *handlerSwapper, logger *slog.Logger) (Config, *pipeline) {
	next := loadConfig()
	d := diffConfigs(cfg, next)
	if d.empty() {
		logger.Info("config reloaded, no changes")
		return cfg, p
	}

	if d.LogLevelChanged {
		level.Set(logging.ParseLevel(next.LogLevel))
		logger.Info("log level changed", slog.String("level", next.LogLevel))
	}

	switch {
	case d.PipelineChanged:
		np, err := buildPipeline(next, deps.store, deps.hub, deps.vault, logger)
		if err == nil {
			err = np.poller.ValidateWatches(next.Watches)
		}
		if err != nil {
			logger.Error("reload rejected", slog.String("error", err.Error()))
			next.Keep, next.SchemaPath, next.Watches = cfg.Keep, cfg.SchemaPath, cfg.Watches
			break
		}
		if err := p.poller.Stop(); err != nil {
			logger.Warn("poller stop", slog.String("error", err.Error()))
		}
		if err := np.poller.Start(ctx, next.Watches); err != nil {
			logger.Error("poller restart failed", slog.String("error", err.Error()))
		}
		swapper.Swap(np.handler)
		p = np
		logger.Info("pipeline rebuilt", slog.Int("keep", next.Keep), slog.String("schema", next.SchemaPath))

	case d.WatchesChanged:
		if err := p.poller.Reload(ctx, next.Watches); err != nil {
			logger.Error("watch reload rejected", slog.String("error", err.Error()))
			next.Watches = cfg.Watches
			break
		}
		logger.Info("watches reloaded", slog.Int("watches", len(next.Watches)))
	}

	for _, field := range d.RestartNeeded {
		logger.Warn("config change requires restart", slog.String("field", field))
	}
	next.ListenAddr, next.DBPath = cfg.ListenAddr, cfg.DBPath
	return next, p
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
