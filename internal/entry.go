// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/generalrules/internal/api"
	"github.com/starford/generalrules/internal/bundle"
	"github.com/starford/generalrules/internal/generalrule"
	"github.com/starford/generalrules/internal/index"
	"github.com/starford/generalrules/internal/inventory"
	"github.com/starford/generalrules/internal/matcher"
	"github.com/starford/generalrules/internal/mcpserver"
	"github.com/starford/generalrules/internal/rulesync"
	"github.com/starford/generalrules/internal/sse"
	"github.com/starford/generalrules/internal/storage"
)

// reloadDelay coalesces watcher events into one LoadData call.
const reloadDelay = 300 * time.Millisecond

// services are the components shared by every command.
type services struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *index.DB
	model  *generalrule.Model
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setup opens storage and the index, loads the inventory and builds the
// Model. Callers must call close.
func (app *application) setup(ctx context.Context) (*services, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("rules_dir", cfg.Rules.Dir),
		slog.String("inventory_path", cfg.Inventory.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("remote_enabled", cfg.Remote.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure rules directory exists.
	if err := os.MkdirAll(cfg.Rules.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create rules dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Rules.Dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if err := inventory.Refresh(ctx, cfg.Inventory.Path, db, logger); err != nil {
		logger.Warn("initial inventory load failed", slog.String("error", err.Error()))
	}

	// Run initial sync so documents edited while stopped change the rule hash.
	if _, err := index.Sync(ctx, db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	var syncOpts []rulesync.Option
	if cfg.Remote.Enabled() {
		syncOpts = append(syncOpts, rulesync.WithRemote(cfg.Remote.URL, cfg.Remote.Timeout))
	}

	model := generalrule.NewModel(generalrule.Deps{
		Apps:     db,
		Rules:    db,
		Searcher: db,
		Remote:   rulesync.New(db, store, logger, syncOpts...),
		Matcher:  matcher.New(db, logger),
		Init:     bundle.New(store, logger),
		Props:    generalrule.NewKVProperties(db, cfg.Rules.InitialRuleID),
	},
		generalrule.WithLogger(logger),
		generalrule.WithKeyword(cfg.Rules.Keyword),
	)

	return &services{cfg: cfg, logger: logger, store: store, db: db, model: model}, nil
}

func (s *services) close() {
	s.model.Close()
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close index failed", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer svc.close()

	cfg, logger, model := svc.cfg, svc.logger, svc.model

	// SSE broker.
	broker := sse.NewBroker(cfg.App.SSEThrottle)
	defer broker.Close()
	unsubscribe := model.Subscribe(broker.Listener())
	defer unsubscribe()

	apiRouter := api.NewRouter(model, svc.db, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		state := model.State().Status
		if state == generalrule.StatusSuccess {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": state.String()})
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	model.LoadData()

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Re-index rule documents and refresh the view when files change.
	if cfg.Rules.Watch {
		reload := newRefresher(reloadDelay, model.LoadData)
		defer reload.Stop()

		g.Go(func() error {
			watchOpts := index.WatchOptions{InventoryPath: cfg.Inventory.Path}
			err := index.Watch(gCtx, svc.db, svc.store, watchOpts, logger, func(kind, _ string) {
				if kind == index.EventInventory {
					if err := inventory.Refresh(gCtx, cfg.Inventory.Path, svc.db, logger); err != nil {
						logger.Warn("inventory reload failed", slog.String("error", err.Error()))
						return
					}
				}
				reload.Trigger()
			})
			if err != nil {
				return fmt.Errorf("watcher error: %w", err)
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Close SSE streams first so Shutdown does not wait on them.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown stops the remaining errgroup goroutines after a signal.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tool surface on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	svc, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer svc.close()

	svc.model.LoadData()

	svc.logger.Info("Starting MCP server on stdio")
	if err := mcpserver.New(svc.model, svc.store, svc.db).ServeStdio(); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// RunRefresh runs a single pass and writes the resulting state to out as
// JSON.
func RunRefresh(ctx context.Context, out io.Writer, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	svc, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer svc.close()

	settled := make(chan generalrule.Event, 1)
	unsubscribe := svc.model.Subscribe(func(ev generalrule.Event) {
		if ev.Type != generalrule.EventSettled {
			return
		}
		select {
		case settled <- ev:
		default:
		}
	})
	defer unsubscribe()

	svc.model.LoadData()

	var ev generalrule.Event
	select {
	case ev = <-settled:
	case <-ctx.Done():
		return ctx.Err()
	}

	result := struct {
		State generalrule.UiState `json:"state"`
		Alert string              `json:"alert,omitempty"`
	}{State: ev.State, Alert: ev.Alert}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if result.State.Status == generalrule.StatusError {
		return fmt.Errorf("refresh failed: %s", result.State.Message)
	}
	return nil
}
