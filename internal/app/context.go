// Package app assembles the engine and its collaborators from a workspace.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"actgraph/internal/config"
	"actgraph/internal/db"
	"actgraph/internal/engine"
	"actgraph/internal/events"
	"actgraph/internal/ingest"
	"actgraph/internal/metrics"
	"actgraph/internal/migrate"
	"actgraph/internal/render"
	"actgraph/internal/server"
)

// Runtime is everything a command needs to work on one workspace.
type Runtime struct {
	Config   *config.Config
	DB       *sql.DB
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Engine   *engine.Engine
	Ingester *ingest.Ingester
	Renderer *render.Renderer
	// Events is nil when the journal is disabled.
	Events *events.Reader
	Logger *slog.Logger
}

// Open loads the workspace config (defaults when the file is missing), opens
// and migrates the journal database when enabled and wires the engine.
func Open(ctx context.Context, workspace string, logger *slog.Logger) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, workspace, cfg, logger)
}

func OpenWithConfig(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	}
	rt.Metrics = metrics.New(rt.Registry)
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(rt.Metrics),
	}
	var ingestOpts []ingest.Option
	if cfg.Journal.Enabled {
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
		rt.DB = conn
		rt.Events = &events.Reader{DB: conn}
		opts = append(opts, engine.WithJournal(events.Writer{DB: conn}))
		ingestOpts = append(ingestOpts, ingest.WithAckStore(&ingest.AckStore{DB: conn}))
	}
	eng, err := engine.New(cfg, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Engine = eng
	rt.Ingester = ingest.New(eng, append(ingestOpts, ingest.WithLogger(logger), ingest.WithMetrics(rt.Metrics))...)
	rt.Renderer = render.New(eng, render.WithOracle(eng.Oracle()))
	logger.Debug("runtime ready", "workspace", workspace, "journal", cfg.Journal.Enabled)
	return rt, nil
}

// Handler builds the HTTP API over the runtime.
func (rt *Runtime) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:   rt.Engine,
		Ingester: rt.Ingester,
		Renderer: rt.Renderer,
		Events:   rt.Events,
		Gatherer: rt.Registry,
		BasePath: rt.Config.Server.BasePath,
		Auth:     server.AuthConfig{JWTSecret: rt.Config.Server.JWTSecret},
		Logger:   rt.Logger,
	})
}

func (rt *Runtime) Close() error {
	if rt.DB == nil {
		return nil
	}
	return rt.DB.Close()
}
