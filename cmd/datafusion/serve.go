package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/datafusion/internal/api"
	"github.com/rpattn/datafusion/internal/backend"
	"github.com/rpattn/datafusion/internal/db"
	"github.com/rpattn/datafusion/internal/export"
	"github.com/rpattn/datafusion/internal/ingestion"
	"github.com/rpattn/datafusion/internal/metrics"
	"github.com/rpattn/datafusion/internal/middleware"
	"github.com/rpattn/datafusion/internal/repository"
	"github.com/rpattn/datafusion/internal/state"
	"github.com/rpattn/datafusion/internal/transformations"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

type repositories struct {
	runs    repository.RunRepository
	exports repository.ExportJobRepository
	logs    repository.IngestionLogRepository
	close   func()
}

// openRepositories connects to Postgres when the database is enabled and falls back to
// in-memory repositories otherwise.
func openRepositories(ctx context.Context) (repositories, error) {
	if !cfg.Database.Enabled {
		logger.Info("database disabled, runs are kept in memory")
		return repositories{
			runs:    repository.NewMemoryRunRepository(),
			exports: repository.NewMemoryExportJobRepository(),
			logs:    repository.NewMemoryIngestionLogRepository(),
			close:   func() {},
		}, nil
	}

	conn, err := db.NewConnection(ctx, cfg.Database.Config)
	if err != nil {
		return repositories{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.Migrations {
		if err := db.RunMigrations(cfg.Database.Config, logger); err != nil {
			conn.Close()
			return repositories{}, err
		}
	}
	return repositories{
		runs:    repository.NewRunRepository(conn.Pool),
		exports: repository.NewExportJobRepository(conn.Pool),
		logs:    repository.NewIngestionLogRepository(conn.Pool),
		close:   conn.Close,
	}, nil
}

func newBackend(builder *transformations.Builder) (backend.DataBackend, error) {
	switch cfg.Backend.Mode {
	case backend.ModeHTTP:
		logger.Info("using remote backend", zap.String("base_url", cfg.Backend.BaseURL))
		client, err := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey,
			backend.WithTimeout(cfg.Backend.Timeout),
			backend.WithRateLimit(cfg.Backend.RateLimitRPS),
		)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		logger.Info("using fixture backend")
		fixture, err := backend.NewFixture(
			backend.WithBuilder(builder),
			backend.WithReviewSeconds(cfg.Mapping.ReviewSeconds),
		)
		if err != nil {
			return nil, err
		}
		return fixture, nil
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx)
	if err != nil {
		return err
	}
	defer repos.close()

	m := metrics.New()
	builder := transformations.NewBuilder(transformations.WithStrict(cfg.Preview.Strict))
	cached, err := transformations.NewCachedBuilder(builder, cfg.Preview.CacheSize, m)
	if err != nil {
		return err
	}
	data, err := newBackend(builder)
	if err != nil {
		return err
	}

	exports := export.NewService(repos.exports, logger,
		export.WithExportDirectory(cfg.Export.Dir),
		export.WithDownloadTokenTTL(cfg.Export.TokenTTL),
		export.WithRecorder(m),
	)

	server := api.NewServer(api.Deps{
		Runs:          repos.runs,
		IngestionLogs: repos.logs,
		Store:         state.NewStore(),
		Backend:       backend.Instrument(data, m),
		Ingestion:     ingestion.NewService(repos.logs, logger),
		Builder:       cached,
		Exports:       exports,
		Metrics:       m.Handler(),
		Logger:        logger,
	},
		api.WithThreshold(cfg.Mapping.Threshold),
		api.WithReviewSeconds(cfg.Mapping.ReviewSeconds),
		api.WithSampleCap(cfg.Preview.SampleCap),
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.Logging(logger)(server.Routes())),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", cfg.Server.Addr), zap.String("backend", string(cfg.Backend.Mode)))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return exports.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
