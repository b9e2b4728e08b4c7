package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/playcore/internal/config"
	"github.com/jmylchreest/playcore/internal/daemon"
	"github.com/jmylchreest/playcore/internal/database"
	internalhttp "github.com/jmylchreest/playcore/internal/http"
	"github.com/jmylchreest/playcore/internal/http/handlers"
	"github.com/jmylchreest/playcore/internal/repository"
	"github.com/jmylchreest/playcore/internal/scheduler"
	"github.com/jmylchreest/playcore/internal/session"
	"github.com/jmylchreest/playcore/internal/version"
	"github.com/jmylchreest/playcore/pkg/duration"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playcore daemon",
	Long: `Start the playcore HTTP API and, when enabled, the gRPC health service.

The daemon provides:
- REST API to create, control and inspect playback sessions
- Server-sent event streams of session events
- A session journal in the configured database
- Health, liveness and readiness endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().Int("grpc-port", 9090, "Port of the gRPC health service")
	serveCmd.Flags().String("database", "playcore.db", "Journal database DSN")
	serveCmd.Flags().Int("max-sessions", 16, "Maximum number of concurrent sessions")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("grpc.port", serveCmd.Flags().Lookup("grpc-port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("server.max_sessions", serveCmd.Flags().Lookup("max-sessions"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db       *database.DB
		sessions repository.SessionRepository
		events   repository.EventRepository
	)
	if cfg.Journal.Enabled {
		db, err = openJournal(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		sessions = repository.NewSessionRepository(db.DB)
		events = repository.NewEventRepository(db.DB)
	}

	// One client for all sessions so its circuit breaker sees every origin
	// failure.
	registry := httpclient.NewRegistry()
	client := httpclient.New(session.ClientConfig(cfg, logger))
	registry.Register("segments", client)

	manager := session.NewManager(session.ManagerConfig{
		Config:   cfg,
		Client:   client,
		Sessions: sessions,
		Events:   events,
		Logger:   logger,
	})

	sched := scheduler.New().WithLogger(logger)
	if sessions != nil && cfg.Journal.Retention > 0 {
		prune := scheduler.NewJournalPrune(sessions, cfg.Journal.Retention.Duration(), logger, nil)
		if err := sched.Add(scheduler.JournalPruneTask, cfg.Journal.PruneCron, prune); err != nil {
			return fmt.Errorf("scheduling journal pruning: %w", err)
		}
		logger.Info("journal retention enabled",
			slog.String("retention", duration.Format(cfg.Journal.Retention.Duration())),
			slog.String("schedule", cfg.Journal.PruneCron))
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	server := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)
	registerHandlers(server, manager, registry, db, sched, sessions, events)

	var grpcServer *daemon.Server
	if cfg.GRPC.Enabled {
		grpcServer = daemon.NewServer(logger, &daemon.Config{
			ListenAddr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.GRPC.Port)),
		}, manager)
		if err := grpcServer.Start(ctx); err != nil {
			return fmt.Errorf("starting gRPC server: %w", err)
		}
	}

	logger.Info("starting playcore daemon",
		slog.String("address", server.Addr()),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
		slog.Bool("journal", cfg.Journal.Enabled),
		slog.String("version", version.Version),
	)

	serveErr := server.ListenAndServe(ctx)

	// The HTTP server is down; stop sessions so the journal is complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		if err := grpcServer.Stop(shutdownCtx); err != nil {
			logger.Warn("gRPC server did not stop cleanly", slog.String("error", err.Error()))
		}
	}
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Warn("sessions did not stop cleanly", slog.String("error", err.Error()))
	}
	return serveErr
}

// registerHandlers mounts every API handler on server.
func registerHandlers(
	server *internalhttp.Server,
	manager *session.Manager,
	registry *httpclient.Registry,
	db *database.DB,
	sched *scheduler.Scheduler,
	sessions repository.SessionRepository,
	events repository.EventRepository,
) {
	health := handlers.NewHealthHandler(version.Version).
		WithRegistry(registry).
		WithScheduler(sched).
		WithManager(manager)
	if db != nil {
		health.WithDB(db.DB)
	}
	health.Register(server.API())

	handlers.NewSessionHandler(manager, sessions).Register(server.API())

	eventHandler := handlers.NewEventHandler(manager, sessions, events)
	eventHandler.Register(server.API())
	eventHandler.RegisterSSE(server.Router())

	handlers.NewSystemHandler(manager).Register(server.API())
	handlers.NewCircuitBreakerHandler(registry).Register(server.API())
}

// openJournal connects to the journal database and applies migrations.
func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.DB, error) {
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := db.Migrate(migrateCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}
