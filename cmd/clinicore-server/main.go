package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicore/clinicore/internal/config"
	"github.com/clinicore/clinicore/internal/domain/audit"
	"github.com/clinicore/clinicore/internal/domain/catalog"
	"github.com/clinicore/clinicore/internal/domain/document"
	"github.com/clinicore/clinicore/internal/domain/encounter"
	"github.com/clinicore/clinicore/internal/domain/laborder"
	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/command"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/internal/platform/middleware"
	"github.com/clinicore/clinicore/internal/platform/render"
	"github.com/clinicore/clinicore/internal/platform/storage"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicore-server",
		Short: "Clinical encounter workflow API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server with an in-process render worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the standalone render worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			name, _ := cmd.Flags().GetString("name")
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			if name == "" {
				name = id
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.ProvisionTenant(ctx, pool, id, name); err != nil {
				return err
			}
			fmt.Printf("Tenant %s provisioned.\n", id)
			return nil
		},
	}
	createCmd.Flags().String("id", "", "Tenant identifier (lowercase alphanumeric)")
	createCmd.Flags().String("name", "", "Display name (defaults to the id)")

	cmd.AddCommand(createCmd)
	return cmd
}

// services bundles everything both the server and the worker wire up.
type services struct {
	encounters *encounter.Service
	catalog    *catalog.Service
	labs       *laborder.Service
	documents  *document.Service
	auditRepo  audit.Repository
	worker     *document.RenderWorker
	store      storage.DocumentStore
}

func buildServices(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*services, error) {
	auditRepo := audit.NewRepo(pool)
	recorder := audit.NewRecorder(auditRepo, logger)

	encSvc := encounter.NewService(encounter.NewRepo(pool), recorder, pool, logger)
	catSvc := catalog.NewService(catalog.NewRepo(pool))
	labSvc := laborder.NewService(laborder.NewRepo(pool), encSvc, catSvc, recorder, pool, logger)
	encSvc.SetLabGate(labSvc)

	docSvc := document.NewService(
		document.NewRepo(pool), document.NewJobRepo(pool),
		encSvc, labSvc, catSvc,
		recorder, pool, logger, cfg.RenderMaxAttempts,
	)
	labSvc.SetPublisher(&document.LabReportPublisher{Docs: docSvc})

	store, err := storage.NewFSStore(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("init document storage: %w", err)
	}

	worker := document.NewRenderWorker(docSvc, render.NewPDFRenderer(), store, logger)
	if cfg.RenderPollInterval > 0 {
		worker.PollInterval = cfg.RenderPollInterval
	}
	if cfg.RenderPruneInterval > 0 {
		worker.PruneInterval = cfg.RenderPruneInterval
	}

	return &services{
		encounters: encSvc,
		catalog:    catSvc,
		labs:       labSvc,
		documents:  docSvc,
		auditRepo:  auditRepo,
		worker:     worker,
		store:      store,
	}, nil
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	svcs, err := buildServices(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", "x-idempotency-key"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	api := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	// Handlers
	encHandler := encounter.NewHandler(svcs.encounters)
	labHandler := laborder.NewHandler(svcs.labs)
	docHandler := document.NewHandler(svcs.documents, svcs.store)
	catHandler := catalog.NewHandler(svcs.catalog)
	auditHandler := audit.NewHandler(svcs.auditRepo)

	encHandler.RegisterRoutes(api)
	labHandler.RegisterRoutes(api)
	docHandler.RegisterRoutes(api)
	catHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	// All `POST /encounters/{id}:verb` commands dispatch through one mux.
	mux := command.NewMux()
	encHandler.RegisterCommands(mux)
	labHandler.RegisterCommands(mux)
	docHandler.RegisterCommands(mux)
	api.POST("/encounters/:ref", mux.Handler())

	healthCache := db.NewHealthCache(5 * time.Second)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, healthCache))

	// In-process render worker
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go svcs.worker.Start(workerCtx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runWorker() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	svcs, err := buildServices(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	workerCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svcs.worker.Start(workerCtx)
	return nil
}
