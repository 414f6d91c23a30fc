package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/cloo-solutions/vectis/internal/api/handlers"
	"github.com/cloo-solutions/vectis/internal/config"
	"github.com/cloo-solutions/vectis/internal/database"
	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/jobs"
	"github.com/cloo-solutions/vectis/internal/provider"
	"github.com/cloo-solutions/vectis/internal/repository"
	"github.com/cloo-solutions/vectis/internal/server"
	"github.com/cloo-solutions/vectis/internal/service"
	"github.com/cloo-solutions/vectis/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the vectis API server with the background index worker and reconciliation sweeps",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPoolFromURL(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	kbRepo := repository.NewKnowledgeBaseRepository(pool)
	docRepo := repository.NewDocumentRepository(pool)
	indexRepo := repository.NewDocumentIndexRepository(pool)
	vectorRepo := repository.NewVectorRepository(pool)
	cacheRepo := repository.NewEmbeddingCacheRepository(pool)
	lockRepo := repository.NewLockRepository(pool)
	jobRepo := repository.NewIndexJobRepository(pool)
	orgRepo := repository.NewOrganizationRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	if !cfg.HasOpenAI() {
		return fmt.Errorf("OPENAI_API_KEY is required to serve")
	}
	embeddingClient := provider.NewClientWithConfig(provider.Config{
		APIKey:              cfg.OpenAIAPIKey,
		EmbeddingDimensions: cfg.DefaultEmbeddingDim,
	})

	embedder := service.NewEmbedder(embeddingClient, cacheRepo, orgRepo)
	pipeline := service.NewIndexingPipeline(kbRepo, docRepo, embedder, txRunner)
	searchEngine := service.NewSearchEngineWithConfig(kbRepo, vectorRepo, embedder, service.SearchConfig{
		MaxElapsed: cfg.SearchRetryBudget,
	})
	reconciler := service.NewReconciler(kbRepo, docRepo, indexRepo, vectorRepo, pipeline, jobRepo, lockRepo).
		WithConfig(service.ReconcilerConfig{LeaseTTL: cfg.ReconcileLeaseTTL})
	kbSvc := service.NewKnowledgeBaseService(kbRepo, docRepo, vectorRepo, jobRepo, cfg.DefaultEmbeddingModel, cfg.DefaultEmbeddingDim)

	indexProcessor := jobs.NewIndexWorker(jobRepo, pipeline, kbRepo, docRepo, indexRepo)
	indexWorker := jobs.NewWorker(indexProcessor, cfg.WorkerPollInterval)
	go indexWorker.Start(ctx)
	log.Println("index worker started")

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	if cfg.ReconcileInterval > 0 {
		go runReconcileSweeps(sweepCtx, kbRepo, reconciler, cfg.ReconcileInterval)
		log.Printf("reconciliation sweeps every %s", cfg.ReconcileInterval)
	}

	routerCfg := server.RouterConfig{
		KnowledgeBaseHandler: handlers.NewKnowledgeBaseHandler(kbSvc),
		SearchHandler:        handlers.NewSearchHandler(searchEngine),
		ReconcileHandler:     handlers.NewReconcileHandler(reconciler),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	stopSweeps()
	indexWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// runReconcileSweeps periodically sweeps every knowledge base. The per-KB
// lease keeps concurrent deployments from sweeping the same base twice, so
// a sweep skipped here is a sweep done elsewhere.
func runReconcileSweeps(ctx context.Context, kbRepo *repository.KnowledgeBaseRepository, reconciler *service.Reconciler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		kbs, err := kbRepo.List(ctx)
		if err != nil {
			log.Printf("reconcile sweep: failed to list knowledge bases: %v", err)
			continue
		}
		for _, kb := range kbs {
			if kb.Status != domain.KnowledgeBaseStatusActive {
				continue
			}
			report, err := reconciler.Reconcile(ctx, service.ReconcileInput{KBID: kb.ID})
			if err != nil {
				log.Printf("reconcile sweep: kb %s: %v", kb.ID, err)
				continue
			}
			if len(report.Issues) > 0 {
				log.Printf("reconcile sweep: kb %s: %d issues, %d repaired", kb.ID, len(report.Issues), report.Repaired)
			}
		}
	}
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
