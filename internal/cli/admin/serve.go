package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/api/handlers"
	"github.com/cloo-solutions/deepresearch/internal/config"
	"github.com/cloo-solutions/deepresearch/internal/database"
	"github.com/cloo-solutions/deepresearch/internal/events"
	"github.com/cloo-solutions/deepresearch/internal/jobs"
	"github.com/cloo-solutions/deepresearch/internal/openai"
	"github.com/cloo-solutions/deepresearch/internal/pipeline"
	"github.com/cloo-solutions/deepresearch/internal/queue"
	"github.com/cloo-solutions/deepresearch/internal/repository"
	"github.com/cloo-solutions/deepresearch/internal/scoring"
	"github.com/cloo-solutions/deepresearch/internal/server"
	"github.com/cloo-solutions/deepresearch/internal/storage"
	"github.com/cloo-solutions/deepresearch/internal/telemetry"
	"github.com/cloo-solutions/deepresearch/internal/websearch"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the research API server",
		Long:  "Start the research API server together with the job queue and the expiry sweep",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides RESEARCH_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("migrations", "migrations", "Directory holding the SQL migrations")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasOpenAI() {
		return errors.New("RESEARCH_OPENAI_API_KEY is required to run the pipeline")
	}

	shutdownTelemetry := initTelemetry(cfg)
	defer shutdownTelemetry()

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		dir, _ := cmd.Flags().GetString("migrations")
		if err := database.Migrate(cfg.DatabaseURL, dir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	llm := openai.NewClientWithConfig(openai.Config{
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		ChatModel: cfg.ChatModel,
	})

	jobRepo := repository.NewResearchJobRepository(pool)
	knowledgeRepo := repository.NewKnowledgeChunkRepository(pool, llm)

	// A typed nil would make the retriever believe the web channel exists.
	var web pipeline.WebSearcher
	if cfg.HasWebSearch() {
		client, err := websearch.NewClient(websearch.Config{
			APIKey:            cfg.WebSearchAPIKey,
			BaseURL:           cfg.WebSearchURL,
			RequestsPerSecond: cfg.WebSearchRPS,
		})
		if err != nil {
			return fmt.Errorf("failed to create web search client: %w", err)
		}
		web = client
		log.Println("web search channel enabled")
	}

	classifier := scoring.NewClassifier(scoring.ClassifierConfig{
		PrimaryDomains:       cfg.PrimaryDomains,
		AuthoritativeDomains: cfg.AuthoritativeDomains,
		FlaggedDomains:       cfg.FlaggedDomains,
	})
	stages := queue.Stages{
		Decomposer: pipeline.NewDecomposer(llm, cfg.DecompositionTimeout),
		Retriever: pipeline.NewRetriever(knowledgeRepo, web, classifier, pipeline.RetrieverConfig{
			TopK:       cfg.RetrievalTopK,
			MaxSources: cfg.MaxSources,
			Timeout:    cfg.RetrievalTimeout,
		}),
		Assessor:    pipeline.NewAssessor(llm, cfg.ScoringTimeout, scoring.NewSourceScorer()),
		Synthesizer: pipeline.NewSynthesizer(llm, cfg.SynthesisTimeout),
	}

	bus, closeSinks, err := newEventBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	var archive queue.ReportArchive
	var reports handlers.ReportLinker
	if cfg.HasS3() {
		s3Client, err := newS3Client(ctx, cfg)
		if err != nil {
			return err
		}
		archive = s3Client
		reports = s3Client
	}

	queueSvc := queue.NewService(jobRepo, stages, bus, archive, queue.Config{
		MaxConcurrency:       cfg.MaxConcurrency,
		FailOnSynthesisError: cfg.FailOnSynthesisError,
	})
	if _, err := queueSvc.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume queued jobs: %w", err)
	}

	expiryWorker := jobs.NewWorker(
		queue.NewExpiryProcessor(jobRepo, bus, cfg.JobTTL),
		cfg.ExpiryInterval,
		jobs.WithName("expiry"),
		jobs.WithRunAtStart(),
	)
	go expiryWorker.Start(ctx)
	log.Printf("expiry worker started (ttl %s, every %s)", cfg.JobTTL, cfg.ExpiryInterval)

	router := server.NewRouter(server.RouterConfig{
		ResearchHandler: handlers.NewResearchHandler(queueSvc, jobRepo, bus, reports),
		HealthCheck:     pool.Ping,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	// Event streams are closed by the bus, so stop it before waiting on
	// open connections.
	bus.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
	expiryWorker.Stop()
	if err := queueSvc.Shutdown(shutdownCtx); err != nil {
		log.Printf("queue did not drain before timeout: %v", err)
	}

	log.Println("server exited")
	return nil
}

// initTelemetry enables Sentry when SENTRY_DSN is set.
func initTelemetry(cfg *config.Config) func() {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return func() {}
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	// Default to 10% sampling in production, 100% in development
	sampleRate := 0.1
	if environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              dsn,
		Environment:      environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Printf("telemetry init failed (continuing without tracing): %v", err)
		return func() {}
	}
	return shutdown
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("connected to database")
	return pool, nil
}

// newEventBus logs every event and fans out to Redis when configured. The
// returned func releases sink connections.
func newEventBus(ctx context.Context, cfg *config.Config) (*events.Bus, func(), error) {
	bus := events.NewBus(events.LogSink{})
	if !cfg.HasRedis() {
		return bus, func() {}, nil
	}

	sink, err := events.NewRedisSinkFromURL(ctx, cfg.RedisURL, cfg.RedisChannel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	bus.AddSink(sink)
	log.Printf("publishing events to redis channel %q", sink.Channel())

	return bus, func() {
		if err := sink.Close(); err != nil {
			log.Printf("failed to close redis sink: %v", err)
		}
	}, nil
}

func newS3Client(ctx context.Context, cfg *config.Config) (*storage.S3Client, error) {
	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
	return client, nil
}
