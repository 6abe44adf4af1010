package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/joho/godotenv/autoload"

	"entertainment-planner/internal/api"
	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/domain"
	"entertainment-planner/internal/editor"
	"entertainment-planner/internal/enricher"
	"entertainment-planner/internal/infrastructure/repository"
	"entertainment-planner/internal/ingestion"
	"entertainment-planner/internal/ontology"
	"entertainment-planner/internal/profiles"
	"entertainment-planner/internal/prompts"
	"entertainment-planner/internal/rails"
	"entertainment-planner/internal/refresh"
	"entertainment-planner/internal/retrieval"
	"entertainment-planner/internal/slotter"
	"entertainment-planner/internal/summarizer"
	"entertainment-planner/pkg/config"
	"entertainment-planner/pkg/container"
	"entertainment-planner/pkg/database"
	"entertainment-planner/pkg/events"
	"entertainment-planner/pkg/health"
	"entertainment-planner/pkg/logging"
	metricsPkg "entertainment-planner/pkg/metrics"
	"entertainment-planner/pkg/monitoring"
)

func main() {
	c := container.New()

	_ = c.Provide(func() *config.Config { return config.Load() }, true)

	_ = c.Provide(func(cfg *config.Config) (*logging.Logger, error) {
		return logging.NewLogger(logging.LogConfig{
			Level:       logging.ParseLevel(cfg.LogLevel),
			Format:      cfg.LogFormat,
			Output:      "stdout",
			EnableFile:  cfg.EnableFileLogging,
			FilePath:    cfg.LogFile,
			EnableAsync: false,
		})
	}, true)

	_ = c.Provide(func(cfg *config.Config) (*database.DB, error) {
		return database.NewWithConfig(cfg.DatabaseURL, cfg)
	}, true)

	_ = c.Provide(func(db *database.DB) domain.Repository { return repository.NewSQLRepository(db) }, true)

	_ = c.Provide(func() (*ontology.Dictionary, error) { return ontology.Load() }, true)

	_ = c.Provide(func(cfg *config.Config) (*prompts.Manager, error) {
		return prompts.NewManager(cfg.PromptDir)
	}, true)

	_ = c.Provide(func(cfg *config.Config, pm *prompts.Manager) *summarizer.AIScorer {
		return summarizer.NewAIScorer(cfg.OpenAIAPIKey, pm)
	}, true)

	_ = c.Provide(func(cfg *config.Config) (*enricher.GoogleEnricher, error) {
		return enricher.NewGoogleEnricher(cfg.GoogleMapsAPIKey)
	}, true)

	_ = c.Provide(func() *editor.Engine { return editor.NewEngine() }, true)

	_ = c.Provide(func(db *database.DB) (events.EventStore, error) { return events.NewSQLEventStore(db) }, true)

	_ = c.Provide(func(repo domain.Repository, summ *summarizer.AIScorer, enr *enricher.GoogleEnricher, ed *editor.Engine, logger *logging.Logger, cfg *config.Config) *ingestion.Pipeline {
		ic := ingestion.DefaultConfig()
		if cfg.WorkerCount > 0 {
			ic.WorkerCount = cfg.WorkerCount
		}
		return ingestion.New(repo, summ, enr, ed, logger, ic)
	}, true)

	_ = c.Provide(func(dict *ontology.Dictionary, cfg *config.Config) *slotter.Extractor {
		sc := slotter.DefaultConfig()
		if cfg.SlotterMaxSlots > 0 {
			sc.MaxSlots = cfg.SlotterMaxSlots
		}
		if cfg.SlotterMinConf > 0 {
			sc.MinConfidence = cfg.SlotterMinConf
		}
		if cfg.SlotterCacheTTL > 0 {
			sc.CacheTTL = cfg.SlotterCacheTTL
		}
		return slotter.New(dict, sc)
	}, true)

	_ = c.Provide(func(repo domain.Repository) *retrieval.Engine { return retrieval.New(repo) }, true)

	_ = c.Provide(func() *profiles.Store { return profiles.New() }, true)

	_ = c.Provide(func(extractor *slotter.Extractor, eng *retrieval.Engine, sessions *profiles.Store) *rails.Composer {
		return rails.New(extractor, eng, sessions)
	}, true)

	_ = c.Provide(func(db *database.DB, dict *ontology.Dictionary, logger *logging.Logger) *refresh.Scheduler {
		return refresh.New(db, dict, logger)
	}, true)

	_ = c.Provide(func(cfg *config.Config, logger *logging.Logger) *health.HealthManager {
		hc := health.DefaultHealthConfig()
		hc.Timeout = constants.HealthTimeoutDefault
		return health.NewHealthManager(hc, logger)
	}, true)

	var cfg *config.Config
	if err := c.Resolve(&cfg); err != nil {
		log.Fatal("config resolve:", err)
	}
	monitoring.EnableProfiling(cfg.ProfilingEnabled)
	log.Println("Starting venue discovery system")

	var logger *logging.Logger
	if err := c.Resolve(&logger); err != nil {
		log.Fatal("logger resolve:", err)
	}

	var (
		db              *database.DB
		repo            domain.Repository
		dict            *ontology.Dictionary
		pipeline        *ingestion.Pipeline
		refresher       *refresh.Scheduler
		composer        *rails.Composer
		sessions        *profiles.Store
		retrievalEngine *retrieval.Engine
		extractor       *slotter.Extractor
		hm              *health.HealthManager
		es              events.EventStore
		ed              *editor.Engine
	)
	if err := c.Resolve(&db); err != nil {
		log.Fatal("db resolve:", err)
	}
	if err := c.Resolve(&repo); err != nil {
		log.Fatal("repo resolve:", err)
	}
	if err := c.Resolve(&dict); err != nil {
		log.Fatal("ontology resolve:", err)
	}
	if err := c.Resolve(&pipeline); err != nil {
		log.Fatal("pipeline resolve:", err)
	}
	if err := c.Resolve(&refresher); err != nil {
		log.Fatal("refresh resolve:", err)
	}
	if err := c.Resolve(&composer); err != nil {
		log.Fatal("rails resolve:", err)
	}
	if err := c.Resolve(&sessions); err != nil {
		log.Fatal("profiles resolve:", err)
	}
	if err := c.Resolve(&retrievalEngine); err != nil {
		log.Fatal("retrieval resolve:", err)
	}
	if err := c.Resolve(&extractor); err != nil {
		log.Fatal("slotter resolve:", err)
	}
	if err := c.Resolve(&hm); err != nil {
		log.Fatal("health manager resolve:", err)
	}
	if err := c.Resolve(&es); err != nil {
		log.Fatal("event store resolve:", err)
	}
	if err := c.Resolve(&ed); err != nil {
		log.Fatal("editor resolve:", err)
	}

	hm.RegisterChecker(health.NewDatabaseHealthChecker(db.Conn(), "database"))
	hm.RegisterChecker(pipeline)
	hm.RegisterChecker(refresher)

	pipeline.Start()
	refresher.Start()

	// Config watcher for hot-reload: the pipeline/slotter/rails components
	// read their tuning from cfg at construction time, so a reload only
	// replaces this local cfg value and logs the changed fields; components
	// already built, the API server included, keep the config they were given.
	cw := config.NewWatcher(time.Duration(cfg.ConfigReloadIntervalSeconds) * time.Second)
	cw.Start()
	chgCh := cw.Subscribe()
	go func() {
		for chg := range chgCh {
			if chg.Err != nil {
				log.Printf("Config reload failed: %v", chg.Err)
				continue
			}
			cfg = chg.New
			log.Printf("Config applied. Changed fields: %v", chg.Fields)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Received shutdown signal, initiating graceful shutdown...")
		if err := pipeline.Stop(constants.GracefulShutdownTimeoutDefault); err != nil {
			log.Printf("Ingestion pipeline shutdown error: %v", err)
		}
		if err := refresher.Stop(constants.GracefulShutdownTimeoutDefault); err != nil {
			log.Printf("Refresh scheduler shutdown error: %v", err)
		}
		cancel()
	}()

	server := api.NewServer(cfg, repo, dict, extractor, retrievalEngine, composer, sessions, hm, es, db.Conn(), logger)

	router := mux.NewRouter()

	var metrics *monitoring.Metrics
	if cfg.MetricsEnabled {
		metrics = monitoring.NewMetrics(512)
		router.Use(monitoring.Middleware(metrics))
	}

	server.Register(router)

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	var adminServer *http.Server
	if cfg.ProfilingEnabled || cfg.MetricsEnabled {
		adminMux := http.NewServeMux()
		if cfg.ProfilingEnabled {
			monitoring.RegisterPprof(adminMux)
		}
		if cfg.MetricsEnabled {
			adminMux.Handle(cfg.MetricsPath, metricsPkg.Handler())
		}
		adminServer = &http.Server{Addr: ":" + cfg.ProfilingPort, Handler: adminMux}
		go func() {
			fmt.Printf("Admin server (pprof/metrics) starting on port %s\n", cfg.ProfilingPort)
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Admin HTTP server error: %v", err)
			}
		}()
	}

	if cfg.AlertsEnabled && cfg.MetricsEnabled && metrics != nil {
		go monitoring.StartRuntimeMonitor(ctx, cfg, metrics, func(format string, a ...any) { log.Printf(format, a...) })
	}

	go func() {
		fmt.Printf("Server starting on port %s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error:", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeoutDefault)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin HTTP server shutdown error: %v", err)
		}
	}
	log.Println("Application shutdown complete")
}
