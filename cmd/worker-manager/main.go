// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"agent-engine/internal/agent/companyconfig"
	"agent-engine/internal/agent/escalation"
	"agent-engine/internal/agent/fallback"
	"agent-engine/internal/agent/flowstate"
	"agent-engine/internal/agent/knowledge"
	"agent-engine/internal/agent/rollout"
	"agent-engine/internal/agent/router"
	"agent-engine/internal/agent/runtimetruth"
	"agent-engine/internal/api"
	awsclient "agent-engine/internal/common/aws"
	"agent-engine/internal/common/camunda"
	"agent-engine/internal/common/config"
	"agent-engine/internal/common/database"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/common/messaging"
	"agent-engine/internal/common/observability"
	"agent-engine/internal/models"

	bct "agent-engine/internal/workers/agent/booking-contract-toggle"
	rt "agent-engine/internal/workers/agent/route-turn"
	rtt "agent-engine/internal/workers/agent/runtime-truth"
)

// configStore is what every company config source offers.
type configStore interface {
	companyconfig.Source
	companyconfig.FlagWriter
	companyconfig.Lister
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"app":     cfg.App.Name,
		"version": cfg.App.Version,
	})

	log.Info("Starting worker manager...", map[string]interface{}{"environment": cfg.App.Environment})

	obs := observability.New(cfg.App.Name, nil, log)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	log.Info("Redis connected successfully", nil)

	// --- Company config source ---
	var store configStore
	var fileSource *companyconfig.FileSource
	switch cfg.Engine.ConfigSource {
	case "postgres":
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("postgres schema failed", zap.Error(err))
		}
		store = companyconfig.NewPostgresSource(pg.DB)
		log.Info("PostgreSQL connected successfully", nil)
	case "file":
		fileSource = companyconfig.NewFileSource(cfg.Engine.ConfigDir, log)
		store = fileSource
	case "memory":
		log.Warn("memory config source holds no documents until an operator loads them", nil)
		store = companyconfig.NewMemorySource()
	default:
		zapLog.Fatal("unsupported config source", zap.String("config_source", cfg.Engine.ConfigSource))
	}

	loader := companyconfig.NewLoader(store, log)
	invalidator := companyconfig.NewRedisSync(redis.Client, loader, cfg.Database.Redis.InvalidationKey, log)

	tasks := newBackground(ctx, stop, log)
	tasks.Go("redis-invalidation", invalidator.Run)

	// --- Knowledge matcher ---
	var matcher knowledge.Matcher = knowledge.NewLexicalMatcher()
	if cfg.Engine.Matcher == "elasticsearch" {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			if err := esClient.Ping(ctx); err != nil {
				return err
			}
			return esClient.EnsureIndex(ctx, knowledge.IndexMapping)
		}, 15, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		esMatcher := knowledge.NewElasticsearchMatcher(esClient.Client, esClient.Index, log)
		loader.OnPublish(func(ctx context.Context, snap *companyconfig.Snapshot) {
			if err := esMatcher.IndexCompany(ctx, snap.Config); err != nil {
				log.Warn("knowledge indexing failed, lexical fallback stays active", map[string]interface{}{
					"companyId": snap.CompanyID(),
					"error":     err.Error(),
				})
			}
		})
		matcher = esMatcher
		log.Info("Elasticsearch connected successfully", nil)
	}

	// --- Language-model providers ---
	providers := fallback.NewRegistry()
	providers.Register("http", func(desc models.ProviderDescriptor) (fallback.Provider, error) {
		if cfg.Providers.HTTP.BaseURL == "" {
			return nil, fmt.Errorf("providers.http.base_url is not configured")
		}
		return fallback.NewHTTPProvider(desc.ID, cfg.Providers.HTTP.BaseURL, cfg.Providers.HTTP.APIKey), nil
	})
	if cfg.Providers.Gemini.APIKey != "" {
		gemini, err := fallback.NewGenAIClient(ctx, cfg.Providers.Gemini.APIKey)
		if err != nil {
			zapLog.Fatal("gemini client failed", zap.Error(err))
		}
		providers.Register("gemini", func(desc models.ProviderDescriptor) (fallback.Provider, error) {
			model := desc.Model
			if model == "" {
				model = cfg.Providers.Gemini.Model
			}
			return fallback.NewGenAIProvider(desc.ID, model, gemini.Models), nil
		})
	}
	breakers := fallback.NewBreakerSet()
	// A republished document may change provider thresholds or endpoints.
	loader.OnPublish(func(_ context.Context, snap *companyconfig.Snapshot) {
		breakers.Reset(snap.CompanyID())
	})
	chain := fallback.NewChain(providers, fallback.RetryPolicy{
		MaxRetriesPerProvider: cfg.Engine.MaxRetries,
		Backoff:               config.GetDuration(cfg.Engine.RetryBackoff),
	}, breakers, log)

	// --- Camunda ---
	var camundaClient *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			camundaClient, err = camunda.NewClientFromConfig(cfg.Camunda)
			return err
		}, 10, 2*time.Second, log, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		log.Info("Zeebe client connected successfully", nil)
	}

	// --- Notifications ---
	var topics escalation.TopicPublisher
	var email escalation.EmailSender
	var workflow escalation.WorkflowPublisher
	if cfg.Notifications.AWS.Region != "" {
		if cfg.Notifications.SMS.Enabled {
			snsClient, err := awsclient.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
			if err != nil {
				zapLog.Fatal("sns client failed", zap.Error(err))
			}
			topics = snsClient
		}
		if cfg.Notifications.Email.Enabled {
			sesClient, err := awsclient.NewSESClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.Email.FromEmail)
			if err != nil {
				zapLog.Fatal("ses client failed", zap.Error(err))
			}
			email = sesClient
		}
	}
	if camundaClient != nil {
		workflow = camundaClient
	}
	notifier := escalation.NewNotifier(topics, email, workflow, log)

	// --- Engine ---
	turnRouter := router.New(router.Deps{
		Loader:   loader,
		Matcher:  matcher,
		Chain:    chain,
		Flows:    flowstate.NewRedisStore(redis.Client, config.GetDuration(cfg.Database.Redis.FlowStateTTL)),
		Notifier: notifier,
	}, log)
	reporter := runtimetruth.NewReporter(loader, log)
	toggler := rollout.NewToggler(loader, store, invalidator, notifier, log)

	if fileSource != nil && cfg.Engine.Watch {
		tasks.Go("file-watch", func(ctx context.Context) error { return fileSource.Watch(ctx, invalidator) })
	}

	if cfg.Messaging.RabbitMQ.Enabled {
		consumer := messaging.NewConsumer(cfg.Messaging.RabbitMQ.URL, messaging.SpecFromConfig(
			"company-config-changed",
			cfg.Messaging.RabbitMQ,
			messaging.JSONHandler(companyconfig.ConfigChangedHandler(invalidator)),
		), log)
		tasks.Go("config-events", consumer.Run)
	}

	// --- Workers ---
	var workers []*camunda.CamundaWorker
	if camundaClient != nil {
		zc := camundaClient.GetClient()
		start := func(taskType string, handler camunda.JobHandler) {
			if !config.IsWorkerEnabled(cfg, taskType) {
				log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
				return
			}
			wc := config.GetWorkerConfig(cfg, taskType)
			w := camunda.NewWorker(zc, taskType, camunda.WorkerOptions{
				MaxJobsActive: wc.MaxJobsActive,
				Timeout:       config.GetDuration(wc.Timeout),
			}, handler, obs, log)
			w.Start()
			workers = append(workers, w)
		}

		start(rt.TaskType, rt.NewHandler(rt.LoadConfig(cfg), turnRouter, log))
		start(rtt.TaskType, rtt.NewHandler(rtt.LoadConfig(cfg), reporter, log))
		start(bct.TaskType, bct.NewHandler(bct.LoadConfig(cfg), toggler, log))
		log.Info("Workers registered", map[string]interface{}{"count": len(workers)})
	}

	// --- HTTP: health, metrics and the engine API ---
	var ready atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			writeStatus(w, http.StatusServiceUnavailable, "starting")
			return
		}
		if err := redis.Ping(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
		if camundaClient != nil {
			if err := camundaClient.HealthCheck(r.Context()); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, "zeebe unavailable")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	api.NewServer(turnRouter, reporter, toggler, obs, log).Register(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	select {
	case <-invalidator.Ready():
		if n, err := loader.Warm(ctx, store); err != nil {
			log.Warn("config cache warm-up failed, companies load on first turn", map[string]interface{}{"error": err.Error()})
		} else {
			log.Info("Config cache warmed", map[string]interface{}{"companies": n})
		}
		ready.Store(true)
		log.Info("Worker manager ready", nil)
	case <-ctx.Done():
	}

	// --- Graceful Shutdown ---
	<-ctx.Done()
	log.Info("Shutdown signal received, stopping workers...", nil)
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping HTTP server", map[string]interface{}{"error": err.Error()})
	}
	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	turnRouter.Wait()

	if err := tasks.Wait(); err != nil {
		log.Error("Background task ended with error", map[string]interface{}{"error": err.Error()})
	}

	if camundaClient != nil {
		if err := camundaClient.Close(); err != nil {
			log.Error("Error closing Zeebe client", map[string]interface{}{"error": err.Error()})
		}
	}

	log.Info("Worker manager stopped gracefully", nil)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
