package main

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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/credential-lifecycle-api/api/swagger"
	"github.com/noah-isme/credential-lifecycle-api/internal/handler"
	"github.com/noah-isme/credential-lifecycle-api/internal/middleware"
	"github.com/noah-isme/credential-lifecycle-api/internal/repository"
	"github.com/noah-isme/credential-lifecycle-api/internal/service"
	"github.com/noah-isme/credential-lifecycle-api/pkg/cache"
	"github.com/noah-isme/credential-lifecycle-api/pkg/config"
	"github.com/noah-isme/credential-lifecycle-api/pkg/database"
	"github.com/noah-isme/credential-lifecycle-api/pkg/export"
	"github.com/noah-isme/credential-lifecycle-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/credential-lifecycle-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/credential-lifecycle-api/pkg/middleware/requestid"
	"github.com/noah-isme/credential-lifecycle-api/pkg/notify"
	"github.com/noah-isme/credential-lifecycle-api/pkg/storage"
)

// @title Credential Lifecycle API
// @version 1.0.0
// @description Tracks time-bound employee credentials and orchestrates their renewal workflows.
// @BasePath /api/v1
// @schemes http

// stores groups the persistence ports the services consume.
type stores struct {
	credentials repository.CredentialStore
	workflows   repository.WorkflowStore
	activity    repository.ActivityStore
	close       func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer st.close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close() //nolint:errcheck
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, redisClient != nil)

	var locker cache.Locker
	if cfg.Lifecycle.RedisLocks && redisClient != nil {
		locker = cache.NewRedisLocker(redisClient, "lifecycle:lock:")
	}

	notifier, err := openNotifier(cfg, redisClient, logr)
	if err != nil {
		return err
	}
	defer notifier.Close() //nolint:errcheck

	files, err := storage.NewLocalStorage(cfg.Documents.StorageDir, cfg.Documents.MaxSizeBytes)
	if err != nil {
		return err
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)

	alerts := service.NewAlertService(st.activity, notifier, metrics, service.AlertQueueConfig{
		Workers:    cfg.Alerts.Workers,
		MaxRetries: cfg.Alerts.MaxRetries,
		RetryDelay: cfg.Alerts.RetryDelay,

		RedeliverInterval: cfg.Alerts.RedeliverInterval,
	}, logr)
	alerts.Start(ctx)
	defer alerts.Stop()
	if pending, err := alerts.RedeliverPending(ctx); err != nil {
		logr.Sugar().Warnw("failed to redeliver pending alerts", "error", err)
	} else if pending > 0 {
		logr.Sugar().Infow("redelivering pending alerts", "count", pending)
	}

	documents := service.NewDocumentPipeline(
		service.DefaultRequirementTable(),
		service.NewPDFDocumentGenerator(export.NewPDFExporter("credential-lifecycle-api"), files),
		service.NewArtifactVerifier(files),
		signer,
		cfg.Lifecycle.ExternalTimeout,
		logr,
	)
	compliance := service.NewComplianceEvaluator()
	engine := service.NewRenewalWorkflowEngine(
		st.credentials, st.workflows, st.activity, alerts, documents, compliance,
		service.NewNotifierGateway(notifier), locker, metrics,
		service.EngineConfig{
			StageDuration:     cfg.Lifecycle.StageDuration,
			RemediationBudget: cfg.Lifecycle.RemediationBudget,
			QualityThreshold:  cfg.Lifecycle.QualityThreshold,
			RenewalTerm:       cfg.Lifecycle.RenewalTerm,
			ExternalTimeout:   cfg.Lifecycle.ExternalTimeout,
		},
		validate, logr,
	)
	scheduler := service.NewLifecycleScheduler(
		st.credentials, st.workflows, engine, compliance, alerts, st.activity, locker, cacheSvc, metrics,
		service.SchedulerConfig{
			Interval: cfg.Lifecycle.TickInterval,
			LockTTL:  cfg.Lifecycle.TickLockTTL,
			Workers:  cfg.Lifecycle.Workers,
		},
		logr,
	)
	query := service.NewQueryService(service.QueryServiceParams{
		Credentials: st.credentials,
		Workflows:   st.workflows,
		Activity:    st.activity,
		Compliance:  compliance,
		Cache:       cacheSvc,
		CacheTTL:    cfg.Dashboard.CacheTTL,
		Logger:      logr,
	})
	sync := service.NewSyncService(st.credentials, st.activity, cacheSvc, validate, logr)
	dispatcher := service.NewCommandDispatcher(service.CommandDispatcherParams{
		Ticks:       scheduler,
		Engine:      engine,
		Credentials: st.credentials,
		Documents:   documents,
		Alerts:      alerts,
		Activity:    st.activity,
		Predictor:   query,
		Logger:      logr,
	})

	if cfg.Lifecycle.SchedulerEnabled {
		scheduler.Start(ctx)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r, cfg.APIPrefix, handler.Handlers{
		Credentials: handler.NewCredentialHandler(query, sync, dispatcher),
		Workflows:   handler.NewWorkflowHandler(query, engine, dispatcher),
		Lifecycle:   handler.NewLifecycleHandler(query, dispatcher),
		Documents:   handler.NewDocumentHandler(service.NewArtifactDownloads(signer, files)),
		Metrics:     handler.NewMetricsHandler(metrics),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.StoreDriver, "alerts_sink", cfg.Alerts.Sink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Sugar().Infow("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logr.Sugar().Warnw("using in-memory store; state is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{credentials: mem, workflows: mem, activity: mem, close: func() {}}, nil
	case config.StoreDriverPostgres, "":
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &stores{
			credentials: repository.NewCredentialRepository(db),
			workflows:   repository.NewWorkflowRepository(db),
			activity:    repository.NewActivityRepository(db),
			close:       func() { closeDB(db, logr) },
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func closeDB(db *sqlx.DB, logr *zap.Logger) {
	if err := db.Close(); err != nil {
		logr.Sugar().Warnw("failed to close database", "error", err)
	}
}

func openNotifier(cfg *config.Config, client *redis.Client, logr *zap.Logger) (notify.Notifier, error) {
	switch cfg.Alerts.Sink {
	case config.AlertSinkRedis:
		if client == nil {
			return nil, fmt.Errorf("alerts sink %q requires ENABLE_REDIS", cfg.Alerts.Sink)
		}
		return notify.NewRedisNotifier(client, cfg.Alerts.RedisChannel), nil
	case config.AlertSinkKafka:
		return notify.NewKafkaNotifier(cfg.Alerts.KafkaBrokers, cfg.Alerts.KafkaTopic)
	case config.AlertSinkLog, "":
		return notify.NewLogNotifier(logr), nil
	default:
		return nil, fmt.Errorf("unknown alerts sink %q", cfg.Alerts.Sink)
	}
}
