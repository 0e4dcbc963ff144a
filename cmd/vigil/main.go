package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vigilops/vigil/internal/alerting/api"
	adb "github.com/vigilops/vigil/internal/alerting/database"
	"github.com/vigilops/vigil/internal/alerting/metrics"
	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
	"github.com/vigilops/vigil/internal/alerting/service/automation"
	"github.com/vigilops/vigil/internal/alerting/service/dispatch"
	"github.com/vigilops/vigil/internal/alerting/service/ruleengine"
	"github.com/vigilops/vigil/internal/alerting/service/suppression"
	"github.com/vigilops/vigil/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config failed")
	}
	setupLogging(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := adb.New(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("connect database failed")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("apply migrations failed")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The engine degrades without redis: no event fan-out, no ingest
		// dedup cache. Keep starting.
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, running without cache and events")
		rdb = nil
	}

	m := metrics.New()

	ruleDAO := ruleengine.NewPgRuleDAO(db)
	if err := ruleengine.BootstrapRules(ctx, ruleDAO, cfg.Alerting.Rules.BootstrapFile); err != nil {
		log.Fatal().Err(err).Msg("bootstrap rules failed")
	}

	store := alertstore.NewStore(db, alertstore.NewPublisher(rdb))
	windowDAO := suppression.NewPgWindowDAO(db)
	supIndex := suppression.NewIndex(windowDAO)

	backoff := dispatch.NewBackoff(cfg.Alerting.Dispatch.BackoffMinutes,
		cfg.Alerting.Dispatch.JitterPct, cfg.Alerting.Dispatch.MaxRetries)
	sender := dispatch.NewHTTPSender(parseDurationOr(cfg.Alerting.Dispatch.HTTPTimeout, 5*time.Second))
	actionLog := dispatch.NewPgActionLogDAO(db)
	worker := dispatch.NewWorker(actionLog, sender, backoff, store, ruleDAO, m)
	worker.Interval = parseDurationOr(cfg.Alerting.Dispatch.RetryInterval, 30*time.Second)
	worker.ClaimBatch = cfg.Alerting.Dispatch.ClaimBatch

	bindingDAO := automation.NewPgBindingDAO(db)
	guardrail := automation.NewGuardrail(db)
	runner := automation.NewRunnerClient(cfg.Alerting.Automation.RunnerBaseURL,
		parseDurationOr(cfg.Alerting.Automation.RunnerTimeout, 5*time.Second))
	auditDAO := automation.NewPgAuditDAO(db, rdb)
	coordinator := automation.NewCoordinator(bindingDAO, guardrail, runner, auditDAO, m)

	windows := ruleengine.NewWindowTracker(m)
	engine := ruleengine.NewEngine(ruleDAO, windows, supIndex, store, worker, coordinator, m, rdb)
	engine.Concurrency = cfg.Alerting.Ingest.Workers

	go worker.Start(ctx)
	go windows.Start(ctx, 5*time.Minute)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a := api.New(engine, store, worker, coordinator, ruleDAO, windowDAO, bindingDAO, auditDAO)
	a.RegisterRoutes(r)

	srv := &http.Server{Addr: cfg.Server.BindAddr, Handler: r}
	go func() {
		log.Info().Str("addr", cfg.Server.BindAddr).Msg("vigil listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
