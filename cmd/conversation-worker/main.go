package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/lead-reengage/internal/api/router"
	"github.com/wolfman30/lead-reengage/internal/compliance"
	appconfig "github.com/wolfman30/lead-reengage/internal/config"
	"github.com/wolfman30/lead-reengage/internal/conversation"
	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/internal/followup"
	"github.com/wolfman30/lead-reengage/internal/http/handlers"
	"github.com/wolfman30/lead-reengage/internal/intent"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/internal/nba"
	"github.com/wolfman30/lead-reengage/internal/observability/metrics"
	"github.com/wolfman30/lead-reengage/internal/response"
	"github.com/wolfman30/lead-reengage/internal/statemachine"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("conversation worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	if err := leads.ValidateFields(cfg.RequiredQualification); err != nil {
		return fmt.Errorf("REQUIRED_QUALIFICATION: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in, err := connectInfra(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer in.Close()

	repo, err := buildRepository(cfg, in, logger)
	if err != nil {
		return err
	}

	window, err := compliance.ParseSendWindow(cfg.QuietHoursStart, cfg.QuietHoursEnd, cfg.QuietHoursTimezone, cfg.SendDays)
	if err != nil {
		return err
	}
	gate := compliance.NewGate(
		compliance.Policy{Window: window, RateCap: cfg.RateLimitCap, Lookback: cfg.RateLimitWindow},
		compliance.WithSendCounter(buildSendCounter(cfg, in, logger)),
		compliance.WithAuditor(buildAuditor(in, logger)),
		compliance.WithLogger(logger),
	)

	rules := statemachine.DefaultRules()
	rules.DormancyWindow = cfg.DormancyWindow
	rules.RequiredFields = cfg.RequiredQualification
	rules.ObjectionLimit = cfg.ObjectionEscalationCount

	gen, closeGen, err := buildGenerator(ctx, cfg, in, logger)
	if err != nil {
		return err
	}
	defer closeGen()
	pipeline := response.NewPipeline(gen, response.Options{
		Timeout:        cfg.GenerationTimeout,
		PromptHistory:  cfg.PromptHistory,
		SMSMaxLength:   cfg.SMSMaxLength,
		EmailMaxLength: cfg.EmailMaxLength,
		MaxTokens:      int32(cfg.LLMMaxTokens),
		Brand:          cfg.BrokerageName,
		Location:       window.Location(),
		Logger:         logger,
	})

	email, emailProvider := buildEmail(cfg, in, logger)
	leadSender, smsSender := buildSenders(cfg, in, email, emailProvider, logger)

	var followups followup.Store = followup.NewMemoryStore()
	if in.pool != nil {
		followups = followup.NewPostgresStore(in.pool)
	}

	engineMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)
	opts := []conversation.Option{
		conversation.WithLogger(logger),
		conversation.WithMetrics(engineMetrics),
		conversation.WithScheduler(followup.NewScheduler(followups)),
		conversation.WithNotifier(buildNotifier(cfg, email, smsSender, repo, logger)),
		conversation.WithHistoryLimit(cfg.HistoryCap),
		conversation.WithDeliveryTimeout(cfg.DeliveryTimeout),
		conversation.WithDefaultFollowup(cfg.DefaultFollowupDelay),
	}
	if cfg.UseRedisLock && in.redis != nil {
		opts = append(opts, conversation.WithLocker(conversation.NewRedisLocker(in.redis, cfg.LockTTL)))
	}
	if in.pool != nil {
		opts = append(opts, conversation.WithProcessedLedger(events.NewProcessedStore(in.pool)))
	}
	if archiver := buildArchiver(cfg, in, logger); archiver != nil {
		opts = append(opts, conversation.WithArchiver(archiver))
	}

	orch := conversation.NewOrchestrator(conversation.Deps{
		Repository: repo,
		Detector:   intent.NewDetector(intent.WithThreshold(cfg.IntentThreshold), intent.WithLogger(logger)),
		Machine:    statemachine.New(rules),
		Gate:       gate,
		Planner:    nba.NewPlanner(nba.Policy{ObjectionLimit: cfg.ObjectionEscalationCount, RequiredFields: cfg.RequiredQualification}),
		Pipeline:   pipeline,
		Sender:     leadSender,
	}, opts...)

	publisher, worker, err := buildQueue(cfg, in, orch, logger)
	if err != nil {
		return err
	}
	dispatcher := followup.NewDispatcher(followups, orch, logger).
		WithBatchSize(cfg.FollowupBatchSize).
		WithInterval(cfg.FollowupPollInterval)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(&router.Config{
			Logger:          logger,
			MetricsHandler:  promhttp.Handler(),
			AdminLeads:      handlers.NewAdminLeadsHandler(repo, orch, logger),
			AdminEvents:     handlers.NewAdminEventsHandler(publisher, logger),
			AdminAuthSecret: cfg.AdminJWTSecret,
			HealthChecks:    healthChecks(in),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	worker.Start(ctx)
	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		dispatcher.Start(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", srv.Addr, "admin_api", cfg.AdminJWTSecret != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("conversation worker started",
		"store", cfg.StoreBackend,
		"workers", cfg.WorkerCount,
		"shards", cfg.ShardCount,
		"memory_queue", cfg.UseMemoryQueue,
		"redis", in.redis != nil,
		"postgres", in.pool != nil,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down conversation worker...", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("ops server failed", "error", err)
	}
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		logger.Warn("ops server shutdown", "error", err)
	}

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		background.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
	return nil
}

func healthChecks(in *infra) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if in.pool != nil {
		checks["postgres"] = in.pool.Ping
	}
	if in.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return in.redis.Ping(ctx).Err() }
	}
	return checks
}
