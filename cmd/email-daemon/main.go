package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ubersystem/internal/automail"
	"ubersystem/internal/automail/catalog"
	"ubersystem/internal/config"
	"ubersystem/internal/httpserver"
	"ubersystem/internal/mailer"
	"ubersystem/internal/repository"
	"ubersystem/pkg/circuitbreaker"
	"ubersystem/pkg/db"
	"ubersystem/pkg/logger"
	"ubersystem/pkg/mq"
	"ubersystem/pkg/otel"
	"ubersystem/pkg/outbox"
	"ubersystem/pkg/redis"
	"ubersystem/pkg/util"
)

const (
	serviceName = "email-daemon"
	version     = "1.0.0"
	runLockKey  = "automail:run_lock"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.Email.DevBox)
	defer log.Sync()

	log.Info("Starting email-daemon...",
		zap.String("event", cfg.Event.Name),
		zap.Bool("send_emails", cfg.Email.SendEmails),
		zap.Bool("dev_box", cfg.Email.DevBox),
		zap.String("transport", cfg.Email.Transport),
		zap.String("db_host", cfg.DB.Host),
		zap.String("mq_url", cfg.MQ.URL),
	)

	shutdownTracing, err := otel.Init(serviceName, version, cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis：多实例部署时的 run 锁
	rdb := redis.NewRedisClient(cfg.Redis)
	if err := redis.Ping(ctx, rdb); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()
	runLock := automail.ChainLock{&automail.LocalLock{}, util.NewLocker(rdb, runLockKey, cfg.Email.LockTTL)}

	// Category registry
	builder := cfg.Builder()
	var extra []*automail.Category
	if cfg.Email.CategoriesFile != "" {
		extra, err = catalog.LoadFile(cfg.Email.CategoriesFile, builder)
		if err != nil {
			log.Fatal("Failed to load category definitions",
				zap.String("file", cfg.Email.CategoriesFile),
				zap.Error(err),
			)
		}
	}
	registry := automail.NewRegistry()
	if err := catalog.Register(registry, builder, cfg.Dates, cfg.Checklist, extra...); err != nil {
		log.Fatal("Failed to register automated email categories", zap.Error(err))
	}
	log.Info("Registered automated email categories", zap.Int("count", registry.Len()))

	// Repositories
	outboxRepo := outbox.NewRepository(dbConn)
	sentRepo := repository.NewSentEmailRepository(dbConn, outboxRepo)
	approvalRepo := repository.NewApprovalRepository(dbConn)
	statsRepo := repository.NewRunStatsRepository(dbConn)

	if err := approvalRepo.Sync(ctx, registry.All()); err != nil {
		log.Fatal("Failed to sync automated email categories", zap.Error(err))
	}

	sources := []automail.Source{
		repository.NewAttendeeSource(dbConn),
		repository.NewGroupSource(dbConn),
		repository.NewRoomSource(dbConn),
		repository.NewIndieGameSource(dbConn),
		repository.NewPanelApplicationSource(dbConn),
	}

	transport, txTransport := newTransport(cfg, dbConn, outboxRepo, log)
	renderer := mailer.NewTemplateRenderer(cfg.Email.TemplateDir)

	// outbox 模式下出站事件和发送记录同一个事务提交
	var outboxSender automail.OutboxSender
	if txTransport != nil {
		outboxSender = repository.NewOutboxSender(sentRepo, txTransport)
	}

	coordinator, err := automail.NewCoordinator(automail.Deps{
		Registry:  registry,
		Sources:   sources,
		SentLog:   sentRepo,
		Approvals: automail.MergedApprovals{approvalRepo, automail.StaticApprovals(cfg.Email.ApprovedIdents)},
		Renderer:  renderer,
		Transport: transport,
		Outbox:    outboxSender,
		Lock:      runLock,
		Phase:     cfg.Clock(),
		Stats:     statsRepo,
		Logger:    log,
	}, automail.Settings{
		SendEmails: cfg.Email.SendEmails,
		DevBox:     cfg.Email.DevBox,
		Pacing:     cfg.Email.Pacing,
	})
	if err != nil {
		log.Fatal("Failed to init automated email coordinator", zap.Error(err))
	}
	if err := coordinator.RestoreStats(ctx); err != nil {
		log.Warn("Failed to restore last run stats", zap.Error(err))
	}

	// MQ Publisher + Outbox Dispatcher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		dispatcher.Start(ctx)
	}()

	// Automated email dispatcher
	interval := cfg.Email.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	workers.Add(1)
	go func() {
		defer workers.Done()
		coordinator.Start(ctx, interval)
	}()

	// Pending emails report
	reporter := automail.NewPendingReporter(automail.ReporterConfig{
		Enabled:    cfg.Email.PendingReport,
		SendEmails: cfg.Email.SendEmails,
		DevBox:     cfg.Email.DevBox,
		EventName:  cfg.Event.Name,
		StaffEmail: cfg.Email.StaffEmail,
	}, registry, coordinator, cfg.Clock(), renderer, transport, log)

	scheduler, err := reporter.Schedule(ctx, cfg.Email.ReportSchedule)
	if err != nil {
		log.Fatal("Failed to schedule pending emails report", zap.Error(err))
	}

	// HTTP Server
	replayService := outbox.NewReplayService(outboxRepo, publisher, log)
	router := httpserver.NewRouter(
		httpserver.NewAutomailHandler(coordinator, reporter, log),
		httpserver.NewAdminHandler(outboxRepo, replayService, log),
		httpserver.NewCategoryHandler(registry, approvalRepo, sentRepo, log),
		cfg.JWT.Secret,
		httpserver.PingFunc(func(ctx context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("mq publisher disconnected")
			}
			return dbConn.Ping(ctx)
		}),
	)
	srv := router.Server(":" + cfg.Server.Port)

	go func() {
		log.Info("HTTP server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("email-daemon is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down email-daemon gracefully...")

	// 先停调度，正在进行的 run 在下一次 pacing 时退出。
	// 等 run 释放 Redis 锁之后才能关闭 DB 和 Redis。
	cancel()
	<-scheduler.Stop().Done()
	workers.Wait()
	log.Info("Background workers stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("email-daemon shutdown complete")
}

// newTransport 按配置选择出站方式：outbox（默认）、smtp 直连或只写日志。
// dev box 上再套一层收件人过滤。只有 outbox 模式返回 TxTransport。
func newTransport(cfg *config.DaemonConfig, tx mailer.TxBeginner, outboxRepo *outbox.Repository, log *zap.Logger) (mailer.Transport, mailer.TxTransport) {
	var transport mailer.Transport
	transactional := false
	switch cfg.Email.Transport {
	case "smtp":
		breakerCfg := cfg.CircuitBreaker
		breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
			log.Warn("SMTP circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		transport = mailer.NewBreakerTransport("smtp", mailer.NewSMTPTransport(cfg.SMTP), circuitbreaker.NewCircuitBreaker(breakerCfg))
	case "log":
		transport = mailer.NewLogTransport(log)
	default:
		transport = mailer.NewOutboxTransport(tx, outboxRepo)
		transactional = true
	}

	if cfg.Email.DevBox {
		transport = mailer.NewDevFilter(transport, cfg.Email.DeveloperEmails, log)
	}
	if !transactional {
		return transport, nil
	}
	return transport, transport.(mailer.TxTransport)
}
