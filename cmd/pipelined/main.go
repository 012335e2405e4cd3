package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scribeworks/internal/config"
	"scribeworks/internal/ratelimit"
	"scribeworks/internal/server"
	"scribeworks/internal/servicetoken"
	"scribeworks/internal/usertoken"
	"scribeworks/internal/util"
	"scribeworks/pkg/allocator"
	"scribeworks/pkg/asr"
	"scribeworks/pkg/bonus"
	"scribeworks/pkg/delivery"
	"scribeworks/pkg/ledger"
	"scribeworks/pkg/notify"
	"scribeworks/pkg/orders"
	"scribeworks/pkg/payment"
	"scribeworks/pkg/quality"
	"scribeworks/pkg/queue"
	"scribeworks/pkg/storage"
	"scribeworks/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	internalVerifyKeys, err := servicetoken.ParseVerifyPublicKeys(cfg.InternalJWTVerifyPublicKeys)
	if err != nil {
		log.Fatalf("failed to parse internal jwt verify public keys: %v", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var userTokens *usertoken.Verifier
	if cfg.AuthJWKSURL != "" {
		userTokens, err = usertoken.NewVerifier(usertoken.Config{
			JWKSURL:    cfg.AuthJWKSURL,
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
			HTTPClient: &http.Client{Timeout: 5 * time.Second},
		})
		if err != nil {
			log.Fatalf("failed to init jwks verifier: %v", err)
		}
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}
	notifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, notify.NewTemplateStore())
	if err != nil {
		log.Fatalf("failed to init notifier: %v", err)
	}
	gateway := payment.NewClient(cfg.PaymentServiceURL, cfg.PaymentInternalToken)

	led := ledger.New(db, objects)
	gate := quality.NewGate(cfg.PWERThreshold, cfg.LowConfidenceThreshold)
	alloc := allocator.New(db, notifier, allocator.Config{
		GraceWindow:     time.Duration(cfg.AssignGraceSeconds) * time.Second,
		TrustedCustomer: cfg.TrustedCustomer,
	})
	machine := orders.NewMachine(db, notifier, orders.Config{
		RefundTriggerIssueCount:   cfg.RefundTriggerIssueCount,
		DeadlineExtension:         time.Duration(cfg.DeadlineExtensionHours) * time.Hour,
		AcceptanceWindowPerHour:   time.Duration(cfg.AcceptanceWindowPerHourMinutes) * time.Minute,
		AcceptanceWindowMinimum:   time.Duration(cfg.AcceptanceWindowMinimumMinutes) * time.Minute,
		AcceptanceWindowExtension: time.Duration(cfg.AcceptanceExtensionMinutes) * time.Minute,
	})
	orchestrator := delivery.New(db, led, gateway, notifier)
	screener := queue.NewScreener(db, objects, led, gate)
	bonuses := bonus.NewRunner(db, bonus.Config{
		DailyRate:       cfg.BonusDailyRate,
		DailyMinHours:   cfg.BonusDailyMinHours,
		MonthlyRate:     cfg.BonusMonthlyRate,
		MonthlyMinHours: cfg.BonusMonthlyMinHours,
	})

	var ingest *asr.Ingestor
	if cfg.AssemblyAIAPIKey != "" {
		asrClient, err := asr.NewAssemblyAIClient(cfg.AssemblyAIAPIKey)
		if err != nil {
			log.Fatalf("failed to init transcription client: %v", err)
		}
		var polisher asr.Polisher
		if cfg.PolishBaseURL != "" {
			polisher = asr.NewOpenAICompatPolisher(cfg.PolishBaseURL, cfg.PolishAPIKey, cfg.PolishModel)
		}
		ingest = asr.NewIngestor(db, objects, led, asrClient, polisher)
	}

	screening, err := queue.NewRedisScreeningQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.ScreeningStream,
		Group:      cfg.ScreeningGroup,
		MaxRetries: cfg.ScreeningMaxRetries,
		RetryDelay: time.Duration(cfg.ScreeningRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init screening queue: %v", err)
	}

	assignLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "scribeworks:ratelimit", 30, time.Minute)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	httpServer, err := server.New(server.Config{
		Store:        db,
		Objects:      objects,
		Ledger:       led,
		Allocator:    alloc,
		Machine:      machine,
		Orchestrator: orchestrator,
		Screener:     screener,
		Screening:    screening,
		Bonuses:      bonuses,
		Ingest:       ingest,

		AssignLimiter:  assignLimiter,
		UserTokens:     userTokens,
		TrustedProxies: trustedProxies,

		InternalJWTKeyID:            cfg.InternalJWTKeyID,
		InternalJWTPublicKeyPath:    cfg.InternalJWTPublicKeyPath,
		InternalJWTVerifyPublicKeys: internalVerifyKeys,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	screening.Start(ctx, cfg.ScreeningConcurrency, screener.Screen)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("pipeline server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
