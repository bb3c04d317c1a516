package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/tidewatch/go-hazard-alerts/internal/api"
	"github.com/tidewatch/go-hazard-alerts/internal/broadcast"
	"github.com/tidewatch/go-hazard-alerts/internal/channels"
	"github.com/tidewatch/go-hazard-alerts/internal/config"
	"github.com/tidewatch/go-hazard-alerts/internal/dispatch"
	"github.com/tidewatch/go-hazard-alerts/internal/escalation"
	"github.com/tidewatch/go-hazard-alerts/internal/ingestion"
	"github.com/tidewatch/go-hazard-alerts/internal/logging"
	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/normalizer"
	"github.com/tidewatch/go-hazard-alerts/internal/policy"
	"github.com/tidewatch/go-hazard-alerts/internal/repository"
	"github.com/tidewatch/go-hazard-alerts/internal/scheduler"
	"github.com/tidewatch/go-hazard-alerts/internal/tracker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	table := policy.Default()
	if cfg.Policy.Path != "" {
		table, err = policy.Load(cfg.Policy.Path)
		if err != nil {
			// A broken policy matrix must never start silently degraded.
			logging.Fatalf("Failed to load policy table: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := broadcast.NewBroadcaster()

	senders := []channels.Sender{
		channels.NewHTTPSender(models.ChannelEmail, cfg.Channels.EmailEndpoint, cfg.Channels.GatewayAPIKey),
		channels.NewHTTPSender(models.ChannelSMS, cfg.Channels.SMSEndpoint, cfg.Channels.GatewayAPIKey),
		channels.NewVoiceSender(cfg.Channels.VoiceEndpoint, cfg.Channels.VoiceCancelURL, cfg.Channels.GatewayAPIKey),
	}
	if cfg.Channels.SlackToken != "" {
		senders = append(senders, channels.NewSlackSender(cfg.Channels.SlackToken))
	}

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Workers:     cfg.Dispatch.Workers,
		BufferSize:  cfg.Dispatch.BufferSize,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		BackoffBase: cfg.Dispatch.BackoffBase,
	}, db, senders, events)
	dispatcher.Start(ctx)

	engine := escalation.NewEngine(escalation.Config{
		BroadcastSeverity: cfg.Escalation.BroadcastSeverity,
	}, db, table, dispatcher, events, nil)
	engine.Start()

	tr := tracker.New(db, engine, events)
	dispatcher.SetDeadLetterFunc(tr.DeadLetter)

	mgr := ingestion.NewManager(cfg, normalizer.NewIngestor(db), engine)
	mgr.Start(ctx)

	sched, err := scheduler.New(engine, cfg.Escalation.SweepInterval)
	if err != nil {
		logging.Fatalf("Failed to build scheduler: %v", err)
	}
	err = sched.AddJob("@hourly", func() {
		jobCtx, jobCancel := context.WithTimeout(context.Background(), time.Minute)
		defer jobCancel()
		until := time.Now().UTC()
		stats, err := tr.ChannelStats(jobCtx, until.Add(-time.Hour), until)
		if err != nil {
			slog.Error("delivery stats rollup failed", "error", err)
			return
		}
		for _, s := range stats {
			slog.Info("hourly delivery stats", "channel", s.Channel,
				"sent", s.Sent, "delivered", s.Delivered, "read", s.Read,
				"failed", s.Failed, "bounced", s.Bounced)
		}
	})
	if err != nil {
		logging.Fatalf("Failed to schedule stats rollup: %v", err)
	}
	err = sched.AddJob("@every 1h", func() {
		jobCtx, jobCancel := context.WithTimeout(context.Background(), time.Minute)
		defer jobCancel()
		if err := engine.ResolveStale(jobCtx, 24*time.Hour); err != nil {
			slog.Error("stale alert scan failed", "error", err)
		}
	})
	if err != nil {
		logging.Fatalf("Failed to schedule stale alert scan: %v", err)
	}
	sched.Start()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(10, 20))

	stream := api.NewStream(events)
	handler := api.NewHandler(db, engine, tr, table, stream)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	sched.Stop()
	mgr.Stop()
	engine.Stop()
	dispatcher.Stop()
	events.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
