package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	handlers "silvercare/internal/handler"
	"silvercare/internal/models"
	"silvercare/internal/service"
	"silvercare/pkg/cache"
	"silvercare/pkg/config"
	"silvercare/pkg/logger"
	"silvercare/pkg/push"
	"silvercare/pkg/scheduler"
	"silvercare/pkg/sms"
	"silvercare/pkg/util"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	cfg := config.GlobalConfig

	logger.Init(cfg.Log)
	defer logger.Sync()

	db, err := util.OpenDatabase(cfg.DBDriver, cfg.DSN)
	if err != nil {
		logger.Error("database open failed", zap.Error(err))
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("migration failed", zap.Error(err))
		os.Exit(1)
	}

	dedupCache, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Error("cache init failed", zap.Error(err))
		os.Exit(1)
	}
	defer dedupCache.Close()

	hub := push.NewHub(cfg.PushIdleTimeout)
	provider := sms.NewHTTPProvider(cfg.SMS)

	resolver := service.NewResolver(db, cfg.RegionPrefixLen, cfg.WarningSMS)
	dispatcher := service.NewSmsDispatcher(db, provider, dedupCache, cfg.DedupWindow, cfg.DeepLinkBase)
	tracker := service.NewReadTracker(db, hub)
	alertService := service.NewAlertService(db, hub, resolver, dispatcher, tracker)

	// heartbeat sweep keeps half-open connections from lingering
	sched := scheduler.New()
	sched.Every(cfg.PushHeartbeatInterval, scheduler.FuncJob(func(context.Context) {
		hub.Heartbeat()
	}))

	cr := scheduler.NewCron(time.Local)
	if _, err := cr.AddWithCtx(cfg.ResendCron, func(ctx context.Context) {
		dispatcher.ResendFailed(ctx, time.Now().Add(-24*time.Hour), 100)
	}); err != nil {
		logger.Error("resend sweep schedule invalid", zap.Error(err))
		os.Exit(1)
	}
	cr.Start()

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	handlers.New(db, hub, alertService, tracker, cfg).RegisterRoutes(engine)

	srv := &http.Server{Addr: cfg.Addr, Handler: engine}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	cr.Stop()
	sched.Stop()
	hub.Close()
}
