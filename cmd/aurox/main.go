package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aurox-gatekeeper/internal/analytics"
	"aurox-gatekeeper/internal/bot"
	"aurox-gatekeeper/internal/captcha"
	"aurox-gatekeeper/internal/challenge"
	"aurox-gatekeeper/internal/config"
	"aurox-gatekeeper/internal/modules/audit"
	"aurox-gatekeeper/internal/settings"
	"aurox-gatekeeper/internal/storage"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(store, logger)
	analyticsSvc := analytics.New(store)

	settingsStore := settings.New(store, settings.Defaults{
		Prompt:        cfg.Verification.DefaultPrompt,
		Title:         "VERIFICATION SECTION",
		Color:         cfg.Notifications.EmbedColors.Prompt,
		PingText:      "@here",
		ChallengeKind: challenge.Kind(cfg.Verification.ChallengeKind),
		Spam:          settings.SpamConfig{MessageLimit: cfg.Spam.Messages, Window: cfg.Spam.Window()},
	}, logger, auditLogger)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	repaired, err := settingsStore.Load(loadCtx)
	cancelLoad()
	if err != nil {
		logger.Fatal("settings load failed", zap.Error(err))
	}
	if len(repaired) > 0 {
		logger.Warn("verification configs repaired", zap.Strings("guild_ids", repaired))
	}

	avatars := captcha.NewHTTPAvatarSource(cfg.Verification.AvatarFetchTimeout(), captcha.DiscordAvatarHosts)
	renderer, err := captcha.NewRenderer(avatars, logger)
	if err != nil {
		logger.Fatal("captcha renderer init failed", zap.Error(err))
	}
	renderer.WithAvatarBudget(cfg.Verification.AvatarFetchTimeout())

	botSvc, err := bot.New(cfg, logger, settingsStore, auditLogger, analyticsSvc, renderer)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	stopRetention := startRetention(store, cfg.RetentionDays, logger)
	defer stopRetention()

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("database unavailable"))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
}

// startRetention trims the audit log once a day.
func startRetention(store *storage.Store, days int, logger *zap.Logger) func() {
	if days <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := store.CleanupAuditLogs(ctx, days); err != nil && ctx.Err() == nil {
				logger.Warn("audit cleanup failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return cancel
}
