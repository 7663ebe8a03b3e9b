package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/handlers"
	"github.com/hat-ai-tgbot-go/internal/i18n"
	"github.com/hat-ai-tgbot-go/internal/middleware"
	"github.com/hat-ai-tgbot-go/internal/services/ai"
	"github.com/hat-ai-tgbot-go/internal/services/cache"
	"github.com/hat-ai-tgbot-go/internal/services/status"
	"github.com/hat-ai-tgbot-go/internal/services/storage"
	"github.com/hat-ai-tgbot-go/internal/services/sweeper"
	"github.com/hat-ai-tgbot-go/internal/services/trigger"
	"github.com/hat-ai-tgbot-go/internal/transport/telegram"
	"github.com/hat-ai-tgbot-go/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	configPath string
	envFile    string
}

func newServeCmd(opts *serveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Telegram and answer messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}

	// A missing .env file is fine
	if err := godotenv.Load(opts.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: .env file not loaded: %v\n", err)
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info("Starting Telegram Bot...")
	log.WithField("token_length", len(cfg.Bot.Token)).Info("Bot token loaded")

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := middleware.NewMetrics()

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		return fmt.Errorf("failed to initialize i18n: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(cfg, log)
	memory := storage.NewMemory(&cfg.Context, log)

	backend, err := ai.NewBackend(&cfg.AI, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize generation backend: %w", err)
	}
	client := ai.NewClient(cfg, backend, memory, localizer, metrics, log)
	classifier := trigger.New(trigger.OptionsFromConfig(cfg))

	pipeline := handlers.NewPipeline(
		classifier,
		middleware.NewSecurityMiddleware(cfg.Security.MaxMessageLength, log),
		rateLimiter,
		client,
		memory,
		metrics,
		log,
	)

	statusService := status.NewService(client, classifier, rateLimiter, memory, cache.NewProbeCache(cache.DefaultProbeTTL, log))
	commandHandler := handlers.NewCommandHandler(cfg.Bot.OwnerID, statusService, memory, rateLimiter, localizer, log)

	sender := telegram.NewSender(bot, &cfg.Delivery, metrics, log)
	listener := telegram.NewListener(bot.Self.ID, pipeline, commandHandler, sender, log)

	sweep := sweeper.New(cfg.Maintenance.SweepInterval, log,
		sweeper.Task{
			Name:   "rate_windows",
			Sweep:  rateLimiter.Sweep,
			Size:   rateLimiter.Len,
			Report: func(n int) { metrics.SetActiveWindows(float64(n)) },
		},
		sweeper.Task{
			Name:   "conversations",
			Sweep:  memory.Sweep,
			Size:   memory.Len,
			Report: func(n int) { metrics.SetActiveChats(float64(n)) },
		},
	)
	sweep.Start(ctx)

	var servers []*http.Server
	if cfg.Monitoring.Metrics.Enabled {
		srv := middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path, statusService.Status)
		servers = append(servers, srv)
		go serveHTTP(srv, "metrics", log)
		log.WithFields(logrus.Fields{
			"port": cfg.Monitoring.Metrics.Port,
			"path": cfg.Monitoring.Metrics.Path,
		}).Info("Starting metrics server")
	}

	var updates tgbotapi.UpdatesChannel
	if cfg.Bot.Webhook.Enabled {
		webhookURL := fmt.Sprintf("%s/%s", cfg.Bot.Webhook.URL, bot.Token)
		webhook, err := tgbotapi.NewWebhook(webhookURL)
		if err != nil {
			return fmt.Errorf("failed to create webhook: %w", err)
		}
		if _, err := bot.Request(webhook); err != nil {
			return fmt.Errorf("failed to set webhook: %w", err)
		}

		updates = bot.ListenForWebhook("/" + bot.Token)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Bot.Webhook.Port),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)
		go serveHTTP(srv, "webhook", log)
		log.WithField("port", cfg.Bot.Webhook.Port).Info("Webhook set")
	} else {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.Bot.UpdateTimeout
		updates = bot.GetUpdatesChan(u)
		log.Info("Using long polling")
	}

	listener.Run(ctx, updates)
	log.Info("Shutdown signal received")

	if cfg.Bot.Webhook.Enabled {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.WithError(err).Error("Failed to delete webhook")
		}
	} else {
		bot.StopReceivingUpdates()
	}

	sweep.Stop()

	if !listener.Drain(shutdownTimeout) {
		log.Warn("Timed out waiting for in-flight messages")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("HTTP server shutdown failed")
		}
	}

	log.Info("Bot stopped")
	return nil
}

func serveHTTP(srv *http.Server, name string, log *logrus.Logger) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).WithField("server", name).Error("HTTP server failed")
	}
}
