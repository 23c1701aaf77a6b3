package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stripe/stripe-go/v82/client"
	"google.golang.org/api/option"

	"github.com/digkill/ThumbnailBot/internal/admin"
	"github.com/digkill/ThumbnailBot/internal/config"
	"github.com/digkill/ThumbnailBot/internal/database"
	"github.com/digkill/ThumbnailBot/internal/events"
	"github.com/digkill/ThumbnailBot/internal/gemini"
	"github.com/digkill/ThumbnailBot/internal/kie"
	"github.com/digkill/ThumbnailBot/internal/lock"
	"github.com/digkill/ThumbnailBot/internal/repository"
	"github.com/digkill/ThumbnailBot/internal/retry"
	"github.com/digkill/ThumbnailBot/internal/service"
	"github.com/digkill/ThumbnailBot/internal/storage"
	"github.com/digkill/ThumbnailBot/internal/telegram"
	"github.com/digkill/ThumbnailBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer database.Close(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	generator, closeGenerator, err := newImageGenerator(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("image generator: %v", err)
	}
	defer closeGenerator()

	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		log.Fatalf("storage publisher: %v", err)
	}

	locker, closeLocker, err := newLocker(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("user lock: %v", err)
	}
	defer closeLocker()

	eventPublisher, closeEvents, err := newEventPublisher(cfg, logr)
	if err != nil {
		log.Fatalf("events: %v", err)
	}
	defer closeEvents()

	ledger := repository.NewLedgerRepository(db)
	sender := telegram.NewSender(botAPI, logr)

	userService := service.NewUserService(logr, ledger, sender)
	paymentService := service.NewPaymentService(service.PaymentOptionsFromConfig(cfg), logr, ledger, client.New(cfg.StripeAPIKey, nil), sender, eventPublisher)
	generationService := service.NewGenerationService(logr, ledger, generator, publisher, sender, eventPublisher, retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Delay:       cfg.RetryDelay,
		Backoff:     cfg.RetryBackoff,
	}, cfg.AffirmativeToken)
	conversation := service.NewConversationService(logr, ledger, userService, generationService, paymentService, sender, locker, service.Tokens{
		Affirmative: cfg.AffirmativeToken,
		Negative:    cfg.NegativeToken,
	})

	bot := telegram.NewBot(botAPI, conversation, logr, cfg.TelegramWebhookURL)

	var telegramHook http.Handler
	if cfg.TelegramWebhookURL != "" {
		telegramHook = bot
	}
	httpServer := admin.NewServer(cfg.HTTPListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, paymentService, telegramHook)
	go func() {
		if err := httpServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("http server stopped", "err", err)
			stop()
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
	bot.Wait()
	logr.Info("shutdown complete")
}

func newImageGenerator(ctx context.Context, cfg config.Config, logr *slog.Logger) (service.ImageGenerator, func(), error) {
	switch cfg.ImageProvider {
	case "gemini":
		gc, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.PromptPrefix, logr)
		if err != nil {
			return nil, nil, err
		}
		return gc, func() { _ = gc.Close() }, nil
	default:
		return kie.NewClient(kie.Options{
			APIKey:       cfg.KIEAPIKey,
			BaseURL:      cfg.KIEBaseURL,
			Model:        cfg.KIEModel,
			AspectRatio:  cfg.KIEAspectRatio,
			Resolution:   cfg.KIEResolution,
			PromptPrefix: cfg.PromptPrefix,
			PollInterval: cfg.KIEPollEvery,
			MaxPolls:     cfg.KIEPollMax,
			Timeout:      cfg.RequestTimeout,
		}, logr), func() {}, nil
	}
}

func newPublisher(ctx context.Context, cfg config.Config) (service.Publisher, error) {
	switch cfg.StorageProvider {
	case "drive":
		return storage.NewDrivePublisher(ctx, cfg.DriveFolderID, option.WithCredentialsFile(cfg.GoogleCredsFile))
	default:
		return storage.NewS3Publisher(storage.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
	}
}

// newLocker uses Redis when configured so several bot replicas share locks.
func newLocker(ctx context.Context, cfg config.Config, logr *slog.Logger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewMemoryLocker(), func() {}, nil
	}
	rdb, err := lock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedisLocker(rdb, "thumbnailbot:lock:", cfg.LockTTL, logr), func() { _ = rdb.Close() }, nil
}

func newEventPublisher(cfg config.Config, logr *slog.Logger) (events.Publisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		logr.Info("no kafka brokers configured, events disabled")
		return events.Noop{}, func() {}, nil
	}
	producer, err := events.NewSyncProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, nil, err
	}
	pub := events.NewKafkaPublisher(producer, cfg.KafkaTopic)
	return pub, func() { _ = pub.Close() }, nil
}
