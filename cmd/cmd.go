package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drink-check-bot/internal/config"
	"drink-check-bot/internal/handlers"
	"drink-check-bot/internal/middleware"
	"drink-check-bot/internal/repository"
	"drink-check-bot/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// Run starts the bot: HTTP server, challenge issuing and reminder sweep
func Run() {
	cfg := loadConfig()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	eventRepo := repository.NewEventRepository(db)
	hashRepo := repository.NewPhotoHashRepository(db)

	// Optional infrastructure
	var locker services.Locker
	if cfg.Redis.URL != "" {
		redisLocker, err := services.NewRedisLocker(ctx, cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.LockTTL, cfg.Redis.LockWait)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisLocker.Close()
		locker = redisLocker
		log.Info().Msg("Redis user lock enabled")
	}

	var publisher services.Publisher
	if cfg.NATS.URL != "" {
		natsPublisher, err := services.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		log.Info().Str("prefix", cfg.NATS.SubjectPrefix).Msg("NATS event publishing enabled")
	}

	// Initialize services
	messenger, err := services.NewTelegramMessenger(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Telegram client")
	}

	storage, err := services.NewS3PhotoStorage(ctx, cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create photo storage")
	}

	var classifier services.Classifier
	if cfg.Gemini.APIKey != "" {
		classifier, err = services.NewGeminiClassifier(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create classifier")
		}
	} else {
		log.Warn().Msg("Gemini API key not set, photos are accepted without classification")
	}

	feedHub := services.NewFeedHub()
	auth := services.NewOperatorAuth(cfg.JWT.Secret, time.Now)
	relay := services.NewNotificationRelay(messenger, publisher, feedHub, time.Now)
	ledger := services.NewHashLedger(hashRepo, time.Now)
	scheduler := services.NewChallengeScheduler(userRepo, eventRepo, relay, locker, services.SchedulerConfig{
		DeadlineMinutes:  cfg.Challenge.DeadlineMinutes,
		ReminderInterval: cfg.Challenge.ReminderInterval,
		Gestures:         cfg.Challenge.Gestures,
	}, time.Now)
	engine := services.NewVerificationEngine(eventRepo, ledger, messenger, storage, classifier, relay, locker, time.Now)
	bot := services.NewBot(userRepo, eventRepo, scheduler, engine, relay, time.Now)

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(bot, cfg.Telegram.WebhookSecret)
	cronHandler := handlers.NewCronHandler(scheduler)
	operatorHandler := handlers.NewOperatorHandler(eventRepo, userRepo)
	feedHandler := handlers.NewFeedHandler(feedHub, auth)

	// Setup router
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/telegram/webhook", webhookHandler.Status)
	r.Post("/telegram/webhook", webhookHandler.HandleUpdate)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(auth))
		r.Post("/cron/schedule", cronHandler.Schedule)
		r.Post("/cron/sweep", cronHandler.Sweep)
		r.Get("/events", operatorHandler.ListEvents)
		r.Get("/users/active", operatorHandler.ListActiveUsers)
		r.Patch("/users/{user_id}", operatorHandler.UpdateUser)
	})

	r.Get("/ws/feed", feedHandler.HandleFeed)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return services.RunEvery(gctx, "issue_challenges", cfg.Challenge.IssueInterval, func(ctx context.Context) error {
			_, err := scheduler.IssueChallenges(ctx)
			return err
		})
	})

	g.Go(func() error {
		return services.RunEvery(gctx, "sweep_reminders", cfg.Challenge.SweepInterval, func(ctx context.Context) error {
			_, err := scheduler.SweepReminders(ctx)
			return err
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}

	log.Info().Msg("Server exited")
}

// MintToken prints an operator JWT for subject
func MintToken(subject string) {
	cfg := loadConfig()
	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret is required")
	}

	token, err := services.NewOperatorAuth(cfg.JWT.Secret, time.Now).GenerateToken(subject)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate token")
	}
	fmt.Println(token)
}

func loadConfig() *config.Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.Log.Level)
	return cfg
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

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
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
