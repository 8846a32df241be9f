package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/config"
	"quiz-assessment-service/internal/domain"
	infraamqp "quiz-assessment-service/internal/infra/amqp"
	"quiz-assessment-service/internal/infra/memory"
	"quiz-assessment-service/internal/infra/postgres"
	redisinfra "quiz-assessment-service/internal/infra/redis"
	"quiz-assessment-service/internal/jobs"
	"quiz-assessment-service/internal/logger"
	"quiz-assessment-service/internal/metrics"
	transport "quiz-assessment-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// deps holds everything built from config, so start and summary share wiring.
type deps struct {
	service *app.AttemptService
	metrics *metrics.Collector
	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDeps(ctx context.Context, cfg config.Config, log *zap.Logger) (*deps, error) {
	d := &deps{metrics: metrics.New()}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, func() { _ = redisClient.Close() })
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	var attempts app.AttemptRepository = memory.NewAttemptRepository()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		loader = postgres.NewQuizLoader(pool)

		db := postgres.OpenBun(cfg.Postgres.URL)
		d.closers = append(d.closers, func() { _ = db.Close() })
		attempts = postgres.NewAttemptRepository(db)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var sessions app.SessionRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL, log)
		sessions = redisinfra.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 3*time.Hour), log)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		sessions = memory.NewSessionStore()
	}

	opts := app.ServiceOptions{
		Logger:           log,
		Metrics:          d.metrics,
		WarningThreshold: config.TTLDuration(cfg.Attempt.WarningThreshold, app.DefaultWarningThreshold),
		PersistTimeout:   config.TTLDuration(cfg.Attempt.PersistTimeout, 10*time.Second),
		IdleTimeout:      config.TTLDuration(cfg.Attempt.IdleTimeout, 6*time.Hour),
	}
	if cfg.AMQP.URL != "" {
		pub, err := infraamqp.Dial(cfg.AMQP.URL, cfg.Exchange(), log)
		if err != nil {
			// Events are optional; attempts still run without a broker.
			log.Warn("amqp unavailable, events disabled", zap.Error(err))
		} else {
			d.closers = append(d.closers, pub.Close)
			opts.Publisher = pub
		}
	}

	d.service = app.NewAttemptService(sessions, quizRepo, attempts, opts)
	return d, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	d, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	sweeper := jobs.NewSweeper(d.service, config.TTLDuration(cfg.Attempt.Retention, 15*time.Minute), log)
	if err := sweeper.Schedule(cfg.SweepSchedule()); err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewMux(d.service, d.metrics.Handler(), log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz attempt service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes seeds the store-less mode; configure postgres.url to load real quizzes.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:               "quiz-1",
			Title:            "Warm-up",
			TotalPoints:      4,
			PassingThreshold: 50,
			TimeLimitMinutes: 10,
			MaxAttempts:      3,
			ShowResults:      true,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Text:   "What is 2 + 2?",
					Type:   domain.SingleChoice,
					Points: 2,
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					Explanation: "Two pairs make four.",
				},
				{
					ID:     "q2",
					Text:   "Go has generics.",
					Type:   domain.Boolean,
					Points: 1,
					Answer: domain.True,
				},
				{
					ID:     "q3",
					Text:   "Explain what a goroutine is.",
					Type:   domain.FreeText,
					Points: 1,
					Answer: "A lightweight thread managed by the Go runtime.",
				},
			},
		},
	}
}
