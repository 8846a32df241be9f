package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/config"
	"quiz-assessment-service/internal/domain"
	"quiz-assessment-service/internal/infra/postgres"
	redisinfra "quiz-assessment-service/internal/infra/redis"
	"quiz-assessment-service/internal/logger"
)

// NewImportCmd loads a quiz document into Postgres and drops any cached copy.
func NewImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <quiz.json>",
		Short: "Validate a quiz file and store it, replacing any earlier version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
			defer log.Sync()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}

			ctx := cmd.Context()
			db := postgres.OpenBun(cfg.Postgres.URL)
			defer db.Close()
			if _, err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			save := func(ctx context.Context, id string, data []byte) error {
				return postgres.SaveQuiz(ctx, db, id, data)
			}

			var cache *redisinfra.QuizRepository
			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				defer client.Close()
				cache = redisinfra.NewQuizRepository(client, nil, 0, log)
			}

			quiz, err := importQuiz(ctx, raw, save, cache, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%d questions)\n", quiz.ID, len(quiz.Questions))
			return nil
		},
	}
}

type quizSaver func(ctx context.Context, id string, data []byte) error

// importQuiz validates raw as a quiz, saves it and invalidates the shared cache.
// A cache failure is logged: the entry still expires on its own TTL.
func importQuiz(ctx context.Context, raw []byte, save quizSaver, cache *redisinfra.QuizRepository, log *zap.Logger) (domain.Quiz, error) {
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: %w", domain.ErrInvalidQuiz, err)
	}
	bank, err := app.NewQuestionBank(quiz)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz = bank.Quiz()

	data, err := json.Marshal(quiz)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := save(ctx, quiz.ID, data); err != nil {
		return domain.Quiz{}, fmt.Errorf("save quiz: %w", err)
	}
	if cache != nil {
		if err := cache.Invalidate(ctx, quiz.ID); err != nil {
			log.Warn("invalidate cached quiz", zap.String("quiz", quiz.ID), zap.Error(err))
		}
	}
	log.Info("quiz imported", zap.String("quiz", quiz.ID), zap.Int("questions", len(quiz.Questions)))
	return quiz, nil
}
