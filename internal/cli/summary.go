package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"quiz-assessment-service/internal/config"
	"quiz-assessment-service/internal/logger"
)

// NewSummaryCmd prints the instructor summary for a quiz from the configured store.
func NewSummaryCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <quizID>",
		Short: "Print attempt statistics for a quiz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.New(logger.Options{Level: "warn"})
			defer log.Sync()

			deps, err := buildDeps(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer deps.Close()

			summary, err := deps.service.QuizSummary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(summary)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
