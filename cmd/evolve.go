package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notaria-labs/registro-cli/internal/prompt"
)

var (
	evolveDocType string
	evolveModel   string
	evolveNoGate  bool
)

// promptPair pairs two stored versions for the gate.
func promptPair(system, user *prompt.Version) prompt.Pair {
	return prompt.Pair{System: system, User: user}
}

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Evolve the prompt pair for a (doc-type, model) from accumulated feedback",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		cand, err := env.evolver().Evolve(cmd.Context(), evolveDocType, evolveModel)
		if err != nil {
			return err
		}
		zap.L().Info("candidate pair created",
			zap.String("system_version", cand.System.ID),
			zap.String("user_version", cand.User.ID),
			zap.Int("version_number", cand.System.VersionNumber),
		)

		if evolveNoGate {
			return nil
		}
		out, err := env.gate(evolveModel).PromoteCandidate(cmd.Context(),
			promptPair(cand.System, cand.User))
		if err != nil {
			return err
		}
		zap.L().Info("regression gate finished",
			zap.String("decision", string(out.Decision)),
			zap.String("reason", out.Reason),
			zap.Float64("candidate_golden", out.CandidateGolden),
			zap.Float64("candidate_backtest", out.CandidateBack),
		)
		return nil
	},
}

func init() {
	evolveCmd.Flags().StringVar(&evolveDocType, "doc-type", "acta_constitutiva", "document type")
	evolveCmd.Flags().StringVar(&evolveModel, "model", "claude-haiku-4-5-20251001", "extraction model")
	evolveCmd.Flags().BoolVar(&evolveNoGate, "no-gate", false, "create the candidate without running the regression gate")
	rootCmd.AddCommand(evolveCmd)
}
