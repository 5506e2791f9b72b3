package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notaria-labs/registro-cli/internal/feedback"
)

var (
	fbDocType   string
	fbModel     string
	fbDocID     string
	fbRef       string
	fbField     string
	fbValue     string
	fbIncorrect bool
	fbReason    string
	fbCorrected string
	fbNoEvolve  bool
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record a reviewer verdict on an extracted field",
	Long:  "Stores one human verdict and updates the evolution queue. When the accumulated evidence crosses the trigger, an evolution runs and the candidate pair goes through the regression gate.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		fb := feedback.Feedback{
			DocType: fbDocType, Model: fbModel,
			DocumentID: fbDocID, ContentRef: fbRef,
			Field: fbField, Value: fbValue,
			IsCorrect: !fbIncorrect, Reason: fbReason,
		}
		if fbCorrected != "" {
			fb.CorrectedValue = &fbCorrected
		}

		entry, err := env.feedback.Record(cmd.Context(), fb)
		if err != nil {
			return err
		}
		zap.L().Info("feedback recorded",
			zap.String("doc_type", fbDocType),
			zap.String("field", fbField),
			zap.Bool("correct", !fbIncorrect),
			zap.Int("feedback_count", entry.FeedbackCount),
			zap.Int("incorrect_count", entry.IncorrectCount),
		)

		if fbNoEvolve || !entry.ShouldEvolve() {
			return nil
		}

		cand, err := env.evolver().Evolve(cmd.Context(), fbDocType, fbModel)
		if err != nil {
			// Evolution failing must not fail the feedback write; the
			// counters are intact and the next verdict re-triggers.
			zap.L().Error("prompt evolution failed", zap.Error(err))
			return nil
		}
		out, err := env.gate(fbModel).PromoteCandidate(cmd.Context(),
			promptPair(cand.System, cand.User))
		if err != nil {
			zap.L().Error("candidate promotion failed", zap.Error(err))
			return nil
		}
		zap.L().Info("regression gate finished",
			zap.String("decision", string(out.Decision)),
			zap.String("reason", out.Reason),
		)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&fbDocType, "doc-type", "acta_constitutiva", "document type")
	feedbackCmd.Flags().StringVar(&fbModel, "model", "claude-haiku-4-5-20251001", "extraction model the verdict applies to")
	feedbackCmd.Flags().StringVar(&fbDocID, "document-id", "", "document id")
	feedbackCmd.Flags().StringVar(&fbRef, "content-ref", "", "document content reference for backtests")
	feedbackCmd.Flags().StringVar(&fbField, "field", "", "field name (required)")
	feedbackCmd.Flags().StringVar(&fbValue, "value", "", "extracted value shown to the reviewer")
	feedbackCmd.Flags().BoolVar(&fbIncorrect, "incorrect", false, "mark the value incorrect (requires --reason)")
	feedbackCmd.Flags().StringVar(&fbReason, "reason", "", "why the value is incorrect")
	feedbackCmd.Flags().StringVar(&fbCorrected, "corrected", "", "the correct value, when known")
	feedbackCmd.Flags().BoolVar(&fbNoEvolve, "no-evolve", false, "record only, never trigger evolution")
	_ = feedbackCmd.MarkFlagRequired("field")
	rootCmd.AddCommand(feedbackCmd)
}
