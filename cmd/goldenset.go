package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/notaria-labs/registro-cli/internal/goldenset"
	"github.com/notaria-labs/registro-cli/internal/prompt"
)

var (
	goldenDocType string
	goldenModel   string
	goldenBy      string
)

var goldensetCmd = &cobra.Command{
	Use:   "goldenset",
	Short: "Manage the golden-set benchmark",
}

// truthFile is the YAML shape for promoting a document into the golden set.
type truthFile struct {
	DocumentID string            `yaml:"document_id"`
	ContentRef string            `yaml:"content_ref"`
	Fields     map[string]string `yaml:"fields"`
}

var goldensetPromoteCmd = &cobra.Command{
	Use:   "promote <truth-file.yaml>",
	Short: "Add a human-verified document to the golden set",
	Long:  "Reads a YAML file with the document id, its content reference, and the verified value for every field, and stores it as a benchmark truth. Truths are write-once.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var tf truthFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return err
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		err = env.truths.Promote(cmd.Context(), goldenset.Truth{
			DocType:    goldenDocType,
			DocumentID: tf.DocumentID,
			ContentRef: tf.ContentRef,
			Fields:     tf.Fields,
			PromotedBy: goldenBy,
		})
		if err != nil {
			return err
		}
		zap.L().Info("document promoted to golden set",
			zap.String("doc_type", goldenDocType),
			zap.String("document_id", tf.DocumentID),
			zap.Int("fields", len(tf.Fields)),
		)
		return nil
	},
}

var goldensetTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Score the active prompt pair against the golden set",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		pair, err := env.prompts.GetActive(cmd.Context(), goldenDocType, goldenModel)
		if err != nil {
			return err
		}
		contents := goldenset.PairContents{}
		if pair != nil {
			contents.System, contents.User = pair.System.Content, pair.User.Content
		} else {
			defaults := prompt.Defaults(goldenDocType)
			contents.System, contents.User = defaults.System, defaults.User
		}

		score, err := env.gate(goldenModel).EvaluateGoldenSet(cmd.Context(), goldenDocType, contents)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"doc_type": goldenDocType,
			"model":    goldenModel,
			"matched":  score.Matched,
			"total":    score.Total,
			"accuracy": score.Accuracy(),
		})
	},
}

func init() {
	goldensetCmd.PersistentFlags().StringVar(&goldenDocType, "doc-type", "acta_constitutiva", "document type")
	goldensetCmd.PersistentFlags().StringVar(&goldenModel, "model", "claude-haiku-4-5-20251001", "extraction model")
	goldensetPromoteCmd.Flags().StringVar(&goldenBy, "by", "cli", "reviewer promoting the document")
	goldensetCmd.AddCommand(goldensetPromoteCmd, goldensetTestCmd)
	rootCmd.AddCommand(goldensetCmd)
}
