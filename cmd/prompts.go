package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/notaria-labs/registro-cli/internal/prompt"
)

var (
	promptsDocType string
	promptsModel   string
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect and manage stored prompt versions",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all prompt versions for a (doc-type, model)",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		versions, err := env.prompts.List(cmd.Context(), promptsDocType, promptsModel)
		if err != nil {
			return err
		}
		return printJSON(versions)
	},
}

var promptsActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the active prompt pair, or the built-in defaults when none is stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		pair, err := env.prompts.GetActive(cmd.Context(), promptsDocType, promptsModel)
		if err != nil {
			return err
		}
		if pair == nil {
			defaults := prompt.Defaults(promptsDocType)
			return printJSON(map[string]string{
				"source": "defaults",
				"system": defaults.System,
				"user":   defaults.User,
			})
		}
		return printJSON(pair)
	},
}

var promptsLineageCmd = &cobra.Command{
	Use:   "lineage <version-id>",
	Short: "Walk a version's ancestry back to its root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		chain, err := env.prompts.Lineage(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(chain)
	},
}

var promptsActivateCmd = &cobra.Command{
	Use:   "activate <system-version-id> <user-version-id>",
	Short: "Manually activate a prompt pair, bypassing the regression gate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return env.prompts.Activate(cmd.Context(), args[0], args[1])
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	promptsCmd.PersistentFlags().StringVar(&promptsDocType, "doc-type", "acta_constitutiva", "document type")
	promptsCmd.PersistentFlags().StringVar(&promptsModel, "model", "claude-haiku-4-5-20251001", "extraction model")
	promptsCmd.AddCommand(promptsListCmd, promptsActiveCmd, promptsLineageCmd, promptsActivateCmd)
	rootCmd.AddCommand(promptsCmd)
}
