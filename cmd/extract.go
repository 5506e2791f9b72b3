package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notaria-labs/registro-cli/internal/consensus"
)

var (
	extractDocType string
	extractDocID   string
)

var extractCmd = &cobra.Command{
	Use:   "extract <document-file>",
	Short: "Run consensus extraction over one document",
	Long:  "Fans the document out to all configured extractors, reconciles their field sets, verifies values against the page layout when a layout service is configured, and prints the reconciled result.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		pipe, err := env.pipeline()
		if err != nil {
			return err
		}

		contentRef := args[0]
		docID := extractDocID
		if docID == "" {
			docID = strings.TrimSuffix(filepath.Base(contentRef), filepath.Ext(contentRef))
		}

		out, err := pipe.Run(cmd.Context(), docID, extractDocType, contentRef)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}

		if out.Consensus.Tier == consensus.TierReviewRequired {
			cmd.PrintErrln("review required: " + strings.Join(out.Consensus.Discrepancies, ", "))
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractDocType, "doc-type", "acta_constitutiva", "document type (unknown types use the open schema)")
	extractCmd.Flags().StringVar(&extractDocID, "doc-id", "", "document id (default derived from filename)")
	rootCmd.AddCommand(extractCmd)
}
