package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notaria-labs/registro-cli/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := db.Migrate(cmd.Context(), env.pool); err != nil {
			return err
		}
		zap.L().Info("migrations up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
