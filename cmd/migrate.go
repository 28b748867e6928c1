package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/budget/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the event store tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return err
		}

		if err := database.Migrate(db); err != nil {
			return err
		}

		log.Info().Msg("Migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
