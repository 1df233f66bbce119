package cli

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const envDatabaseURL = "PORTAL_DATABASE_URL"

func newMigrateCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the Postgres schema.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(dsn) == "" {
				return errors.New("--database-url or $" + envDatabaseURL + " is required")
			}
			if deps.Migrate == nil {
				return errors.New("migrate is not available in this build")
			}
			if err := deps.Migrate(cmd.Context(), dsn); err != nil {
				return err
			}
			t := &table{}
			t.add("schema up to date")
			return render(cmd.OutOrStdout(), flags.format(), map[string]string{"status": "migrated"}, t)
		},
	}
	cmd.Flags().StringVar(&dsn, "database-url", os.Getenv(envDatabaseURL), "Postgres DSN ($"+envDatabaseURL+").")
	return cmd
}
