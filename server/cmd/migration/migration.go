package migration

import (
	"fmt"
	"os"

	"github.com/odpf/salt/log"
	"github.com/spf13/cobra"

	"github.com/odpf/datajobs/config"
	"github.com/odpf/datajobs/internal/store/postgres"
)

// NewMigrationCommand initializes command for migration
func NewMigrationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migration",
		Short: "Command to do migration activity",
	}
	cmd.AddCommand(NewUpCommand())
	cmd.AddCommand(NewRollbackCommand())
	cmd.AddCommand(NewMigrateToCommand())
	return cmd
}

func newMigration(configFilePath string) (*postgres.Migration, error) {
	conf, err := config.LoadServerConfig(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("error loading server config: %w", err)
	}

	logger := log.NewLogrus(
		log.LogrusWithLevel(conf.Log.Level),
		log.LogrusWithWriter(os.Stderr),
	)
	return postgres.NewMigration(logger, conf.Serve.DB.DSN)
}
