package migration

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type migrateTo struct {
	configFilePath string
	version        int
}

// NewMigrateToCommand initializes command for migration to a specific version
func NewMigrateToCommand() *cobra.Command {
	to := &migrateTo{}
	cmd := &cobra.Command{
		Use:   "to",
		Short: "Command to migrate to specific migration version",
		RunE:  to.RunE,
	}
	cmd.Flags().StringVarP(&to.configFilePath, "config", "c", to.configFilePath, "File path for server configuration")
	cmd.Flags().IntVarP(&to.version, "version", "v", -1, "Migration version to move to")
	return cmd
}

func (m *migrateTo) RunE(_ *cobra.Command, _ []string) error {
	if m.version < 0 {
		return errors.New("invalid migration version")
	}

	migration, err := newMigration(m.configFilePath)
	if err != nil {
		return err
	}

	fmt.Printf("Executing migration to version %d \n", m.version) // nolint:forbidigo
	if err := migration.ToVersion(uint(m.version)); err != nil {
		return fmt.Errorf("error during migration: %w", err)
	}
	fmt.Println("Migration finished successfully") // nolint:forbidigo
	return nil
}
