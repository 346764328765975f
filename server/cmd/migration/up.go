package migration

import (
	"fmt"

	"github.com/spf13/cobra"
)

type upCommand struct {
	configFilePath string
}

// NewUpCommand initializes command to apply every pending migration
func NewUpCommand() *cobra.Command {
	up := &upCommand{}
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Command to apply all pending migrations",
		RunE:  up.RunE,
	}
	cmd.Flags().StringVarP(&up.configFilePath, "config", "c", up.configFilePath, "File path for server configuration")
	return cmd
}

func (u *upCommand) RunE(_ *cobra.Command, _ []string) error {
	m, err := newMigration(u.configFilePath)
	if err != nil {
		return err
	}

	fmt.Println("Executing pending migrations") // nolint:forbidigo
	if err := m.Up(); err != nil {
		return fmt.Errorf("error during migration: %w", err)
	}
	fmt.Println("Migration finished successfully") // nolint:forbidigo
	return nil
}
