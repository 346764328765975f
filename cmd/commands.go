package cmd

import (
	"github.com/MakeNowJust/heredoc"
	"github.com/odpf/salt/cmdx"
	cli "github.com/spf13/cobra"

	serverCmd "github.com/odpf/datajobs/server/cmd"
	"github.com/odpf/datajobs/server/cmd/migration"
)

// New constructs the 'root' command. It houses all other sub commands
func New() *cli.Command {
	root := &cli.Command{
		Use: "datajobs <command> <subcommand> [flags]",
		Long: heredoc.Doc(`
			Datajobs keeps the execution history of deployed data jobs in line
			with what actually runs on the kubernetes cluster.

			Configuration is read from the file passed with -c, or from
			datajobs.yaml next to the binary or in the home directory.
			Every key can be overridden with a DATAJOBS_ prefixed env var.`),
		SilenceUsage: true,
		Example: heredoc.Doc(`
				$ datajobs serve -c config.yaml
				$ datajobs migration up -c config.yaml
				$ datajobs migration rollback -n 1
			`),
		Annotations: map[string]string{
			"group:core": "true",
			"help:learn": heredoc.Doc(`
				Use 'datajobs <command> <subcommand> --help' for more information about a command.
			`),
		},
	}

	cmdx.SetHelp(root)

	root.AddCommand(
		serverCmd.NewServeCommand(),
		migration.NewMigrationCommand(),
		NewVersionCommand(),
	)
	return root
}
