package cmd

import (
	"os"

	"github.com/odpf/salt/log"
	"github.com/odpf/salt/version"
	"github.com/spf13/cobra"

	"github.com/odpf/datajobs/config"
)

const githubRepo = "odpf/datajobs"

type versionCommand struct {
	logger      log.Logger
	checkUpdate bool
}

// NewVersionCommand initializes command to get version
func NewVersionCommand() *cobra.Command {
	v := &versionCommand{
		logger: log.NewLogrus(log.LogrusWithWriter(os.Stdout)),
	}

	cmd := &cobra.Command{
		Use:     "version",
		Short:   "Print the version information",
		Example: "datajobs version [--check-update]",
		RunE:    v.RunE,
	}
	cmd.Flags().BoolVar(&v.checkUpdate, "check-update", v.checkUpdate, "Check github for a newer release")
	return cmd
}

func (v *versionCommand) RunE(_ *cobra.Command, _ []string) error {
	v.logger.Info("Version: " + config.BuildVersion)
	if config.BuildCommit != "" {
		v.logger.Info("Commit: " + config.BuildCommit)
	}
	if config.BuildDate != "" {
		v.logger.Info("Built: " + config.BuildDate)
	}

	if v.checkUpdate {
		if updateNotice := version.UpdateNotice(config.BuildVersion, githubRepo); updateNotice != "" {
			v.logger.Info(updateNotice)
		}
	}
	return nil
}
