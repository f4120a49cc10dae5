package cmd

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // cobra command pattern
var cleanupCmd = &cobra.Command{
	Use:           "cleanup",
	Short:         "Uninstall the releases and delete the namespace",
	RunE:          runCleanup,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	sess, err := newSession(cmd.Name())
	if err != nil {
		return err
	}

	runner, err := sess.runner()
	if err != nil {
		return sess.finish(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	return sess.finish(errors.Wrap(runner.Cleanup(ctx), "cleanup failed"))
}
