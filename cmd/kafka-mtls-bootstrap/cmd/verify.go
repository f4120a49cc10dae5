package cmd

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // cobra command pattern
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the client secret against its source and wait for ready pods",
	Long: `Checks that the client secret holds exactly ca.crt, tls.crt and tls.key,
that none is empty and that each decodes to the value of the Kafka secret,
then waits for the pods of the namespace. Nothing in the cluster is changed.`,
	RunE:          runVerify,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func runVerify(cmd *cobra.Command, _ []string) error {
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

	err = runner.Verify(ctx)
	if err != nil {
		return sess.finish(errors.Wrap(err, "verification failed"))
	}

	sess.logger.Info("verification passed", "namespace", sess.cfg.Namespace, "secret", sess.cfg.ClientSecret)

	return sess.finish(nil)
}
