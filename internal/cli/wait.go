package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hector-utils/pkg/node"
	"hector-utils/pkg/waitfor"
)

func newWaitCommand(a *app) *cobra.Command {
	var (
		timeout time.Duration
		latched bool
		depth   int
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "wait TOPIC",
		Short: "Wait for the next message on a topic and print it",
		Long: `Wait subscribes to TOPIC and prints the first message that arrives as JSON.

With --latched the subscription is transient-local and also receives the last
message of latched publishers that were already running. A negative timeout
waits until interrupted. When nothing arrives the command exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("timeout") {
				timeout = a.cfg.Wait.Timeout
			}
			if !flags.Changed("latched") {
				latched = a.cfg.Wait.Latched
			}
			if !flags.Changed("depth") {
				depth = a.cfg.Wait.Depth
			}
			qos := node.KeepLast(depth)
			if latched {
				qos = qos.TransientLocal()
			}

			ps, err := a.openTransport(cmd.Context())
			if err != nil {
				return err
			}
			defer ps.Close()

			res, err := waitfor.Message[json.RawMessage](cmd.Context(), args[0], waitfor.Config{
				Transport: ps,
				QoS:       qos,
				Timeout:   timeout,
				Logger:    a.log,
			})
			if err != nil {
				return err
			}
			if !res.OK() {
				a.log.Info("wait finished without a message",
					zap.String("topic", args[0]),
					zap.Stringer("status", res.Status))
				return fmt.Errorf("%s: %w", args[0], ErrNoMessage)
			}

			out := cmd.OutOrStdout()
			if verbose {
				return json.NewEncoder(out).Encode(map[string]any{
					"message":     res.Message,
					"publisher":   res.Info.Publisher,
					"sequence":    res.Info.Sequence,
					"source_time": res.Info.SourceTime,
					"replayed":    res.Info.Replayed,
				})
			}
			_, err = fmt.Fprintln(out, string(res.Message))
			return err
		},
	}
	flags := cmd.Flags()
	flags.DurationVarP(&timeout, "timeout", "t", 5*time.Second, "maximum wait, negative waits forever")
	flags.BoolVarP(&latched, "latched", "l", false, "use transient-local durability")
	flags.IntVar(&depth, "depth", 1, "history depth of the subscription")
	flags.BoolVarP(&verbose, "verbose", "v", false, "print message metadata with the payload")
	return cmd
}
