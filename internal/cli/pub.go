package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hector-utils/pkg/node"
)

func newPubCommand(a *app) *cobra.Command {
	var (
		latched  bool
		depth    int
		count    int
		interval time.Duration
		hold     bool
	)
	cmd := &cobra.Command{
		Use:   "pub TOPIC JSON",
		Short: "Publish a JSON message on a topic",
		Long: `Pub publishes JSON on TOPIC --count times, --interval apart.

A latched publisher keeps its last --depth messages and hands them to
transient-local subscriptions that join later, for as long as the process
runs. Use --hold to keep serving them until interrupted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, payload := args[0], []byte(args[1])
			if !json.Valid(payload) {
				return errors.New("message must be valid JSON")
			}
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			qos := node.KeepLast(depth)
			if latched {
				qos = qos.TransientLocal()
			}

			ctx := cmd.Context()
			ps, err := a.openTransport(ctx)
			if err != nil {
				return err
			}
			defer ps.Close()

			n, err := node.New(ps, node.Config{Logger: a.log})
			if err != nil {
				return err
			}
			defer n.Close()
			pub, err := n.CreatePublisher(topic, qos)
			if err != nil {
				return err
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for i := 0; i < count; i++ {
				if i > 0 {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
				if err := pub.PublishRaw(payload); err != nil {
					return fmt.Errorf("publish %q: %w", topic, err)
				}
				a.log.Debug("published",
					zap.String("topic", topic),
					zap.Int("n", i+1),
					zap.Stringer("qos", qos))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d message(s) on %s as %s\n", count, topic, pub.ID())

			if hold {
				a.log.Info("holding publisher until interrupted", zap.String("topic", topic))
				<-ctx.Done()
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVarP(&latched, "latched", "l", false, "use transient-local durability")
	flags.IntVar(&depth, "depth", 1, "history kept for late subscribers")
	flags.IntVarP(&count, "count", "n", 1, "number of times to publish")
	flags.DurationVar(&interval, "interval", time.Second, "delay between publishes")
	flags.BoolVar(&hold, "hold", false, "keep running after publishing")
	return cmd
}
