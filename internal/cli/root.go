// Package cli implements the hectorctl command tree.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hector-utils/internal/config"
	"hector-utils/internal/logging"
	"hector-utils/internal/tracing"
	"hector-utils/pkg/network"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// ErrNoMessage is returned by the wait command when nothing arrived in time.
var ErrNoMessage = errors.New("no message received")

type app struct {
	configPath string
	logLevel   string
	transport  string

	cfg           *config.Config
	log           *zap.Logger
	stopTracing   func(context.Context) error
	openTransport func(ctx context.Context) (network.Transport, error)
}

// NewRootCommand builds a fresh command tree. Run it through Execute so
// tracing and logging are flushed however the command ends.
func NewRootCommand() *cobra.Command {
	a := &app{}
	a.openTransport = a.defaultTransport
	return newRootCommand(a)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "hectorctl",
		Short: "Generate identifiers and wait for pub/sub messages",
		Long: `hectorctl talks to topics on an in-process or libp2p gossip transport.

It can publish JSON messages (optionally latched so late subscribers still
receive them), wait a bounded time for the next message on a topic, serve the
same operations over HTTP and generate UUID-v4 shaped identifiers.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flags.StringVar(&a.transport, "transport", "", "override transport.kind (memory, libp2p)")

	root.AddCommand(
		newUUIDCommand(),
		newWaitCommand(a),
		newPubCommand(a),
		newServeCommand(a),
	)
	return root
}

// Execute runs hectorctl with the process arguments.
func Execute(ctx context.Context) error {
	a := &app{}
	a.openTransport = a.defaultTransport
	return a.execute(ctx, newRootCommand(a))
}

// execute runs root and tears down afterwards. Cobra skips post-run hooks
// when a command fails.
func (a *app) execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if terr := a.teardown(ctx); err == nil {
		err = terr
	}
	return err
}

func (a *app) setup(ctx context.Context) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.transport != "" {
		cfg.Transport.Kind = a.transport
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	a.log = log

	if cfg.Tracing.Enabled {
		stop, err := tracing.Init(ctx, "hectorctl", Version, cfg.Tracing.OutputFile)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.stopTracing = stop
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var err error
	if a.stopTracing != nil {
		err = a.stopTracing(context.WithoutCancel(ctx))
		a.stopTracing = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}

func (a *app) defaultTransport(ctx context.Context) (network.Transport, error) {
	tc := a.cfg.Transport
	switch tc.Kind {
	case config.TransportMemory:
		return network.NewMemoryPubSubWithOptions(network.MemoryOptions{
			BufferSize: tc.BufferSize,
			Logger:     a.log,
		}), nil
	case config.TransportLibp2p:
		ps, err := network.NewLibp2pPubSub(ctx, network.Libp2pOptions{
			ListenAddrs:     tc.ListenAddrs,
			Bootstrap:       tc.Bootstrap,
			Rendezvous:      tc.Rendezvous,
			EnableMDNS:      tc.EnableMDNS,
			IdentityKeyFile: tc.IdentityKeyFile,
			BufferSize:      tc.BufferSize,
			Logger:          a.log,
		})
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", tc.Kind)
	}
}
