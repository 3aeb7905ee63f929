package config

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap/zapcore"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g. "transport.bootstrap[0]"
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate reports every problem at once, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.validateTransport()...)
	errs = append(errs, c.validateLogging()...)
	if c.Wait.Depth < 1 {
		errs = append(errs, ValidationError{Path: "wait.depth", Message: "must be at least 1"})
	}
	return errors.Join(errs...)
}

func (c *Config) validateTransport() []error {
	var errs []error
	tc := c.Transport
	switch tc.Kind {
	case TransportMemory:
		return nil
	case TransportLibp2p:
	default:
		return []error{ValidationError{
			Path:    "transport.kind",
			Message: fmt.Sprintf("unknown transport %q", tc.Kind),
			Hint:    "expected memory or libp2p",
		}}
	}

	for i, addr := range tc.ListenAddrs {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("transport.listen_addrs[%d]", i),
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/<addr>/tcp/<port>",
			})
		}
	}
	for i, addr := range tc.Bootstrap {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("transport.bootstrap[%d]", i),
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
			})
			continue
		}
		if _, err := ma.ValueForProtocol(multiaddr.P_P2P); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("transport.bootstrap[%d]", i),
				Message: "missing peer id",
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
		}
	}
	if tc.BufferSize < 0 {
		errs = append(errs, ValidationError{Path: "transport.buffer_size", Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid level %q", c.Logging.Level),
			Hint:    "expected debug, info, warn or error",
		})
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("invalid format %q", c.Logging.Format),
			Hint:    "expected console or json",
		})
	}
	return errs
}
