// Package waitfor blocks until a single message arrives on a topic.
//
// Message creates a temporary subscription, waits on it and tears it down
// again, so it suits one-off reads such as fetching a latched map or the
// current pose. Long-lived consumers should create their own subscription.
package waitfor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"hector-utils/pkg/ident"
	"hector-utils/pkg/network"
	"hector-utils/pkg/node"
)

// Forever disables the timeout.
const Forever time.Duration = -1

const tracerName = "hector-utils/pkg/waitfor"

// Status tells why Message returned.
type Status int

const (
	// TimedOut means nothing arrived before the timeout.
	TimedOut Status = iota
	// Delivered means Result.Message holds the received message.
	Delivered
	// Missed means a message was signalled but could not be taken,
	// typically because another consumer took it first.
	Missed
	// Canceled means the context ended the wait.
	Canceled
	// Closed means the node hosting the subscription was closed during the
	// wait. The accompanying error wraps node.ErrNodeClosed.
	Closed
)

func (s Status) String() string {
	switch s {
	case TimedOut:
		return "timed_out"
	case Delivered:
		return "delivered"
	case Missed:
		return "missed"
	case Canceled:
		return "canceled"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of Message. Message and Info are set only when
// Status is Delivered.
type Result[T any] struct {
	Status  Status
	Message T
	Info    node.MessageInfo
}

// OK reports whether a message was delivered.
func (r Result[T]) OK() bool { return r.Status == Delivered }

// Config controls a single wait.
type Config struct {
	// Node hosts the temporary subscription. When nil a node named
	// "wait_node_<id>" is created on Transport and closed before returning.
	// Nodes are not spun by Message.
	Node *node.Node
	// Transport is required when Node is nil; without either Message fails
	// with node.ErrNoTransport.
	Transport network.PubSub
	// QoS of the temporary subscription. The zero value is keep last 1,
	// volatile. Use Latched to receive messages published before the call.
	QoS node.QoS
	// Timeout bounds the wait: negative waits forever, zero only checks
	// what is already queued.
	Timeout time.Duration
	// Codec decodes the payload. Defaults to the node's codec.
	Codec node.Codec
	// IDs names temporary nodes. Defaults to a fresh generator.
	IDs    *ident.Generator
	Logger *zap.Logger
}

// DefaultConfig waits forever with keep last 1, volatile QoS on a temporary node.
func DefaultConfig(transport network.PubSub) Config {
	return Config{Transport: transport, QoS: node.DefaultQoS(), Timeout: Forever}
}

// Latched returns a transient-local QoS for Config.QoS. The publisher must be
// transient-local too, otherwise nothing is ever received.
func Latched(depth int) node.QoS {
	return node.Latched(depth)
}

// Message waits for the next message on topic and decodes it into T.
//
// A timeout is reported through Result.Status alone. Errors come from the
// transport or node (for example an invalid topic, or a node closed before
// or during the wait) and from decoding; Status still says how the wait ended.
func Message[T any](ctx context.Context, topic string, cfg Config) (Result[T], error) {
	var res Result[T]
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "waitfor.Message")
	defer span.End()
	span.SetAttributes(
		attribute.String("topic", topic),
		attribute.String("qos", cfg.QoS.String()),
		attribute.Int64("timeout_ms", cfg.Timeout.Milliseconds()),
	)

	n := cfg.Node
	if n == nil {
		ids := cfg.IDs
		if ids == nil {
			ids = ident.NewGenerator()
		}
		tmp, err := node.New(cfg.Transport, node.Config{
			Name:   "wait_node_" + ids.Generate(false),
			Codec:  cfg.Codec,
			Logger: log,
			IDs:    ids,
		})
		if err != nil {
			return res, failSpan(span, err)
		}
		defer tmp.Close()
		n = tmp
	}
	codec := cfg.Codec
	if codec == nil {
		codec = n.Codec()
	}

	sub, err := n.CreateSubscription(topic, cfg.QoS, nil)
	if err != nil {
		return res, failSpan(span, err)
	}
	defer sub.Close()
	ws := node.NewWaitSet(sub)
	defer ws.Close()

	started := time.Now()
	wr, err := ws.Wait(ctx, cfg.Timeout)
	switch {
	case err != nil:
		res.Status = Canceled
	case wr.Kind == node.WaitEmpty:
		res.Status = Closed
		err = fmt.Errorf("wait on %q: %w", topic, node.ErrNodeClosed)
	case wr.Kind != node.WaitReady:
		res.Status = TimedOut
	default:
		msg, ok := sub.Take()
		if !ok {
			res.Status = Missed
			break
		}
		if derr := codec.Unmarshal(msg.Data, &res.Message); derr != nil {
			err = fmt.Errorf("decode message on %q: %w", topic, derr)
			res.Status = Missed
			break
		}
		res.Status = Delivered
		res.Info = msg.Info
	}

	span.SetAttributes(attribute.String("status", res.Status.String()))
	log.Debug("wait finished",
		zap.String("topic", topic),
		zap.String("node", n.Name()),
		zap.Stringer("status", res.Status),
		zap.Duration("waited", time.Since(started)))
	if err != nil {
		return res, failSpan(span, err)
	}
	return res, nil
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
