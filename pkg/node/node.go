// Package node hosts publishers and subscriptions on top of a raw
// network.PubSub transport and adds what the transport lacks: per-entity QoS
// (history depth, durability), a non-blocking take and a wait set.
//
// Nodes are never serviced implicitly. Subscriptions created with a callback
// are dispatched only while some goroutine runs Spin or SpinOnce; a
// subscription without a callback is consumed exclusively through Take.
package node

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"hector-utils/pkg/ident"
	"hector-utils/pkg/network"
)

var (
	ErrNoTransport     = errors.New("node: transport required")
	ErrNodeClosed      = errors.New("node closed")
	ErrPublisherClosed = errors.New("publisher closed")
	ErrInvalidNodeName = errors.New("invalid node name")
)

// Config configures a Node. Zero fields get defaults.
type Config struct {
	// Name identifies the node in logs. Default: "node_" + random id.
	Name string
	// Codec encodes values passed to Publisher.Publish. Default: JSONCodec.
	Codec Codec
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// IDs names the node and its entities. Default: a fresh Generator.
	IDs *ident.Generator
}

type Node struct {
	name      string
	id        string
	transport network.PubSub
	codec     Codec
	ids       *ident.Generator
	log       *zap.Logger

	mu     sync.Mutex
	closed bool
	subs   map[*Subscription]struct{}
	pubs   map[*Publisher]struct{}
}

func New(transport network.PubSub, cfg Config) (*Node, error) {
	if transport == nil {
		return nil, ErrNoTransport
	}
	if cfg.IDs == nil {
		cfg.IDs = ident.NewGenerator()
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "node_" + cfg.IDs.Generate(false)
	}
	if strings.ContainsAny(cfg.Name, " \t\r\n/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNodeName, cfg.Name)
	}

	id := cfg.IDs.NewString()
	return &Node{
		name:      cfg.Name,
		id:        id,
		transport: transport,
		codec:     cfg.Codec,
		ids:       cfg.IDs,
		log:       cfg.Logger.With(zap.String("node", cfg.Name)),
		subs:      make(map[*Subscription]struct{}),
		pubs:      make(map[*Publisher]struct{}),
	}, nil
}

func (n *Node) Name() string { return n.name }

// ID is unique per node instance, even when names repeat.
func (n *Node) ID() string { return n.id }

func (n *Node) Codec() Codec { return n.codec }

// CreatePublisher advertises topic with the given QoS. Transient-local
// publishers start answering history requests immediately.
func (n *Node) CreatePublisher(topic string, qos QoS) (*Publisher, error) {
	if err := network.ValidateTopic(topic); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrNodeClosed
	}
	p, err := newPublisher(n, topic, qos.normalized())
	if err != nil {
		return nil, fmt.Errorf("create publisher on %q: %w", topic, err)
	}
	n.pubs[p] = struct{}{}
	n.log.Debug("publisher created", zap.String("topic", topic), zap.Stringer("qos", p.qos))
	return p, nil
}

// CreateSubscription subscribes to topic. callback may be nil, in which case
// messages are only reachable through Take.
func (n *Node) CreateSubscription(topic string, qos QoS, callback func(Message)) (*Subscription, error) {
	if err := network.ValidateTopic(topic); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrNodeClosed
	}
	s, err := newSubscription(n, topic, qos.normalized(), callback)
	if err != nil {
		return nil, fmt.Errorf("create subscription on %q: %w", topic, err)
	}
	n.subs[s] = struct{}{}
	n.log.Debug("subscription created", zap.String("topic", topic), zap.Stringer("qos", s.qos))
	return s, nil
}

// Close closes every publisher and subscription the node created. The
// transport is left open.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subs
	pubs := n.pubs
	n.subs = make(map[*Subscription]struct{})
	n.pubs = make(map[*Publisher]struct{})
	n.mu.Unlock()

	var errs []error
	for s := range subs {
		errs = append(errs, s.Close())
	}
	for p := range pubs {
		errs = append(errs, p.Close())
	}
	n.log.Debug("node closed", zap.Int("subscriptions", len(subs)), zap.Int("publishers", len(pubs)))
	return errors.Join(errs...)
}

func (n *Node) forgetSubscription(s *Subscription) {
	n.mu.Lock()
	delete(n.subs, s)
	n.mu.Unlock()
}

func (n *Node) forgetPublisher(p *Publisher) {
	n.mu.Lock()
	delete(n.pubs, p)
	n.mu.Unlock()
}

func (n *Node) callbackSubscriptions() ([]*Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrNodeClosed
	}
	out := make([]*Subscription, 0, len(n.subs))
	for s := range n.subs {
		if s.callback != nil {
			out = append(out, s)
		}
	}
	return out, nil
}
