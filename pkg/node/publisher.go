package node

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hector-utils/pkg/network"
)

// Publisher sends messages on one topic. Every message carries a sequence
// number so subscriptions can drop duplicates.
type Publisher struct {
	node  *Node
	topic string
	qos   QoS
	id    string
	log   *zap.Logger

	mu      sync.Mutex
	closed  bool
	seq     uint64
	history []frame

	stopControl func()
	done        chan struct{}
}

func newPublisher(n *Node, topic string, qos QoS) (*Publisher, error) {
	p := &Publisher{
		node:  n,
		topic: topic,
		qos:   qos,
		id:    n.ids.Generate(false),
	}
	p.log = n.log.With(zap.String("topic", topic), zap.String("publisher", p.id))
	if qos.Durability != TransientLocal {
		return p, nil
	}

	ch, cancel, err := n.transport.Subscribe(controlTopic(topic))
	if err != nil {
		return nil, err
	}
	p.stopControl = cancel
	p.done = make(chan struct{})
	go p.serveHistory(ch)
	p.announce()
	return p, nil
}

func (p *Publisher) Topic() string { return p.topic }
func (p *Publisher) QoS() QoS      { return p.qos }
func (p *Publisher) ID() string    { return p.id }

// Publish encodes v with the node's codec and sends it.
func (p *Publisher) Publish(v any) error {
	data, err := p.node.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message for %q: %w", p.topic, err)
	}
	return p.PublishRaw(data)
}

// PublishRaw sends an already encoded payload.
func (p *Publisher) PublishRaw(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	f := frame{
		Kind:       frameData,
		Source:     p.id,
		Durability: p.qos.Durability,
		Seq:        p.seq + 1,
		Stamp:      time.Now().UTC(),
		Data:       append([]byte(nil), data...),
	}
	b, err := encodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode frame for %q: %w", p.topic, err)
	}
	if err := p.node.transport.Publish(p.topic, b); err != nil {
		return err
	}
	p.seq = f.Seq
	if p.qos.Durability == TransientLocal {
		p.history = append(p.history, f)
		if len(p.history) > p.qos.Depth {
			p.history = p.history[len(p.history)-p.qos.Depth:]
		}
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.history = nil
	p.mu.Unlock()

	if p.stopControl != nil {
		p.stopControl()
		<-p.done
	}
	p.node.forgetPublisher(p)
	return nil
}

func (p *Publisher) serveHistory(ch <-chan network.Message) {
	defer close(p.done)
	for msg := range ch {
		f, err := decodeFrame(msg.Payload)
		if err != nil {
			p.log.Debug("ignoring malformed control frame", zap.Error(err))
			continue
		}
		if f.Kind == frameRequest && f.Target != "" {
			p.replay(f.Target, f.Depth)
		}
	}
}

// replay sends the newest depth retained frames to a single subscription.
// A depth below 1 asks for everything retained.
func (p *Publisher) replay(target string, depth int) {
	p.mu.Lock()
	if p.closed || len(p.history) == 0 {
		p.mu.Unlock()
		return
	}
	history := p.history
	if depth > 0 && depth < len(history) {
		history = history[len(history)-depth:]
	}
	history = append([]frame(nil), history...)
	p.mu.Unlock()

	b, err := encodeFrame(frame{
		Kind:       frameReplay,
		Source:     p.id,
		Durability: p.qos.Durability,
		Target:     target,
		Stamp:      time.Now().UTC(),
		History:    history,
	})
	if err != nil {
		p.log.Warn("encode replay frame", zap.Error(err))
		return
	}
	if err := p.node.transport.Publish(p.topic, b); err != nil {
		p.log.Warn("replay failed", zap.String("target", target), zap.Error(err))
		return
	}
	p.log.Debug("history replayed", zap.String("target", target), zap.Int("messages", len(history)))
}

func (p *Publisher) announce() {
	b, err := encodeFrame(frame{Kind: frameAnnounce, Source: p.id, Durability: TransientLocal, Stamp: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := p.node.transport.Publish(controlTopic(p.topic), b); err != nil {
		p.log.Warn("announce failed", zap.Error(err))
	}
}
