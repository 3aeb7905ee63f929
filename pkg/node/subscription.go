package node

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"hector-utils/pkg/network"
)

// History requests are retried with these delays until a replay arrives.
// A transient-local publisher that shows up later announces itself instead.
var historyRequestBackoff = []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}

// MessageInfo describes where a received message came from.
type MessageInfo struct {
	Publisher  string
	Sequence   uint64
	SourceTime time.Time
	ReceivedAt time.Time
	// Replayed is set for history delivered to a late transient-local subscription.
	Replayed bool
}

// Message is one received sample. Data is still encoded.
type Message struct {
	Topic string
	Data  []byte
	Info  MessageInfo
}

// Subscription receives messages for one topic into a keep-last queue.
type Subscription struct {
	node     *Node
	topic    string
	qos      QoS
	id       string
	callback func(Message)
	log      *zap.Logger

	mu      sync.Mutex
	closed  bool
	queue   []Message
	lastSeq map[string]uint64
	guards  map[chan struct{}]struct{}

	cancels    []func()
	stopRetry  context.CancelFunc
	wg         sync.WaitGroup
	replayed   chan struct{}
	replayOnce sync.Once
}

func newSubscription(n *Node, topic string, qos QoS, callback func(Message)) (*Subscription, error) {
	s := &Subscription{
		node:      n,
		topic:     topic,
		qos:       qos,
		id:        n.ids.Generate(false),
		callback:  callback,
		lastSeq:   make(map[string]uint64),
		guards:    make(map[chan struct{}]struct{}),
		replayed:  make(chan struct{}),
		stopRetry: func() {},
	}
	s.log = n.log.With(zap.String("topic", topic), zap.String("subscription", s.id))

	dataCh, cancelData, err := n.transport.Subscribe(topic)
	if err != nil {
		return nil, err
	}
	s.cancels = append(s.cancels, cancelData)

	if qos.Durability == TransientLocal {
		ctlCh, cancelCtl, err := n.transport.Subscribe(controlTopic(topic))
		if err != nil {
			cancelData()
			return nil, err
		}
		s.cancels = append(s.cancels, cancelCtl)
		ctx, cancel := context.WithCancel(context.Background())
		s.stopRetry = cancel
		s.wg.Add(2)
		go s.pumpControl(ctlCh)
		go s.requestHistory(ctx)
	}

	s.wg.Add(1)
	go s.pump(dataCh)
	return s, nil
}

func (s *Subscription) Topic() string { return s.topic }
func (s *Subscription) QoS() QoS      { return s.qos }
func (s *Subscription) ID() string    { return s.id }

// Take removes and returns the oldest queued message without blocking.
func (s *Subscription) Take() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return Message{}, false
	}
	m := s.queue[0]
	s.queue[0] = Message{}
	s.queue = s.queue[1:]
	return m, true
}

// Pending returns the number of queued messages.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops delivery and releases the transport subscriptions. Wait sets
// watching s are woken.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	guards := s.guardsLocked()
	s.mu.Unlock()

	s.stopRetry()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.wg.Wait()
	wake(guards)
	s.node.forgetSubscription(s)
	s.log.Debug("subscription closed")
	return nil
}

func (s *Subscription) state() (pending int, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), !s.closed
}

func (s *Subscription) attach(guard chan struct{}) {
	s.mu.Lock()
	s.guards[guard] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscription) detach(guard chan struct{}) {
	s.mu.Lock()
	delete(s.guards, guard)
	s.mu.Unlock()
}

func (s *Subscription) guardsLocked() []chan struct{} {
	out := make([]chan struct{}, 0, len(s.guards))
	for g := range s.guards {
		out = append(out, g)
	}
	return out
}

func (s *Subscription) pump(ch <-chan network.Message) {
	defer s.wg.Done()
	for msg := range ch {
		s.deliver(msg.Payload)
	}
}

func (s *Subscription) deliver(payload []byte) {
	f, err := decodeFrame(payload)
	if err != nil {
		s.log.Debug("ignoring malformed frame", zap.Error(err))
		return
	}
	var batch []frame
	switch f.Kind {
	case frameData:
		if f.Target != "" {
			return
		}
		batch = []frame{f}
	case frameReplay:
		if f.Target != s.id {
			return
		}
		batch = f.History
	default:
		return
	}
	if !Compatible(QoS{Durability: f.Durability}, s.qos) {
		return
	}

	now := time.Now().UTC()
	replayed := f.Kind == frameReplay
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	queued := 0
	for _, d := range batch {
		if d.Seq <= s.lastSeq[d.Source] {
			continue
		}
		s.lastSeq[d.Source] = d.Seq
		s.queue = append(s.queue, Message{
			Topic: s.topic,
			Data:  d.Data,
			Info: MessageInfo{
				Publisher:  d.Source,
				Sequence:   d.Seq,
				SourceTime: d.Stamp,
				ReceivedAt: now,
				Replayed:   replayed,
			},
		})
		queued++
	}
	if len(s.queue) > s.qos.Depth {
		s.queue = append(s.queue[:0], s.queue[len(s.queue)-s.qos.Depth:]...)
	}
	guards := s.guardsLocked()
	s.mu.Unlock()

	if queued > 0 {
		wake(guards)
	}
	if replayed {
		s.replayOnce.Do(func() { close(s.replayed) })
	}
}

func (s *Subscription) pumpControl(ch <-chan network.Message) {
	defer s.wg.Done()
	for msg := range ch {
		f, err := decodeFrame(msg.Payload)
		if err != nil {
			continue
		}
		if f.Kind == frameAnnounce {
			s.requestOnce()
		}
	}
}

func (s *Subscription) requestHistory(ctx context.Context) {
	defer s.wg.Done()
	for _, delay := range historyRequestBackoff {
		select {
		case <-ctx.Done():
			return
		case <-s.replayed:
			return
		case <-time.After(delay):
		}
		s.requestOnce()
	}
}

func (s *Subscription) requestOnce() {
	b, err := encodeFrame(frame{
		Kind:       frameRequest,
		Source:     s.id,
		Durability: TransientLocal,
		Target:     s.id,
		Depth:      s.qos.Depth,
		Stamp:      time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.node.transport.Publish(controlTopic(s.topic), b); err != nil {
		s.log.Debug("history request failed", zap.Error(err))
	}
}

func wake(guards []chan struct{}) {
	for _, g := range guards {
		select {
		case g <- struct{}{}:
		default:
		}
	}
}
