package network

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultBufferSize = 64

// MemoryOptions configures the in-process transport.
type MemoryOptions struct {
	// BufferSize is the per-subscriber channel capacity. Default: 64.
	BufferSize int
	Logger     *zap.Logger
}

// MemoryPubSub is a process-local transport. Every subscriber of a topic
// receives its own copy of each payload.
type MemoryPubSub struct {
	log     *zap.Logger
	bufSize int

	mu      sync.RWMutex
	closed  bool
	nextID  int
	subs    map[string]map[int]chan Message
	dropped atomic.Uint64
}

func NewMemoryPubSub() *MemoryPubSub {
	return NewMemoryPubSubWithOptions(MemoryOptions{})
}

func NewMemoryPubSubWithOptions(opts MemoryOptions) *MemoryPubSub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &MemoryPubSub{
		log:     opts.Logger.Named("memory"),
		bufSize: opts.BufferSize,
		subs:    make(map[string]map[int]chan Message),
	}
}

func (m *MemoryPubSub) Publish(topic string, payload []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for id, ch := range m.subs[topic] {
		msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
		select {
		case ch <- msg:
		default:
			// Non-blocking send to avoid one slow subscriber stalling all publishers.
			m.dropped.Add(1)
			m.log.Debug("dropped message for slow subscriber", zap.String("topic", topic), zap.Int("subscriber", id))
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]chan Message)
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Message, m.bufSize)
	m.subs[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if subsByTopic, ok := m.subs[topic]; ok {
				if sub, exists := subsByTopic[id]; exists {
					delete(subsByTopic, id)
					close(sub)
				}
				if len(subsByTopic) == 0 {
					delete(m.subs, topic)
				}
			}
		})
	}
	return ch, cancel, nil
}

// Dropped returns how many deliveries were discarded because a subscriber's buffer was full.
func (m *MemoryPubSub) Dropped() uint64 {
	return m.dropped.Load()
}

// Close closes every subscriber channel. Later calls return ErrClosed.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, byID := range m.subs {
		for _, ch := range byID {
			close(ch)
		}
		delete(m.subs, topic)
	}
	return nil
}
