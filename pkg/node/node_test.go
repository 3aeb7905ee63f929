package node

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hector-utils/pkg/network"
)

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func newTestNode(t *testing.T, ps network.PubSub, name string) *Node {
	t.Helper()
	n, err := New(ps, Config{Name: name})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func waitPending(t *testing.T, s *Subscription, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Pending() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d pending messages on %s, got %d", want, s.Topic(), s.Pending())
}

func TestNewNodeDefaults(t *testing.T) {
	_, err := New(nil, Config{})
	require.ErrorIs(t, err, ErrNoTransport)

	n, err := New(network.NewMemoryPubSub(), Config{})
	require.NoError(t, err)
	assert.Regexp(t, `^node_[0-9a-f]{32}$`, n.Name())
	assert.Len(t, n.ID(), 36)
	assert.IsType(t, JSONCodec{}, n.Codec())

	_, err = New(network.NewMemoryPubSub(), Config{Name: "bad name"})
	require.ErrorIs(t, err, ErrInvalidNodeName)
}

func TestPublishAndTake(t *testing.T) {
	ps := network.NewMemoryPubSub()
	n := newTestNode(t, ps, "talker")

	sub, err := n.CreateSubscription("/point", DefaultQoS(), nil)
	require.NoError(t, err)
	pub, err := n.CreatePublisher("/point", DefaultQoS())
	require.NoError(t, err)

	require.NoError(t, pub.Publish(point{X: 1, Y: 2}))
	waitPending(t, sub, 1)

	msg, ok := sub.Take()
	require.True(t, ok)
	var got point
	require.NoError(t, n.Codec().Unmarshal(msg.Data, &got))
	assert.Equal(t, point{X: 1, Y: 2}, got)
	assert.Equal(t, pub.ID(), msg.Info.Publisher)
	assert.Equal(t, uint64(1), msg.Info.Sequence)
	assert.False(t, msg.Info.Replayed)

	_, ok = sub.Take()
	assert.False(t, ok)
}

func TestKeepLastDropsOldest(t *testing.T) {
	n := newTestNode(t, network.NewMemoryPubSub(), "depth")
	sub, err := n.CreateSubscription("/seq", KeepLast(2), nil)
	require.NoError(t, err)
	pub, err := n.CreatePublisher("/seq", DefaultQoS())
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, pub.Publish(i))
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sub.mu.Lock()
		last := sub.lastSeq[pub.ID()]
		sub.mu.Unlock()
		if last == 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Equal(t, 2, sub.Pending())
	first, _ := sub.Take()
	second, _ := sub.Take()
	assert.Equal(t, "4", string(first.Data))
	assert.Equal(t, "5", string(second.Data))
}

func TestDuplicateFramesAreDropped(t *testing.T) {
	n := newTestNode(t, network.NewMemoryPubSub(), "dedupe")
	sub, err := n.CreateSubscription("/dup", KeepLast(10), nil)
	require.NoError(t, err)

	f := frame{Kind: frameData, Source: "pub-a", Seq: 3, Data: []byte(`"x"`)}
	b, err := encodeFrame(f)
	require.NoError(t, err)
	sub.deliver(b)
	sub.deliver(b)
	f.Seq = 2
	old, _ := encodeFrame(f)
	sub.deliver(old)
	sub.deliver([]byte("not a frame"))

	assert.Equal(t, 1, sub.Pending())
}

func TestLatchedSubscriptionReceivesHistory(t *testing.T) {
	ps := network.NewMemoryPubSub()
	talker := newTestNode(t, ps, "latched_talker")
	pub, err := talker.CreatePublisher("/map", Latched(2))
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, pub.Publish(i))
	}

	listener := newTestNode(t, ps, "late_listener")
	sub, err := listener.CreateSubscription("/map", Latched(2), nil)
	require.NoError(t, err)
	waitPending(t, sub, 2)

	first, _ := sub.Take()
	second, _ := sub.Take()
	assert.Equal(t, "2", string(first.Data))
	assert.Equal(t, "3", string(second.Data))
	assert.True(t, second.Info.Replayed)

	// Live messages keep flowing after the replay.
	require.NoError(t, pub.Publish(4))
	waitPending(t, sub, 1)
	live, _ := sub.Take()
	assert.Equal(t, "4", string(live.Data))
	assert.False(t, live.Info.Replayed)
}

func TestReplayHonoursRequestedDepth(t *testing.T) {
	ps := network.NewMemoryPubSub()
	talker := newTestNode(t, ps, "deep_talker")
	pub, err := talker.CreatePublisher("/count", Latched(5))
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, pub.Publish(i))
	}

	listener := newTestNode(t, ps, "shallow_listener")
	sub, err := listener.CreateSubscription("/count", Latched(3), nil)
	require.NoError(t, err)
	ws := NewWaitSet(sub)
	defer ws.Close()
	res, err := ws.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, WaitReady, res.Kind)

	// The whole requested tail is queued by the time the wait set fires.
	require.Equal(t, 3, sub.Pending())
	for _, want := range []string{"3", "4", "5"} {
		m, ok := sub.Take()
		require.True(t, ok)
		assert.Equal(t, want, string(m.Data))
		assert.True(t, m.Info.Replayed)
	}
}

func TestVolatileSubscriptionIgnoresHistory(t *testing.T) {
	ps := network.NewMemoryPubSub()
	talker := newTestNode(t, ps, "latched_talker")
	pub, err := talker.CreatePublisher("/map", Latched(1))
	require.NoError(t, err)
	require.NoError(t, pub.Publish("old"))

	listener := newTestNode(t, ps, "listener")
	volatile, err := listener.CreateSubscription("/map", DefaultQoS(), nil)
	require.NoError(t, err)
	latched, err := listener.CreateSubscription("/map", Latched(1), nil)
	require.NoError(t, err)

	waitPending(t, latched, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, volatile.Pending())
}

func TestLatchedSubscriptionIgnoresVolatilePublisher(t *testing.T) {
	ps := network.NewMemoryPubSub()
	n := newTestNode(t, ps, "mismatch")
	sub, err := n.CreateSubscription("/scan", Latched(1), nil)
	require.NoError(t, err)
	control, err := n.CreateSubscription("/scan", DefaultQoS(), nil)
	require.NoError(t, err)
	pub, err := n.CreatePublisher("/scan", DefaultQoS())
	require.NoError(t, err)

	require.NoError(t, pub.Publish("live"))
	waitPending(t, control, 1)
	assert.Equal(t, 0, sub.Pending())
	assert.False(t, Compatible(DefaultQoS(), Latched(1)))
	assert.True(t, Compatible(Latched(1), DefaultQoS()))
}

func TestAnnouncedPublisherServesWaitingSubscription(t *testing.T) {
	ps := network.NewMemoryPubSub()
	listener := newTestNode(t, ps, "early_listener")
	sub, err := listener.CreateSubscription("/late", Latched(1), nil)
	require.NoError(t, err)

	talker := newTestNode(t, ps, "late_talker")
	pub, err := talker.CreatePublisher("/late", Latched(1))
	require.NoError(t, err)
	require.NoError(t, pub.Publish("hello"))

	waitPending(t, sub, 1)
	msg, ok := sub.Take()
	require.True(t, ok)
	assert.Equal(t, `"hello"`, string(msg.Data))
}

func TestClosedNodeRejectsEntities(t *testing.T) {
	ps := network.NewMemoryPubSub()
	n, err := New(ps, Config{Name: "closing"})
	require.NoError(t, err)
	sub, err := n.CreateSubscription("/a", DefaultQoS(), nil)
	require.NoError(t, err)
	pub, err := n.CreatePublisher("/a", Latched(1))
	require.NoError(t, err)

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	_, err = n.CreateSubscription("/a", DefaultQoS(), nil)
	assert.ErrorIs(t, err, ErrNodeClosed)
	_, err = n.CreatePublisher("/a", DefaultQoS())
	assert.ErrorIs(t, err, ErrNodeClosed)
	assert.ErrorIs(t, pub.Publish(1), ErrPublisherClosed)
	_, ok := sub.Take()
	assert.False(t, ok)
}

func TestInvalidTopicPropagates(t *testing.T) {
	n := newTestNode(t, network.NewMemoryPubSub(), "invalid")
	_, err := n.CreateSubscription("", DefaultQoS(), nil)
	assert.ErrorIs(t, err, network.ErrInvalidTopic)
	_, err = n.CreatePublisher("with space", DefaultQoS())
	assert.ErrorIs(t, err, network.ErrInvalidTopic)
}

func TestSpinDispatchesCallbacks(t *testing.T) {
	ps := network.NewMemoryPubSub()
	n := newTestNode(t, ps, "spinner")

	var calls atomic.Int32
	_, err := n.CreateSubscription("/tick", DefaultQoS(), func(Message) { calls.Add(1) })
	require.NoError(t, err)
	silent, err := n.CreateSubscription("/tick", DefaultQoS(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Spin(ctx) }()

	pub, err := n.CreatePublisher("/tick", DefaultQoS())
	require.NoError(t, err)
	require.NoError(t, pub.Publish("tick"))

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), calls.Load())
	// Spinning never consumes subscriptions without a callback.
	assert.Equal(t, 1, silent.Pending())
}

func TestSpinOnceWithoutCallbacks(t *testing.T) {
	n := newTestNode(t, network.NewMemoryPubSub(), "idle")
	count, err := n.SpinOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, n.Close())
	_, err = n.SpinOnce(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNodeClosed)
}

func TestQoSHelpers(t *testing.T) {
	assert.Equal(t, QoS{Depth: 1}, DefaultQoS())
	assert.Equal(t, QoS{Depth: 1, Durability: TransientLocal}, Latched(0))
	assert.Equal(t, QoS{Depth: 5, Durability: TransientLocal}, KeepLast(5).TransientLocal())
	assert.Equal(t, "keep_last(1)/transient_local", Latched(1).String())

	d, err := ParseDurability("latched")
	require.NoError(t, err)
	assert.Equal(t, TransientLocal, d)
	_, err = ParseDurability("reliable")
	assert.Error(t, err)
}
