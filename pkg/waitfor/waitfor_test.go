package waitfor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hector-utils/pkg/network"
	"hector-utils/pkg/node"
)

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type pose struct {
	Position    point      `json:"position"`
	Orientation quaternion `json:"orientation"`
}

var testPose = pose{
	Position:    point{X: 1, Y: 1.5, Z: 2},
	Orientation: quaternion{W: 1},
}

// newPosePublisher mirrors a long-running node that latches the current pose.
func newPosePublisher(t *testing.T, ps network.PubSub) *node.Publisher {
	t.Helper()
	n, err := node.New(ps, node.Config{Name: "pose_publisher"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	pub, err := n.CreatePublisher("/test_pose", Latched(1))
	require.NoError(t, err)
	require.NoError(t, pub.Publish(testPose))
	return pub
}

func assertPose(t *testing.T, got pose) {
	t.Helper()
	assert.InDelta(t, 1.0, got.Position.X, 0)
	assert.InDelta(t, 1.5, got.Position.Y, 0)
	assert.InDelta(t, 2.0, got.Position.Z, 0)
	assert.InDelta(t, 1.0, got.Orientation.W, 0)
}

func TestVolatileWaitMissesEarlierMessage(t *testing.T) {
	ps := network.NewMemoryPubSub()
	newPosePublisher(t, ps)

	start := time.Now()
	res, err := Message[pose](context.Background(), "/test_pose", Config{
		Transport: ps,
		Timeout:   200 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Status)
	assert.False(t, res.OK())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestLatchedWaitReceivesEarlierMessage(t *testing.T) {
	ps := network.NewMemoryPubSub()
	pub := newPosePublisher(t, ps)

	res, err := Message[pose](context.Background(), "/test_pose", Config{
		Transport: ps,
		QoS:       Latched(1),
		Timeout:   200 * time.Millisecond,
	})
	require.NoError(t, err)
	require.True(t, res.OK(), "status %s", res.Status)
	assertPose(t, res.Message)
	assert.Equal(t, pub.ID(), res.Info.Publisher)
	assert.True(t, res.Info.Replayed)
}

func TestLatchedWaitReturnsNewestOfDeeperHistory(t *testing.T) {
	ps := network.NewMemoryPubSub()
	n, err := node.New(ps, node.Config{Name: "counter"})
	require.NoError(t, err)
	defer n.Close()
	pub, err := n.CreatePublisher("/count", Latched(5))
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, pub.Publish(i))
	}

	for i := 0; i < 200; i++ {
		res, err := Message[int](context.Background(), "/count", Config{
			Transport: ps,
			QoS:       Latched(1),
			Timeout:   time.Second,
		})
		require.NoError(t, err)
		require.True(t, res.OK(), "status %s", res.Status)
		require.Equal(t, 5, res.Message, "attempt %d", i)
		require.Equal(t, uint64(5), res.Info.Sequence)
	}
}

func TestWaitForPeriodicMessage(t *testing.T) {
	ps := network.NewMemoryPubSub()
	pub := newPosePublisher(t, ps)

	var gotMessage atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !gotMessage.Load() {
			_ = pub.Publish(testPose)
			time.Sleep(10 * time.Millisecond)
		}
	}()

	start := time.Now()
	res, err := Message[pose](context.Background(), "/test_pose", Config{
		Transport: ps,
		Timeout:   200 * time.Millisecond,
	})
	gotMessage.Store(true)
	<-done

	require.NoError(t, err)
	require.True(t, res.OK(), "status %s", res.Status)
	assertPose(t, res.Message)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestWaitForeverUntilPublished(t *testing.T) {
	ps := network.NewMemoryPubSub()
	pub := newPosePublisher(t, ps)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = pub.Publish(pose{Position: point{X: 7}})
	}()
	res, err := Message[pose](context.Background(), "/test_pose", DefaultConfig(ps))
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.InDelta(t, 7.0, res.Message.Position.X, 0)
}

func TestWaitOnCallerNode(t *testing.T) {
	ps := network.NewMemoryPubSub()
	newPosePublisher(t, ps)

	host, err := node.New(ps, node.Config{Name: "caller"})
	require.NoError(t, err)
	defer host.Close()

	res, err := Message[pose](context.Background(), "/test_pose", Config{
		Node:    host,
		QoS:     Latched(1),
		Timeout: time.Second,
	})
	require.NoError(t, err)
	require.True(t, res.OK())
	assertPose(t, res.Message)

	// The caller's node survives the wait and its temporary subscription is gone.
	_, err = host.CreateSubscription("/other", node.DefaultQoS(), nil)
	require.NoError(t, err)
	count, err := host.SpinOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestZeroTimeoutDoesNotBlock(t *testing.T) {
	ps := network.NewMemoryPubSub()
	res, err := Message[pose](context.Background(), "/test_pose", Config{Transport: ps})
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Status)
}

func TestCanceledContext(t *testing.T) {
	ps := network.NewMemoryPubSub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err := Message[pose](ctx, "/test_pose", DefaultConfig(ps))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Canceled, res.Status)
}

func TestMiddlewareErrorsPropagate(t *testing.T) {
	_, err := Message[pose](context.Background(), "/test_pose", Config{})
	assert.ErrorIs(t, err, node.ErrNoTransport)

	ps := network.NewMemoryPubSub()
	_, err = Message[pose](context.Background(), "", DefaultConfig(ps))
	assert.ErrorIs(t, err, network.ErrInvalidTopic)

	closed, err := node.New(ps, node.Config{})
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	_, err = Message[pose](context.Background(), "/test_pose", Config{Node: closed})
	assert.ErrorIs(t, err, node.ErrNodeClosed)
}

func TestClosingCallerNodeEndsWait(t *testing.T) {
	ps := network.NewMemoryPubSub()
	host, err := node.New(ps, node.Config{Name: "closing"})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = host.Close()
	}()
	start := time.Now()
	res, err := Message[pose](context.Background(), "/test_pose", Config{
		Node:    host,
		Timeout: 2 * time.Second,
	})
	assert.ErrorIs(t, err, node.ErrNodeClosed)
	assert.Equal(t, Closed, res.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDecodeFailure(t *testing.T) {
	ps := network.NewMemoryPubSub()
	n, err := node.New(ps, node.Config{Name: "strings"})
	require.NoError(t, err)
	defer n.Close()
	pub, err := n.CreatePublisher("/name", Latched(1))
	require.NoError(t, err)
	require.NoError(t, pub.Publish("not a pose"))

	res, err := Message[pose](context.Background(), "/name", Config{
		Transport: ps,
		QoS:       Latched(1),
		Timeout:   time.Second,
	})
	require.Error(t, err)
	assert.False(t, res.OK())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "missed", Missed.String())
	assert.Equal(t, "canceled", Canceled.String())
	assert.Equal(t, "closed", Closed.String())
}
