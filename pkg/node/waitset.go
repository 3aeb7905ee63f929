package node

import (
	"context"
	"sync"
	"time"
)

type WaitResultKind int

const (
	WaitReady WaitResultKind = iota
	WaitTimeout
	// WaitEmpty means the set holds no open subscriptions.
	WaitEmpty
	WaitCanceled
)

func (k WaitResultKind) String() string {
	switch k {
	case WaitReady:
		return "ready"
	case WaitTimeout:
		return "timeout"
	case WaitEmpty:
		return "empty"
	case WaitCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type WaitResult struct {
	Kind WaitResultKind
	// Ready lists subscriptions that had queued messages when the wait returned.
	Ready []*Subscription
}

// WaitSet blocks until one of its subscriptions has a message queued.
// Readiness is a snapshot: another goroutine may Take the message first.
type WaitSet struct {
	mu   sync.Mutex
	subs []*Subscription
	wake chan struct{}
}

// NewWaitSet returns a wait set watching subs.
func NewWaitSet(subs ...*Subscription) *WaitSet {
	w := &WaitSet{wake: make(chan struct{}, 1)}
	for _, s := range subs {
		w.Add(s)
	}
	return w
}

// Add starts watching s. A closed subscription never makes the set ready.
func (w *WaitSet) Add(s *Subscription) {
	w.mu.Lock()
	w.subs = append(w.subs, s)
	w.mu.Unlock()
	s.attach(w.wake)
}

// Close detaches the wait set from its subscriptions. The subscriptions stay open.
func (w *WaitSet) Close() {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()
	for _, s := range subs {
		s.detach(w.wake)
	}
}

// Wait blocks for at most timeout. A negative timeout waits until a message
// arrives or ctx is done; zero checks once without blocking.
func (w *WaitSet) Wait(ctx context.Context, timeout time.Duration) (WaitResult, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		ready, open := w.poll()
		if len(ready) > 0 {
			return WaitResult{Kind: WaitReady, Ready: ready}, nil
		}
		if open == 0 {
			return WaitResult{Kind: WaitEmpty}, nil
		}
		if timeout == 0 {
			return WaitResult{Kind: WaitTimeout}, nil
		}
		select {
		case <-w.wake:
		case <-expired:
			return WaitResult{Kind: WaitTimeout}, nil
		case <-ctx.Done():
			return WaitResult{Kind: WaitCanceled}, ctx.Err()
		}
	}
}

func (w *WaitSet) poll() (ready []*Subscription, open int) {
	w.mu.Lock()
	subs := append([]*Subscription(nil), w.subs...)
	w.mu.Unlock()
	for _, s := range subs {
		pending, isOpen := s.state()
		if !isOpen {
			continue
		}
		open++
		if pending > 0 {
			ready = append(ready, s)
		}
	}
	return ready, open
}
