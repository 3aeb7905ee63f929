package node

import (
	"context"
	"errors"
	"time"
)

const spinPeriod = 100 * time.Millisecond

// SpinOnce waits up to timeout for messages on subscriptions that have a
// callback and dispatches at most one message per ready subscription. It
// returns the number of callbacks run.
func (n *Node) SpinOnce(ctx context.Context, timeout time.Duration) (int, error) {
	subs, err := n.callbackSubscriptions()
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, idle(ctx, timeout)
	}

	ws := NewWaitSet(subs...)
	defer ws.Close()
	res, err := ws.Wait(ctx, timeout)
	if err != nil || res.Kind != WaitReady {
		return 0, err
	}
	dispatched := 0
	for _, s := range res.Ready {
		if m, ok := s.Take(); ok {
			s.callback(m)
			dispatched++
		}
	}
	return dispatched, nil
}

// Spin dispatches callbacks until ctx is done or the node is closed.
// Subscriptions created while spinning are picked up within spinPeriod.
func (n *Node) Spin(ctx context.Context) error {
	for {
		_, err := n.SpinOnce(ctx, spinPeriod)
		switch {
		case err == nil:
		case errors.Is(err, ErrNodeClosed), ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

func idle(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		return nil
	}
	if timeout < 0 {
		timeout = spinPeriod
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
