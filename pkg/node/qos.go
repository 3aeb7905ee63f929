package node

import "fmt"

// Durability controls whether a late-joining subscription can receive
// messages published before it existed.
type Durability int

const (
	// Volatile subscriptions only see messages published after they were created.
	Volatile Durability = iota
	// TransientLocal publishers retain their last Depth messages and hand them
	// to transient-local subscriptions that join later ("latched").
	TransientLocal
)

func (d Durability) String() string {
	switch d {
	case Volatile:
		return "volatile"
	case TransientLocal:
		return "transient_local"
	default:
		return fmt.Sprintf("durability(%d)", int(d))
	}
}

// ParseDurability accepts the names produced by Durability.String plus "latched".
func ParseDurability(s string) (Durability, error) {
	switch s {
	case "", "volatile":
		return Volatile, nil
	case "transient_local", "transient-local", "latched":
		return TransientLocal, nil
	default:
		return Volatile, fmt.Errorf("unknown durability %q", s)
	}
}

// QoS is the delivery configuration of a publisher or subscription.
// A zero QoS means keep last 1, volatile.
type QoS struct {
	// Depth is the history kept per entity. Values below 1 are treated as 1.
	Depth      int
	Durability Durability
}

// KeepLast returns a volatile QoS with the given history depth.
func KeepLast(depth int) QoS {
	return QoS{Depth: depth}.normalized()
}

// DefaultQoS is keep last 1, volatile.
func DefaultQoS() QoS {
	return KeepLast(1)
}

// Latched returns a transient-local QoS. Both ends must use it: a latched
// subscription never receives from a volatile publisher.
// For a single wait any depth greater than 1 has no effect.
func Latched(depth int) QoS {
	return QoS{Depth: depth, Durability: TransientLocal}.normalized()
}

// TransientLocal returns a copy of q with transient-local durability.
func (q QoS) TransientLocal() QoS {
	q.Durability = TransientLocal
	return q.normalized()
}

func (q QoS) String() string {
	q = q.normalized()
	return fmt.Sprintf("keep_last(%d)/%s", q.Depth, q.Durability)
}

func (q QoS) normalized() QoS {
	if q.Depth < 1 {
		q.Depth = 1
	}
	return q
}

// Compatible reports whether a subscription with QoS sub can receive from a
// publisher with QoS pub. Incompatible pairs silently never exchange messages.
func Compatible(pub, sub QoS) bool {
	return !(sub.Durability == TransientLocal && pub.Durability == Volatile)
}
