package network

import (
	"errors"
	"fmt"
	"io"
	"unicode"
)

const maxTopicLen = 255

var (
	ErrClosed       = errors.New("transport closed")
	ErrInvalidTopic = errors.New("invalid topic name")
)

// Message is the transport envelope delivered to subscribers.
type Message struct {
	Topic   string
	Payload []byte
}

// PubSub is a minimal interface for broadcast-style communication.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
}

// Transport is a PubSub that owns resources and must be closed.
type Transport interface {
	PubSub
	io.Closer
}

// ValidateTopic reports whether topic can be used as a channel name on any transport.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLen {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidTopic, topic, maxTopicLen)
	}
	for _, r := range topic {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidTopic, topic)
		}
	}
	return nil
}
