package node

import (
	"encoding/json"
	"time"
)

type frameKind string

const (
	frameData     frameKind = "data"
	frameRequest  frameKind = "request"
	frameAnnounce frameKind = "announce"
	// frameReplay carries retained history for one subscription in a single
	// frame so it is queued all at once.
	frameReplay frameKind = "replay"
)

// frame is what publishers and subscriptions put on the transport. Data
// frames travel on the topic itself, history requests and publisher
// announcements on its control topic.
type frame struct {
	Kind       frameKind  `json:"kind"`
	Source     string     `json:"src"`
	Durability Durability `json:"dur"`
	Seq        uint64     `json:"seq,omitempty"`
	Target     string     `json:"to,omitempty"`
	Stamp      time.Time  `json:"ts"`
	Data       []byte     `json:"data,omitempty"`
	// Depth is the history a request asks for.
	Depth   int     `json:"depth,omitempty"`
	History []frame `json:"hist,omitempty"`
}

func encodeFrame(f frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(b []byte) (frame, error) {
	var f frame
	err := json.Unmarshal(b, &f)
	return f, err
}

func controlTopic(topic string) string {
	return topic + "#durability"
}
