package topicapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"hector-utils/internal/config"
	"hector-utils/pkg/ident"
	"hector-utils/pkg/network"
	"hector-utils/pkg/node"
	"hector-utils/pkg/waitfor"
)

const maxIDsPerRequest = 1000

// Peers is implemented by transports that can report connected peers.
type Peers interface {
	PeerID() string
	ConnectedPeers() []string
}

// Options configures the HTTP bridge.
type Options struct {
	// Wait holds the defaults for wait and stream requests that omit the
	// timeout, latched or depth parameters. It is used as given: a zero
	// Timeout only checks for already queued messages.
	Wait   config.WaitConfig
	IDs    *ident.Generator
	Logger *zap.Logger
}

// Server exposes publish, wait and stream operations over HTTP.
type Server struct {
	transport network.PubSub
	node      *node.Node
	ids       *ident.Generator
	log       *zap.Logger
	wait      config.WaitConfig

	mu   sync.Mutex
	pubs map[string]*node.Publisher
}

func NewServer(transport network.PubSub, n *node.Node, opts Options) *Server {
	if opts.IDs == nil {
		opts.IDs = ident.NewGenerator()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		transport: transport,
		node:      n,
		ids:       opts.IDs,
		log:       opts.Logger.Named("topicapi"),
		wait:      opts.Wait,
		pubs:      make(map[string]*node.Publisher),
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/publish", s.handlePublish)
	mux.HandleFunc("/api/wait", s.handleWait)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/ids", s.handleIDs)
	mux.HandleFunc("/api/status", s.handleStatus)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	topic := r.URL.Query().Get("topic")
	var req struct {
		Data    json.RawMessage `json:"data"`
		Latched bool            `json:"latched"`
		Depth   int             `json:"depth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data required")
		return
	}
	qos := node.KeepLast(req.Depth)
	if req.Latched {
		qos = qos.TransientLocal()
	}
	pub, err := s.publisher(topic, qos)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := pub.PublishRaw(req.Data); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "publisher": pub.ID(), "qos": qos.String()})
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	qos, err := s.qosFromQuery(q.Get("latched"), q.Get("depth"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	timeout := s.wait.Timeout
	if raw := q.Get("timeout"); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
	}

	res, err := waitfor.Message[json.RawMessage](r.Context(), q.Get("topic"), waitfor.Config{
		Transport: s.transport,
		QoS:       qos,
		Timeout:   timeout,
		IDs:       s.ids,
		Logger:    s.log,
	})
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case !res.OK():
		writeJSON(w, http.StatusOK, map[string]any{"status": res.Status.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      res.Status.String(),
		"message":     res.Message,
		"publisher":   res.Info.Publisher,
		"sequence":    res.Info.Sequence,
		"source_time": res.Info.SourceTime,
		"replayed":    res.Info.Replayed,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	q := r.URL.Query()
	qos, err := s.qosFromQuery(q.Get("latched"), q.Get("depth"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := s.node.CreateSubscription(q.Get("topic"), qos, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer sub.Close()
	ws := node.NewWaitSet(sub)
	defer ws.Close()

	h := w.Header()
	allowCORS(h)
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		res, err := ws.Wait(r.Context(), waitfor.Forever)
		if err != nil || res.Kind != node.WaitReady {
			return
		}
		for {
			msg, ok := sub.Take()
			if !ok {
				break
			}
			if _, err := fmt.Fprintf(w, "event: message\nid: %d\ndata: %s\n\n", msg.Info.Sequence, msg.Data); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func (s *Server) handleIDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	count := 1
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxIDsPerRequest {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxIDsPerRequest))
			return
		}
		count = n
	}
	separators := q.Get("separators") != "false"
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ids = append(ids, s.ids.Generate(separators))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := map[string]any{"node": s.node.Name(), "node_id": s.node.ID()}
	if p, ok := s.transport.(Peers); ok {
		out["peer_id"] = p.PeerID()
		out["peers"] = p.ConnectedPeers()
	}
	s.mu.Lock()
	topics := make([]string, 0, len(s.pubs))
	for key := range s.pubs {
		topics = append(topics, key)
	}
	s.mu.Unlock()
	out["publishers"] = topics
	writeJSON(w, http.StatusOK, out)
}

// publisher returns a cached publisher so latched history survives between requests.
func (s *Server) publisher(topic string, qos node.QoS) (*node.Publisher, error) {
	key := topic + " " + qos.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pubs[key]; ok {
		return p, nil
	}
	p, err := s.node.CreatePublisher(topic, qos)
	if err != nil {
		return nil, err
	}
	s.pubs[key] = p
	return p, nil
}

// qosFromQuery applies the request's parameters over the configured wait defaults.
func (s *Server) qosFromQuery(latched, depth string) (node.QoS, error) {
	qos := node.KeepLast(s.wait.Depth)
	if s.wait.Latched {
		qos = qos.TransientLocal()
	}
	if depth != "" {
		d, err := strconv.Atoi(depth)
		if err != nil || d < 1 {
			return qos, errors.New("depth must be a positive integer")
		}
		qos.Depth = d
	}
	if latched != "" {
		on, err := strconv.ParseBool(latched)
		if err != nil {
			return qos, errors.New("latched must be a boolean")
		}
		qos.Durability = node.Volatile
		if on {
			qos = qos.TransientLocal()
		}
	}
	return qos, nil
}

// allowCORS lets browser pages on other origins call the bridge.
func allowCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	allowCORS(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	allowCORS(w.Header())
	w.WriteHeader(http.StatusNoContent)
}
