package network

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const defaultRendezvous = "hector-utils"

// Libp2pOptions configures the libp2p transport.
type Libp2pOptions struct {
	ListenAddrs     []string
	Bootstrap       []string
	Rendezvous      string
	EnableMDNS      bool
	IdentityKeyFile string
	BufferSize      int
	Logger          *zap.Logger
}

// Libp2pPubSub provides gossip-based pubsub over libp2p.
type Libp2pPubSub struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	host    host.Host
	ps      *pubsub.PubSub
	bufSize int

	mu     sync.Mutex
	closed bool
	topics map[string]*pubsub.Topic
}

func NewLibp2pPubSub(parent context.Context, opts Libp2pOptions) (*Libp2pPubSub, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Rendezvous == "" {
		opts.Rendezvous = defaultRendezvous
	}
	logger := opts.Logger.Named("libp2p")

	listenAddrs, err := parseMultiaddrs(opts.ListenAddrs)
	if err != nil {
		return nil, err
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, a)
	}

	libp2pOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.IdentityKeyFile != "" {
		key, err := loadOrCreateIdentityKey(opts.IdentityKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load identity key: %w", err)
		}
		libp2pOpts = append(libp2pOpts, libp2p.Identity(key))
	}

	ctx, cancel := context.WithCancel(parent)
	h, err := libp2p.New(libp2pOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	p := &Libp2pPubSub{
		ctx:     ctx,
		cancel:  cancel,
		log:     logger,
		host:    h,
		ps:      ps,
		bufSize: opts.BufferSize,
		topics:  make(map[string]*pubsub.Topic),
	}

	if opts.EnableMDNS {
		service := mdns.NewMdnsService(h, opts.Rendezvous, &mdnsNotifee{host: h, log: logger})
		if err := service.Start(); err != nil {
			logger.Warn("mdns start failed", zap.Error(err))
		}
	}

	p.connectBootstrap(opts.Bootstrap)
	logger.Info("libp2p transport started",
		zap.String("peer_id", h.ID().String()),
		zap.Strings("addrs", p.ListenAddrs()))
	return p, nil
}

func (p *Libp2pPubSub) connectBootstrap(addrs []string) {
	for _, raw := range addrs {
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			p.log.Warn("skip bootstrap addr", zap.String("addr", raw), zap.Error(err))
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			p.log.Warn("skip bootstrap addr", zap.String("addr", raw), zap.Error(err))
			continue
		}
		if err := p.host.Connect(p.ctx, *info); err != nil {
			p.log.Warn("bootstrap connect failed", zap.Stringer("peer", info.ID), zap.Error(err))
		} else {
			p.log.Info("connected bootstrap peer", zap.Stringer("peer", info.ID))
		}
	}
}

func (p *Libp2pPubSub) Publish(topic string, payload []byte) error {
	t, err := p.getOrJoinTopic(topic)
	if err != nil {
		return err
	}
	return t.Publish(p.ctx, payload)
}

func (p *Libp2pPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	t, err := p.getOrJoinTopic(topic)
	if err != nil {
		return nil, nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %q: %w", topic, err)
	}

	out := make(chan Message, p.bufSize)
	subCtx, subCancel := context.WithCancel(p.ctx)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(subCtx)
			if err != nil {
				return
			}
			select {
			case out <- Message{Topic: topic, Payload: append([]byte(nil), msg.Data...)}:
			default:
				p.log.Debug("dropped message for slow subscriber", zap.String("topic", topic))
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			subCancel()
			sub.Cancel()
		})
	}
	return out, cancel, nil
}

func (p *Libp2pPubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	for _, t := range p.topics {
		_ = t.Close()
	}
	return p.host.Close()
}

func (p *Libp2pPubSub) PeerID() string {
	return p.host.ID().String()
}

func (p *Libp2pPubSub) ListenAddrs() []string {
	out := make([]string, 0, len(p.host.Addrs()))
	for _, addr := range p.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), p.host.ID().String()))
	}
	return out
}

func (p *Libp2pPubSub) ConnectedPeers() []string {
	peers := p.host.Network().Peers()
	out := make([]string, 0, len(peers))
	for _, pid := range peers {
		out = append(out, pid.String())
	}
	return out
}

func (p *Libp2pPubSub) getOrJoinTopic(name string) (*pubsub.Topic, error) {
	if err := ValidateTopic(name); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if t, ok := p.topics[name]; ok {
		return t, nil
	}
	t, err := p.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join topic %q: %w", name, err)
	}
	p.topics[name] = t
	return t, nil
}

func parseMultiaddrs(raw []string) ([]ma.Multiaddr, error) {
	out := make([]ma.Multiaddr, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}

type mdnsNotifee struct {
	host host.Host
	log  *zap.Logger
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(context.Background(), info); err != nil {
		n.log.Debug("mdns connect failed", zap.Stringer("peer", info.ID), zap.Error(err))
	}
}

func loadOrCreateIdentityKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}
