// Package fabric is a reliable, typed, prioritized node-to-node message
// transport: the reference implementation of the collaborator that the
// migration and replicated-write paths are built against. Delivery is
// HTTP/1.1 POST to a per-message-kind path, built on rafthttp's
// pipeline/pipelineHandler split, generalized from one priority to three
// so a bulk migration never starves a replicated write.
package fabric

import (
	"net/http"
	"sync"
	"time"

	"github.com/absolute8511/aerospike-server/errutil"
	"github.com/absolute8511/aerospike-server/pkg/netutil"
	"github.com/absolute8511/aerospike-server/pkg/probing"
	"github.com/absolute8511/aerospike-server/pkg/tlsutil"
	"github.com/absolute8511/aerospike-server/pkg/types"
	"github.com/absolute8511/aerospike-server/pkg/xlog"
)

var logger = xlog.NewLogger("fabric", xlog.INFO)

const (
	PathMigrate = "/fabric/migrate"
	PathRW      = "/fabric/rw"
	pathHealth  = "/fabric/health"

	headerFromID = "X-Fabric-From"
)

func pathForKind(k Kind) string {
	if k == KindRW {
		return PathRW
	}
	return PathMigrate
}

// Handler processes one inbound message from a peer. Handlers never
// return a response message: any ack is a new, independently-addressed
// Send back to the originator, the same way rafthttp's receivers only ever
// emit a 204 and let the raft layer decide whether to reply.
type Handler interface {
	HandleMessage(from types.ID, msg *Message) error
}

// Transport owns one peer per remote node ID and dispatches inbound HTTP
// POSTs to the handler registered for a message's Kind.
type Transport struct {
	ID   types.ID
	TLS  tlsutil.TLSInfo
	Dial time.Duration

	mu     sync.RWMutex
	peers  map[types.ID]*peer
	client *http.Client
	prober probing.Prober

	handlers map[Kind]Handler
}

// NewTransport constructs a Transport. Call Start before adding peers.
func NewTransport(id types.ID) *Transport {
	return &Transport{
		ID:       id,
		peers:    make(map[types.ID]*peer),
		prober:   probing.NewProber(nil),
		handlers: make(map[Kind]Handler),
	}
}

// Start resolves the HTTP client, applying TLS if configured.
func (t *Transport) Start() error {
	tr, err := netutil.NewTransport(t.TLS, t.Dial)
	if err != nil {
		return err
	}
	t.client = &http.Client{Transport: tr}
	return nil
}

// RegisterHandler registers the handler invoked for every inbound message
// of the given kind. Migrate registers for KindMigrate, replwrite for
// KindRW.
func (t *Transport) RegisterHandler(kind Kind, h Handler) {
	t.mu.Lock()
	t.handlers[kind] = h
	t.mu.Unlock()
}

// AddPeer registers a remote node's URLs and starts its lanes.
func (t *Transport) AddPeer(id types.ID, urls types.URLs) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.peers[id]; ok {
		return
	}
	healthURLs := make([]string, len(urls))
	for i, u := range urls {
		uu := u
		uu.Path = pathHealth
		healthURLs[i] = uu.String()
	}
	t.peers[id] = startPeer(id, urls, t.client, t.ID, t.prober, healthURLs)
}

// UpdatePeer replaces a peer's known URLs.
func (t *Transport) UpdatePeer(id types.ID, urls types.URLs) {
	t.mu.RLock()
	p, ok := t.peers[id]
	t.mu.RUnlock()
	if !ok {
		return
	}
	p.update(urls)
}

// RemovePeer stops and forgets a peer.
func (t *Transport) RemovePeer(id types.ID) {
	t.mu.Lock()
	p, ok := t.peers[id]
	delete(t.peers, id)
	t.mu.Unlock()

	if ok {
		p.stop()
		t.prober.Remove(id.String())
	}
}

// Send hands msg to the named peer's lane for the given priority. On
// success the transport owns msg; on failure (no such peer, or the lane is
// backpressured) the caller keeps ownership and may retry.
func (t *Transport) Send(id types.ID, priority Priority, msg *Message) error {
	t.mu.RLock()
	p, ok := t.peers[id]
	prober := t.prober
	t.mu.RUnlock()

	if !ok {
		return errutil.ErrNoNode
	}
	if !healthy(prober, id) {
		return errutil.ErrNoNode
	}
	return p.send(msg, priority)
}

// Healthy reports whether the transport's prober currently considers id
// reachable. replwrite uses this to prune a destination from a pending
// request rather than waiting for it to time out.
func (t *Transport) Healthy(id types.ID) bool {
	t.mu.RLock()
	prober := t.prober
	t.mu.RUnlock()
	return healthy(prober, id)
}

// Stop tears down every peer's lanes.
func (t *Transport) Stop() {
	t.mu.Lock()
	peers := t.peers
	t.peers = make(map[types.ID]*peer)
	t.mu.Unlock()

	for _, p := range peers {
		p.stop()
	}
	t.prober.RemoveAll()
}
