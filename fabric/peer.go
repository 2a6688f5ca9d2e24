package fabric

import (
	"net/http"
	"time"

	"github.com/absolute8511/aerospike-server/pkg/probing"
	"github.com/absolute8511/aerospike-server/pkg/types"
)

// proberInterval is how often a peer's health endpoint is polled.
const proberInterval = 2 * time.Second

// Priority selects which of a peer's three lanes carries a message. Low
// carries the bulk INSERT stream of an emigration, Medium carries the
// START/DONE handshake either side of it, and High carries replicated
// writes, which must not queue behind a migration in progress.
type Priority int

const (
	Low Priority = iota
	Medium
	High
)

const numPriorities = 3

// peer is everything this node knows about one remote node: its URLs, a
// lane per priority, and its liveness as tracked by the prober.
type peer struct {
	id     types.ID
	picker *urlPicker
	lanes  [numPriorities]*lane
}

func startPeer(id types.ID, urls types.URLs, client *http.Client, from types.ID, prober probing.Prober, healthPaths []string) *peer {
	picker := newURLPicker(urls)
	p := &peer{id: id, picker: picker}
	for pr := Priority(0); pr < numPriorities; pr++ {
		p.lanes[pr] = startLane(id, pr, picker, client, from)
	}
	if prober != nil {
		prober.AddHTTP(id.String(), proberInterval, healthPaths)
	}
	return p
}

func (p *peer) update(urls types.URLs) {
	p.picker.update(urls)
}

func (p *peer) send(msg *Message, priority Priority) error {
	return p.lanes[priority].enqueue(msg)
}

func (p *peer) stop() {
	for _, l := range p.lanes {
		l.stop()
	}
}

// healthy reports a peer's liveness from the prober. A peer with no probe
// history yet (Total() == 0) is treated as healthy, since unknown is not
// the same as down and gating sends on the first probe tick would stall
// traffic to a peer added moments ago.
func healthy(prober probing.Prober, id types.ID) bool {
	if prober == nil {
		return true
	}
	st, err := prober.Status(id.String())
	if err != nil {
		return true
	}
	if st.Total() == 0 {
		return true
	}
	return st.Health()
}
