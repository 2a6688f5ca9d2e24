package fabric

import (
	"net/url"
	"sync"

	"github.com/absolute8511/aerospike-server/pkg/types"
)

// urlPicker picks a URL for a peer with a pinned index, rotating away from
// one that was just reported unreachable.
type urlPicker struct {
	mu        sync.Mutex
	urls      types.URLs
	pickedIdx int
}

func newURLPicker(urls types.URLs) *urlPicker {
	return &urlPicker{urls: urls}
}

func (p *urlPicker) update(urls types.URLs) {
	p.mu.Lock()
	p.urls = urls
	p.pickedIdx = 0
	p.mu.Unlock()
}

func (p *urlPicker) pick() url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.urls[p.pickedIdx]
}

func (p *urlPicker) unreachable(u url.URL) {
	p.mu.Lock()
	if u == p.urls[p.pickedIdx] {
		p.pickedIdx = (p.pickedIdx + 1) % len(p.urls)
	}
	p.mu.Unlock()
}
