package probing

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("probing: id not found")
	ErrExist    = errors.New("probing: id already exists")
)

// Prober defines probing operation.
type Prober interface {
	AddHTTP(id string, interval time.Duration, endpoints []string) error

	Remove(id string) error
	RemoveAll()

	Reset(id string) error

	Status(id string) (Status, error)
}

// NewProber returns a Prober that probes a remote endpoint's health-check
// handler (see NewHTTPHealthHandler) at a fixed interval over the given
// transport. A nil transport falls back to http.DefaultTransport.
func NewProber(transport http.RoundTripper) Prober {
	p := &prober{
		probes: make(map[string]*probeNode),
		client: http.Client{Transport: transport},
	}
	if transport == nil {
		p.client.Transport = http.DefaultTransport
	}
	return p
}

type probeNode struct {
	status *status
	cancel func()
}

type prober struct {
	mu     sync.Mutex
	probes map[string]*probeNode
	client http.Client
}

func (p *prober) AddHTTP(id string, interval time.Duration, endpoints []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.probes[id]; ok {
		return ErrExist
	}

	ticker := time.NewTicker(interval)
	st := &status{stopc: make(chan struct{})}
	pn := &probeNode{status: st, cancel: ticker.Stop}
	p.probes[id] = pn

	go func() {
		pinned := 0
		for {
			select {
			case <-ticker.C:
				healthCheck(p.client, endpoints[pinned%len(endpoints)], st)
				pinned++
			case <-st.stopc:
				return
			}
		}
	}()

	return nil
}

func (p *prober) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pn, ok := p.probes[id]
	if !ok {
		return ErrNotFound
	}
	pn.cancel()
	close(pn.status.stopc)
	delete(p.probes, id)
	return nil
}

func (p *prober) RemoveAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, pn := range p.probes {
		pn.cancel()
		close(pn.status.stopc)
		delete(p.probes, id)
	}
}

func (p *prober) Reset(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pn, ok := p.probes[id]
	if !ok {
		return ErrNotFound
	}
	pn.status.reset()
	return nil
}

func (p *prober) Status(id string) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pn, ok := p.probes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return pn.status, nil
}

func healthCheck(c http.Client, endpoint string, st *status) {
	start := time.Now()
	resp, err := c.Get(endpoint)
	if err != nil {
		st.recordFailure(err)
		return
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		st.recordFailure(err)
		return
	}
	if !h.OK {
		st.recordFailure(errors.New("probing: unhealthy status from endpoint " + endpoint))
		return
	}

	st.record(time.Since(start), h.RequestedTime)
}
