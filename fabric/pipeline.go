package fabric

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"sync"

	"github.com/absolute8511/aerospike-server/errutil"
	"github.com/absolute8511/aerospike-server/pkg/types"
)

// lane is the per-priority queue and worker pool for one peer. Three lanes
// run per peer so a bulk migration on the low lane never queues behind a
// high-priority replicated write, and so START/DONE handshakes on the
// medium lane aren't starved by either.
type lane struct {
	peerID   types.ID
	priority Priority

	picker *urlPicker
	client *http.Client
	from   types.ID

	msgc  chan *Message
	stopc chan struct{}
	wg    sync.WaitGroup
}

const connsPerLane = 2
const laneBufferN = 4096

func startLane(peerID types.ID, priority Priority, picker *urlPicker, client *http.Client, from types.ID) *lane {
	l := &lane{
		peerID:   peerID,
		priority: priority,
		picker:   picker,
		client:   client,
		from:     from,
		msgc:     make(chan *Message, laneBufferN),
		stopc:    make(chan struct{}),
	}
	l.wg.Add(connsPerLane)
	for i := 0; i < connsPerLane; i++ {
		go l.handle()
	}
	return l
}

func (l *lane) stop() {
	close(l.stopc)
	l.wg.Wait()
}

// enqueue hands msg to the lane's worker pool, returning ErrQueueFull
// without touching msg if the lane is backpressured. The caller keeps
// ownership on failure.
func (l *lane) enqueue(msg *Message) error {
	select {
	case l.msgc <- msg:
		return nil
	default:
		return errutil.ErrQueueFull
	}
}

func (l *lane) handle() {
	defer l.wg.Done()

	for {
		select {
		case msg := <-l.msgc:
			l.post(msg)
		case <-l.stopc:
			return
		}
	}
}

func (l *lane) post(msg *Message) {
	targetURL := l.picker.pick()
	uu := targetURL
	uu.Path = pathForKind(msg.Kind)

	req, err := http.NewRequest("POST", uu.String(), bytes.NewReader(msg.Marshal()))
	if err != nil {
		logger.Errorf("failed to build request to %s: %v", l.peerID, err)
		return
	}
	req.Header.Set(headerFromID, l.from.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := l.client.Do(req)
	if err != nil {
		l.picker.unreachable(targetURL)
		logger.Warningf("failed to post to peer %s at %s: %v", l.peerID, uu.String(), err)
		return
	}
	defer resp.Body.Close()
	ioutil.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		l.picker.unreachable(targetURL)
		logger.Warningf("peer %s rejected message on %s with status %s", l.peerID, uu.Path, resp.Status)
	}
}
