package fabric

import (
	"io/ioutil"
	"net/http"

	dbioutil "github.com/absolute8511/aerospike-server/pkg/ioutil"
	"github.com/absolute8511/aerospike-server/pkg/probing"
	"github.com/absolute8511/aerospike-server/pkg/types"
)

const maxMessageBytes = 64 * 1024 * 1024

// HTTPHandler returns the http.Handler this transport serves its inbound
// traffic through: one path per message kind, plus the health endpoint
// peers probe for liveness.
func (t *Transport) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathMigrate, &messageHandler{transport: t, kind: KindMigrate})
	mux.Handle(PathRW, &messageHandler{transport: t, kind: KindRW})
	mux.Handle(pathHealth, probing.NewHTTPHealthHandler())
	return mux
}

type messageHandler struct {
	transport *Transport
	kind      Kind
}

func (h *messageHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		rw.Header().Set("Allow", "POST")
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	from, _ := types.IDFromString(req.Header.Get(headerFromID))

	limited := dbioutil.NewLimitedBufferReader(req.Body, maxMessageBytes)
	body, err := ioutil.ReadAll(limited)
	if err != nil {
		http.Error(rw, "failed to read message body", http.StatusBadRequest)
		return
	}

	msg, err := Unmarshal(body)
	if err != nil {
		http.Error(rw, "malformed message", http.StatusBadRequest)
		return
	}

	h.transport.mu.RLock()
	handler, ok := h.transport.handlers[h.kind]
	h.transport.mu.RUnlock()

	if !ok {
		rw.WriteHeader(http.StatusNoContent)
		return
	}

	if err := handler.HandleMessage(from, msg); err != nil {
		logger.Warningf("handler for %v failed: %v", h.kind, err)
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}
