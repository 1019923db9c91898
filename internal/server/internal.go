package server

import (
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/rbxbridge/relay/internal/gateway"
)

// handleInternal is the ingestion endpoint remote clients post events and
// heartbeats to. A rejected request (bad secret, malformed payload) has
// zero side effects on the store and registry.
func (s *Server) handleInternal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !s.requireSecret(w, r) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "failed to read body: %v", err)
		return
	}
	defer r.Body.Close()

	ev, err := s.gw.Decode(body)
	if err != nil {
		var verr *gateway.ValidationError
		if errors.As(err, &verr) {
			jsonError(w, http.StatusBadRequest, "%s", verr.Reason)
			return
		}
		jsonError(w, http.StatusBadRequest, "%v", err)
		return
	}

	atomic.AddInt64(&s.ingestCounter, 1)
	res := s.gw.Apply(ev)

	resp := map[string]interface{}{
		"ok":    true,
		"event": res.Event,
	}
	if res.Record != nil {
		resp["id"] = res.Record.ID
	}
	if res.Session != nil {
		resp["client_id"] = res.Session.ClientID
		resp["username"] = res.Session.Username
	}
	if res.Event == gateway.KindDisconnected {
		resp["was_connected"] = res.WasConnected
	}
	writeJSON(w, http.StatusOK, resp)
}
