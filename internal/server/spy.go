package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Remote-spy bookkeeping. The spy payload itself is delivered through the
// script exchange like any other script; these endpoints only track which
// clients run it and which remote paths are subscribed for full logging.

// genericSpyKey tracks subscriptions made without a target client.
const genericSpyKey = "generic"

type spyRequest struct {
	ClientIDs []string `json:"client_ids"`
}

type spySubscribeRequest struct {
	Path      string   `json:"path"`
	ClientIDs []string `json:"client_ids"`
}

func (s *Server) handleSpyAttach(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !s.requireSecret(w, r) {
		return
	}
	var req spyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	ids := req.ClientIDs
	if len(ids) == 0 {
		ids = []string{genericSpyKey}
	}

	s.spyMu.Lock()
	for _, id := range ids {
		s.spyClients[id] = struct{}{}
	}
	s.spyMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "Remote spy tracking enabled. Deliver the spy script via POST /execute.",
		"clients": ids,
	})
}

func (s *Server) handleSpyDetach(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !s.requireSecret(w, r) {
		return
	}

	s.spyMu.Lock()
	s.spyClients = make(map[string]struct{})
	s.spySubs = make(map[string]map[string]struct{})
	s.spyMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "Spy state cleared.",
	})
}

func (s *Server) handleSpySubscribe(w http.ResponseWriter, r *http.Request) {
	s.handleSpySubscription(w, r, true)
}

func (s *Server) handleSpyUnsubscribe(w http.ResponseWriter, r *http.Request) {
	s.handleSpySubscription(w, r, false)
}

func (s *Server) handleSpySubscription(w http.ResponseWriter, r *http.Request, subscribe bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !s.requireSecret(w, r) {
		return
	}
	var req spySubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		jsonError(w, http.StatusBadRequest, "path must not be empty")
		return
	}
	keys := req.ClientIDs
	if len(keys) == 0 {
		keys = []string{genericSpyKey}
	}

	s.spyMu.Lock()
	for _, key := range keys {
		if subscribe {
			if s.spySubs[key] == nil {
				s.spySubs[key] = make(map[string]struct{})
			}
			s.spySubs[key][path] = struct{}{}
		} else if subs, ok := s.spySubs[key]; ok {
			delete(subs, path)
		}
	}
	s.spyMu.Unlock()

	verb := "Subscribed to"
	if !subscribe {
		verb = "Unsubscribed from"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": verb + " '" + path + "'",
		"path":    path,
	})
}

func (s *Server) handleSpyStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}

	s.spyMu.RLock()
	clients := make([]string, 0, len(s.spyClients))
	for id := range s.spyClients {
		clients = append(clients, id)
	}
	subs := make(map[string][]string, len(s.spySubs))
	for key, paths := range s.spySubs {
		list := make([]string, 0, len(paths))
		for p := range paths {
			list = append(list, p)
		}
		sort.Strings(list)
		subs[key] = list
	}
	s.spyMu.RUnlock()
	sort.Strings(clients)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":            true,
		"active":        len(clients) > 0,
		"clients":       clients,
		"subscriptions": subs,
	})
}
