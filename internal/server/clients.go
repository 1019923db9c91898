package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rbxbridge/relay/internal/model"
	"github.com/rbxbridge/relay/internal/registry"
	"github.com/rbxbridge/relay/internal/store"
)

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"clients": s.gw.ListClients(),
	})
}

type attachLoggerRequest struct {
	ClientIDs []string `json:"client_ids"`
}

// handleAttachLogger marks the logger attached on the requested sessions.
// Idempotent: re-attaching reports already_attached and stays a success.
// Unknown ids fail the whole call with the offenders listed.
func (s *Server) handleAttachLogger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !s.requireSecret(w, r) {
		return
	}

	var req attachLoggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	if len(req.ClientIDs) == 0 {
		jsonError(w, http.StatusBadRequest, "client_ids array must not be empty")
		return
	}

	var notFoundIDs, attached, alreadyAttached []string
	for _, id := range req.ClientIDs {
		sess, ok := s.reg.Get(id)
		if !ok {
			notFoundIDs = append(notFoundIDs, id)
			continue
		}
		if sess.LoggerAttached {
			alreadyAttached = append(alreadyAttached, id)
			continue
		}
		attached = append(attached, id)
	}
	if len(notFoundIDs) > 0 {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"ok":        false,
			"error":     "Some client ids were not found",
			"not_found": notFoundIDs,
			"status":    http.StatusNotFound,
		})
		return
	}

	for _, id := range attached {
		if _, err := s.reg.MarkLoggerAttached(id); err != nil {
			// Session vanished between Get and attach (disconnect race).
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"ok":        false,
				"error":     "Some client ids were not found",
				"not_found": []string{id},
				"status":    http.StatusNotFound,
			})
			return
		}
	}

	resp := map[string]interface{}{
		"ok":              true,
		"logger_attached": true,
		"attached":        attached,
	}
	if len(alreadyAttached) > 0 {
		resp["already_attached"] = alreadyAttached
	}
	writeJSON(w, http.StatusOK, resp)
}

type executeRequest struct {
	Script    string   `json:"script"`
	ClientIDs []string `json:"client_ids"`
}

// handleExecute drops a (signed) script into the exchange directory for the
// loader to pick up, and records a script-level log entry.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !s.requireSecret(w, r) {
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	if strings.TrimSpace(req.Script) == "" {
		jsonError(w, http.StatusBadRequest, "script must not be empty")
		return
	}

	// Targeted execution only makes sense against live sessions.
	if len(req.ClientIDs) > 0 {
		if err := s.reg.Require(req.ClientIDs); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"ok":        false,
				"error":     "Some client ids were not found",
				"not_found": missingIDs(err),
				"status":    http.StatusNotFound,
			})
			return
		}
	}

	fileID, err := s.exch.WritePending(req.Script)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to write script file: %v", err)
		return
	}

	s.gw.AppendServerEntry(store.AppendRequest{
		Level:   model.LevelScript,
		Message: req.Script,
		Source:  "execute_lua",
		Tags:    []string{"script", "executed"},
	})

	resp := map[string]interface{}{
		"ok":      true,
		"file_id": fileID,
		"message": "Script written to exchange directory. Loader will pick it up.",
	}
	if len(req.ClientIDs) > 0 {
		loggerStatus := make([]map[string]interface{}, 0, len(req.ClientIDs))
		var withoutLogger []string
		for _, id := range req.ClientIDs {
			sess, _ := s.reg.Get(id)
			loggerStatus = append(loggerStatus, map[string]interface{}{
				"client_id":       id,
				"logger_attached": sess.LoggerAttached,
			})
			if !sess.LoggerAttached {
				withoutLogger = append(withoutLogger, id)
			}
		}
		resp["logger_status"] = loggerStatus
		if len(withoutLogger) > 0 {
			resp["warning"] = "Logger is not attached on: " + strings.Join(withoutLogger, ", ") +
				". Script output will not be captured. Use POST /attach-logger first."
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type verifyScriptRequest struct {
	Script    string `json:"script"`
	Signature string `json:"signature"`
}

// handleVerifyScript lets the loader check a script signature before
// running it. With no secret configured signing is disabled and everything
// is valid.
func (s *Server) handleVerifyScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req verifyScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"valid": s.exch.Verify(req.Script, req.Signature),
	})
}

// missingIDs unwraps the ids carried by a registry.NotFoundError.
func missingIDs(err error) []string {
	var nf *registry.NotFoundError
	if errors.As(err, &nf) {
		return nf.ClientIDs
	}
	return nil
}
