package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/rbxbridge/relay/internal/scanner"
)

type scanChunkRequest struct {
	PlaceID   uint64          `json:"place_id"`
	ChunkType string          `json:"chunk_type"`
	Data      json.RawMessage `json:"data"`
}

func (s *Server) handleScanData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !s.requireSecret(w, r) {
		return
	}
	var req scanChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	if req.PlaceID == 0 {
		jsonError(w, http.StatusBadRequest, "Missing required field: place_id")
		return
	}
	if !scanner.ValidScope(req.ChunkType) {
		jsonError(w, http.StatusBadRequest, "Unknown chunk type: %s", req.ChunkType)
		return
	}
	if err := s.scans.SaveChunk(req.PlaceID, req.ChunkType, req.Data); err != nil {
		jsonError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"chunk_type": req.ChunkType,
		"place_id":   req.PlaceID,
	})
}

func (s *Server) handleScanComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !s.requireSecret(w, r) {
		return
	}
	var req scanner.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	if req.PlaceID == 0 {
		jsonError(w, http.StatusBadRequest, "Missing required field: place_id")
		return
	}
	manifest, err := s.scans.Complete(req)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	log.Printf("[scanner] scan complete for %s (%d): %d instances, %d scripts, %d remotes",
		manifest.PlaceName, manifest.PlaceID,
		manifest.InstanceCount, manifest.ScriptCount, manifest.RemoteCount)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"manifest": manifest,
	})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"scans": s.scans.ActiveScans(),
	})
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !s.requireSecret(w, r) {
		return
	}
	var req struct {
		PlaceID uint64 `json:"place_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlaceID == 0 {
		jsonError(w, http.StatusBadRequest, "Missing required field: place_id")
		return
	}
	if !s.scans.Cancel(req.PlaceID) {
		jsonError(w, http.StatusNotFound, "No active scan found for place %d", req.PlaceID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "Cancelled scan for place " + strconv.FormatUint(req.PlaceID, 10),
	})
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	games, err := s.scans.ListGames()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"games": games,
	})
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	placeID, ok := placeIDParam(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		manifest, err := s.scans.LoadManifest(placeID)
		if err != nil {
			jsonError(w, http.StatusNotFound, "No scan data found for place %d", placeID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":       true,
			"manifest": manifest,
		})
	case http.MethodDelete:
		if !s.requireSecret(w, r) {
			return
		}
		if !s.scans.Exists(placeID) {
			jsonError(w, http.StatusNotFound, "No scan data found for place %d", placeID)
			return
		}
		if err := s.scans.DeleteGame(placeID); err != nil {
			jsonError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		log.Printf("[scanner] deleted stored data for place %d", placeID)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"message": "Deleted scan data for place " + strconv.FormatUint(placeID, 10),
		})
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}

func (s *Server) handleGameScope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	placeID, ok := placeIDParam(w, r)
	if !ok {
		return
	}
	scope := r.PathValue("scope")
	if !scanner.ValidScope(scope) {
		jsonError(w, http.StatusBadRequest,
			"Unknown scope '%s'. Valid: tree, scripts, remotes, properties, services", scope)
		return
	}

	q := r.URL.Query()
	data, err := s.scans.LoadScope(placeID, scope, scanner.ScopeQuery{
		Path:   q.Get("path"),
		Search: q.Get("search"),
		Class:  q.Get("class"),
	})
	if err != nil {
		jsonError(w, http.StatusNotFound, "No %s data found for place %d", scope, placeID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"place_id": placeID,
		"scope":    scope,
		"data":     data,
	})
}

func placeIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	placeID, err := strconv.ParseUint(r.PathValue("placeID"), 10, 64)
	if err != nil || placeID == 0 {
		jsonError(w, http.StatusBadRequest, "invalid place id %q", r.PathValue("placeID"))
		return 0, false
	}
	return placeID, true
}
