package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rbxbridge/relay/internal/store"
)

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetLogs(w, r)
	case http.MethodDelete:
		s.handleDeleteLogs(w, r)
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}

// handleGetLogs serves the query surface. All predicates are optional and
// ANDed together; page/per_page override offset/limit when both appear.
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.Filter{
		Level:    q.Get("level"),
		Source:   q.Get("source"),
		Search:   q.Get("search"),
		Tags:     store.ParseTagList(q.Get("tag")),
		ClientID: q.Get("client_id"),
	}

	if raw := q.Get("after"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "unparseable 'after' timestamp %q, want RFC 3339", raw)
			return
		}
		filter.After = ts
	}
	if raw := q.Get("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "unparseable 'before' timestamp %q, want RFC 3339", raw)
			return
		}
		filter.Before = ts
	}

	page := store.Pagination{Order: q.Get("order")}
	var err error
	if page.Page, err = intParam(q.Get("page")); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid 'page' parameter")
		return
	}
	if page.PerPage, err = intParam(q.Get("per_page")); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid 'per_page' parameter")
		return
	}
	if page.Offset, err = intParam(q.Get("offset")); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid 'offset' parameter")
		return
	}
	if page.Limit, err = intParam(q.Get("limit")); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}

	writeJSON(w, http.StatusOK, s.gw.QueryLogs(filter, page))
}

// handleDeleteLogs clears the store. Destructive, so secret-gated.
func (s *Server) handleDeleteLogs(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecret(w, r) {
		return
	}
	cleared := s.gw.ClearLogs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"cleared": cleared,
	})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
