package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeJSON renders v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// jsonError renders the {ok,error,status} failure envelope every caller of
// the relay relies on. Internal errors never leak as raw panics; they all
// pass through here.
func jsonError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"ok":     false,
		"error":  fmt.Sprintf(format, args...),
		"status": status,
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	jsonError(w, http.StatusNotFound,
		"No endpoint matches %s %s. Available endpoints: GET /health, GET /clients, "+
			"POST /execute, POST /attach-logger, POST /internal, GET /logs, DELETE /logs",
		r.Method, r.URL.Path)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	jsonError(w, http.StatusMethodNotAllowed,
		"Method %s is not allowed on %s. Allowed: %s", r.Method, r.URL.Path, allowed)
}
