package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbxbridge/relay/internal/config"
	"github.com/rbxbridge/relay/internal/exchange"
	"github.com/rbxbridge/relay/internal/gateway"
	"github.com/rbxbridge/relay/internal/registry"
	"github.com/rbxbridge/relay/internal/scanner"
	"github.com/rbxbridge/relay/internal/store"
)

// SecretHeader carries the shared secret on mutating calls.
const SecretHeader = "X-Relay-Secret"

// maxBodyBytes caps inbound request bodies; scan chunks can be large.
const maxBodyBytes = 16 << 20

// Server is the relay's HTTP surface. GET endpoints are open; POST/DELETE
// endpoints are gated on the shared secret when one is configured.
type Server struct {
	gw    *gateway.Gateway
	st    *store.Store
	reg   *registry.Registry
	scans *scanner.Store
	exch  *exchange.Dir
	cfg   config.Config

	srv       *http.Server
	startedAt time.Time

	ingestCounter int64 // monotonic inbound event count
	ingestRate    int64 // events per second, updated by the stats ticker

	// Remote-spy subscription state. Payload delivery runs through the
	// script exchange; only the bookkeeping lives here.
	spyMu      sync.RWMutex
	spyClients map[string]struct{}
	spySubs    map[string]map[string]struct{}
}

// New wires the HTTP surface over the relay's components.
func New(gw *gateway.Gateway, st *store.Store, reg *registry.Registry, scans *scanner.Store, exch *exchange.Dir, cfg config.Config) *Server {
	return &Server{
		startedAt:  time.Now(),
		gw:         gw,
		st:         st,
		reg:        reg,
		scans:      scans,
		exch:       exch,
		cfg:        cfg,
		spyClients: make(map[string]struct{}),
		spySubs:    make(map[string]map[string]struct{}),
	}
}

// Handler builds the relay's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/internal", s.handleInternal)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/clients", s.handleClients)
	mux.HandleFunc("/attach-logger", s.handleAttachLogger)
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/verify-script", s.handleVerifyScript)

	mux.HandleFunc("/spy/attach", s.handleSpyAttach)
	mux.HandleFunc("/spy/detach", s.handleSpyDetach)
	mux.HandleFunc("/spy/subscribe", s.handleSpySubscribe)
	mux.HandleFunc("/spy/unsubscribe", s.handleSpyUnsubscribe)
	mux.HandleFunc("/spy/status", s.handleSpyStatus)

	mux.HandleFunc("/scan/data", s.handleScanData)
	mux.HandleFunc("/scan/complete", s.handleScanComplete)
	mux.HandleFunc("/scan/status", s.handleScanStatus)
	mux.HandleFunc("/scan/cancel", s.handleScanCancel)
	mux.HandleFunc("/games", s.handleGames)
	mux.HandleFunc("/games/{placeID}", s.handleGame)
	mux.HandleFunc("/games/{placeID}/{scope}", s.handleGameScope)

	mux.HandleFunc("/", notFound)

	return http.MaxBytesHandler(mux, maxBodyBytes)
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// StartStatsTicker computes the rolling ingest rate.
func (s *Server) StartStatsTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		var last int64
		for {
			select {
			case <-ticker.C:
				cur := atomic.LoadInt64(&s.ingestCounter)
				atomic.StoreInt64(&s.ingestRate, int64(float64(cur-last)/interval.Seconds()))
				last = cur
			case <-ctx.Done():
				return
			}
		}
	}()
}

// requireSecret enforces the shared secret on mutating calls. With no
// secret configured the check passes. A mismatch writes the Unauthorized
// envelope and reports false; the caller must return without side effects.
func (s *Server) requireSecret(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.Secret == "" {
		return true
	}
	provided := r.Header.Get(SecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.Secret)) != 1 {
		jsonError(w, http.StatusUnauthorized, "invalid or missing %s header", SecretHeader)
		return false
	}
	return true
}
