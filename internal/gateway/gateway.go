package gateway

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/rbxbridge/relay/internal/model"
	"github.com/rbxbridge/relay/internal/registry"
	"github.com/rbxbridge/relay/internal/store"
)

// Defaults applied while normalizing inbound payloads.
const (
	DefaultSource = "roblox"
	ServerSource  = "relay"
)

// Gateway routes validated inbound events to the store and the registry.
//
// mu guards the cross-component invariant: lifecycle events that both
// append a log entry and transition the registry hold the write side, while
// readers (queries, client listings) and single-effect log appends hold the
// read side. A reader can therefore never observe the log entry without the
// matching registry update, or vice versa. Neither side performs I/O while
// holding mu beyond the store's lock-free sinks.
type Gateway struct {
	mu       sync.RWMutex
	store    *store.Store
	registry *registry.Registry
	parsers  fastjson.ParserPool
}

// New wires a Gateway over the process-wide store and registry.
func New(st *store.Store, reg *registry.Registry) *Gateway {
	return &Gateway{store: st, registry: reg}
}

// ApplyResult reports what an inbound event did.
type ApplyResult struct {
	Event        string               `json:"event"`
	Record       *model.EventRecord   `json:"record,omitempty"`
	Session      *model.ClientSession `json:"session,omitempty"`
	WasConnected bool                 `json:"was_connected,omitempty"`
}

// Apply executes a decoded event against the store and registry.
func (g *Gateway) Apply(ev Event) ApplyResult {
	switch e := ev.(type) {
	case *LogEvent:
		return g.applyLog(e)
	case *LifecycleEvent:
		return g.applyLifecycle(e)
	default:
		// Decode produces only the two shapes above.
		panic(fmt.Sprintf("gateway: unreachable event type %T", ev))
	}
}

func (g *Gateway) applyLog(e *LogEvent) ApplyResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// A log entry doubles as proof of life.
	g.registry.Heartbeat(e.ClientID)
	if e.PID != 0 {
		g.registry.SetPID(e.ClientID, e.PID)
	}

	rec := g.store.Append(store.AppendRequest{
		Timestamp: e.Timestamp,
		Level:     e.Level,
		Message:   e.Message,
		Source:    e.Source,
		ClientID:  e.ClientID,
		Username:  e.Username,
		PID:       e.PID,
		Tags:      e.Tags,
	})
	return ApplyResult{Event: KindLog, Record: &rec}
}

func (g *Gateway) applyLifecycle(e *LifecycleEvent) ApplyResult {
	switch e.Kind {
	case KindHeartbeat:
		// Single effect: registry only. First contact creates the session.
		g.mu.RLock()
		sess := g.registry.Register(e.ClientID, e.Username, model.StatusUnknown)
		g.mu.RUnlock()
		return ApplyResult{Event: e.Kind, Session: &sess}

	case KindAttached, KindAlreadyAttached:
		g.mu.Lock()
		defer g.mu.Unlock()

		sess := g.registry.Register(e.ClientID, e.Username, model.StatusAttached)
		if _, err := g.registry.MarkLoggerAttached(e.ClientID); err != nil {
			// The session was registered one line above under the same lock.
			log.Printf("[relay] registry lost session %q mid-transition: %v", e.ClientID, err)
		}
		sess.LoggerAttached = true

		msg := fmt.Sprintf("Logger attached for '%s'", e.Username)
		if e.Kind == KindAlreadyAttached {
			msg = fmt.Sprintf("Logger already attached for '%s', re-tracked", e.Username)
		}
		rec := g.store.Append(store.AppendRequest{
			Level:    model.LevelInfo,
			Message:  msg,
			Source:   ServerSource,
			ClientID: e.ClientID,
			Username: e.Username,
			Tags:     []string{"internal", e.Kind},
		})
		return ApplyResult{Event: e.Kind, Record: &rec, Session: &sess}

	case KindDisconnected:
		g.mu.Lock()
		defer g.mu.Unlock()

		sess, wasConnected := g.registry.Disconnect(e.ClientID)
		rec := g.store.Append(store.AppendRequest{
			Level:    model.LevelInfo,
			Message:  fmt.Sprintf("Client '%s' disconnected (player left game)", e.Username),
			Source:   ServerSource,
			ClientID: e.ClientID,
			Username: e.Username,
			Tags:     []string{"internal", KindDisconnected},
		})
		res := ApplyResult{Event: e.Kind, Record: &rec, WasConnected: wasConnected}
		if wasConnected {
			res.Session = &sess
		}
		return res

	default:
		panic(fmt.Sprintf("gateway: unreachable lifecycle kind %q", e.Kind))
	}
}

// OnSessionExpired records a heartbeat-timeout eviction performed by the
// registry sweeper. The session is already gone from the registry when this
// runs; the write lock only keeps the entry from interleaving with an
// in-flight dual-effect event.
func (g *Gateway) OnSessionExpired(sess model.ClientSession, window time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	log.Printf("[relay] client %q timed out (no heartbeat for %v)", sess.Username, window)
	g.store.Append(store.AppendRequest{
		Level:    model.LevelInfo,
		Message:  fmt.Sprintf("Client '%s' disconnected (heartbeat timeout after %ds)", sess.Username, int(window.Seconds())),
		Source:   ServerSource,
		ClientID: sess.ClientID,
		Username: sess.Username,
		Tags:     []string{"internal", KindDisconnected, "timeout"},
	})
}

// AppendServerEntry records a relay-internal event (script execution and
// the like) without touching the registry.
func (g *Gateway) AppendServerEntry(req store.AppendRequest) model.EventRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Append(req)
}

// QueryLogs evaluates a read query over a snapshot consistent with any
// in-flight dual-effect event.
func (g *Gateway) QueryLogs(f store.Filter, p store.Pagination) store.QueryResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Query(f, p)
}

// ClearLogs empties the store and returns the removed count.
func (g *Gateway) ClearLogs() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Clear()
}

// ListClients snapshots the live sessions.
func (g *Gateway) ListClients() []model.ClientSession {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.registry.List()
}
