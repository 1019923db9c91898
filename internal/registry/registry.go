package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rbxbridge/relay/internal/model"
)

// Staleness defaults. A session with no heartbeat inside StaleAfter is
// evicted by the background sweeper.
const (
	StaleAfter    = 15 * time.Second
	SweepInterval = 5 * time.Second
)

// NotFoundError reports operations that referenced unknown client ids.
type NotFoundError struct {
	ClientIDs []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown client id(s): %s", strings.Join(e.ClientIDs, ", "))
}

// Registry tracks live remote client sessions. All mutation goes through
// its methods; the internal table lock is held only for the duration of a
// single transition, never across I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*model.ClientSession
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*model.ClientSession)}
}

// Register creates or updates the session for clientID. A reconnect under
// the same id simply overwrites the username and refreshes timestamps.
// status selects the created/updated state; StatusUnknown leaves an
// existing session's status alone and defaults new sessions to Connected.
func (r *Registry) Register(clientID, username string, status model.ClientStatus) model.ClientSession {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[clientID]
	if !ok {
		if status == model.StatusUnknown {
			status = model.StatusConnected
		}
		sess = &model.ClientSession{
			ClientID:    clientID,
			Status:      status,
			ConnectedAt: now,
		}
		r.sessions[clientID] = sess
	} else if status != model.StatusUnknown {
		sess.Status = status
	}
	if username != "" {
		sess.Username = username
	}
	sess.LastHeartbeat = now
	sess.StatusText = sess.Status.String()
	return *sess
}

// Heartbeat refreshes LastHeartbeat for an existing session. It does not
// create sessions and does not change status; unknown ids report false.
func (r *Registry) Heartbeat(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[clientID]
	if !ok {
		return false
	}
	sess.LastHeartbeat = time.Now()
	return true
}

// MarkLoggerAttached sets the logger flag for clientID. Re-attaching an
// already-attached client is a no-op success; the returned bool is the
// resulting attachment state (always true for known ids).
func (r *Registry) MarkLoggerAttached(clientID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[clientID]
	if !ok {
		return false, &NotFoundError{ClientIDs: []string{clientID}}
	}
	sess.LoggerAttached = true
	sess.Status = model.StatusAttached
	sess.StatusText = sess.Status.String()
	sess.LastHeartbeat = time.Now()
	return true, nil
}

// SetPID records the process id metadata for a known session.
func (r *Registry) SetPID(clientID string, pid uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[clientID]; ok {
		sess.PID = pid
	}
}

// Disconnect removes the session immediately. Disconnected is terminal;
// no tombstone is kept. Returns the removed session if the id was known.
func (r *Registry) Disconnect(clientID string) (model.ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[clientID]
	if !ok {
		return model.ClientSession{}, false
	}
	delete(r.sessions, clientID)
	sess.Status = model.StatusDisconnected
	sess.StatusText = sess.Status.String()
	return *sess, true
}

// Get returns a snapshot of one session.
func (r *Registry) Get(clientID string) (model.ClientSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[clientID]
	if !ok {
		return model.ClientSession{}, false
	}
	return *sess, true
}

// List returns snapshots of all live sessions, ordered by client id.
func (r *Registry) List() []model.ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]model.ClientSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		list = append(list, *sess)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ClientID < list[j].ClientID })
	return list
}

// Require verifies that every id is a live session; missing ids are
// reported together in a single NotFoundError.
func (r *Registry) Require(clientIDs []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, id := range clientIDs {
		if _, ok := r.sessions[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &NotFoundError{ClientIDs: missing}
	}
	return nil
}

// PruneStale removes sessions whose last heartbeat is older than window and
// returns them (marked Disconnected). The expired snapshots are collected
// under the lock; callers log or append on them afterwards.
func (r *Registry) PruneStale(window time.Duration) []model.ClientSession {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []model.ClientSession
	for id, sess := range r.sessions {
		if now.Sub(sess.LastHeartbeat) > window {
			delete(r.sessions, id)
			sess.Status = model.StatusDisconnected
			sess.StatusText = sess.Status.String()
			expired = append(expired, *sess)
		}
	}
	return expired
}

// RunSweeper evicts stale sessions on a fixed tick until ctx is cancelled.
// The sweep is time-driven: it keeps the registry honest even when no
// queries are in flight. onExpire (optional) runs outside the table lock
// once per evicted session.
func (r *Registry) RunSweeper(ctx context.Context, interval, window time.Duration, onExpire func(model.ClientSession)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, sess := range r.PruneStale(window) {
					if onExpire != nil {
						onExpire(sess)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
