// Package scanner stores game scan snapshots shipped up by the in-client
// scanner script. Data arrives in per-scope chunks, is persisted under
// storage/places/<placeID>/, and is finalized by a manifest carrying counts
// and a structural hash used for change detection.
package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Scopes a scan can carry. Tree, scripts, remotes and properties chunks are
// arrays and accumulate; services is a single document replaced per chunk.
var validScopes = map[string]bool{
	"tree":       true,
	"scripts":    true,
	"remotes":    true,
	"properties": true,
	"services":   true,
}

// ValidScope reports whether name is a known scan scope.
func ValidScope(name string) bool { return validScopes[name] }

// Status describes a scan currently receiving data.
type Status struct {
	PlaceID   uint64    `json:"place_id"`
	State     string    `json:"status"`
	Progress  string    `json:"progress"`
	StartedAt time.Time `json:"started_at"`
}

// Manifest is the per-place snapshot summary written on scan completion.
// TreeHash changes whenever the instance tree's structure changes.
type Manifest struct {
	PlaceID       uint64    `json:"place_id"`
	PlaceName     string    `json:"place_name"`
	PlaceVersion  uint64    `json:"place_version"`
	ScannedAt     time.Time `json:"scanned_at"`
	TreeHash      string    `json:"tree_hash"`
	InstanceCount uint64    `json:"instance_count"`
	ScriptCount   uint64    `json:"script_count"`
	RemoteCount   uint64    `json:"remote_count"`
	Scopes        []string  `json:"scopes"`
}

// CompleteRequest finalizes a scan.
type CompleteRequest struct {
	PlaceID       uint64 `json:"place_id"`
	PlaceName     string `json:"place_name"`
	PlaceVersion  uint64 `json:"place_version"`
	InstanceCount uint64 `json:"instance_count"`
	ScriptCount   uint64 `json:"script_count"`
	RemoteCount   uint64 `json:"remote_count"`
}

// Store owns the scan storage directory and the active-scan table.
type Store struct {
	dir string

	mu     sync.RWMutex // guards active
	active map[uint64]*Status

	fileMu sync.Mutex // serializes scope file read-modify-write cycles
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// NewStore prepares the storage directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "places"), 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, active: make(map[uint64]*Status), enc: enc, dec: dec}, nil
}

func (s *Store) placeDir(placeID uint64) string {
	return filepath.Join(s.dir, "places", strconv.FormatUint(placeID, 10))
}

func (s *Store) scopePath(placeID uint64, scope string) string {
	return filepath.Join(s.placeDir(placeID), scope+".json.zst")
}

// SaveChunk persists one scan chunk and tracks scan progress.
func (s *Store) SaveChunk(placeID uint64, scope string, data json.RawMessage) error {
	if !ValidScope(scope) {
		return fmt.Errorf("unknown chunk type: %s", scope)
	}

	s.mu.Lock()
	st, ok := s.active[placeID]
	if !ok {
		st = &Status{PlaceID: placeID, State: "scanning", StartedAt: time.Now()}
		s.active[placeID] = st
	}
	st.Progress = "receiving " + scope
	s.mu.Unlock()

	if err := os.MkdirAll(s.placeDir(placeID), 0755); err != nil {
		return err
	}

	if scope == "services" {
		return s.writeScope(placeID, scope, data)
	}
	return s.appendScope(placeID, scope, data)
}

// appendScope merges an array chunk into the existing scope array.
func (s *Store) appendScope(placeID uint64, scope string, data json.RawMessage) error {
	var incoming []json.RawMessage
	if err := json.Unmarshal(data, &incoming); err != nil {
		return fmt.Errorf("%s chunk must be a JSON array: %w", scope, err)
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	existing, err := s.readScopeLocked(placeID, scope)
	var items []json.RawMessage
	if err == nil {
		if err := json.Unmarshal(existing, &items); err != nil {
			items = nil
		}
	}
	items = append(items, incoming...)

	merged, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.writeScopeLocked(placeID, scope, merged)
}

func (s *Store) writeScope(placeID uint64, scope string, data json.RawMessage) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return s.writeScopeLocked(placeID, scope, data)
}

func (s *Store) writeScopeLocked(placeID uint64, scope string, data []byte) error {
	path := s.scopePath(placeID, scope)
	compressed := s.enc.EncodeAll(data, make([]byte, 0, len(data)/2))

	// Write-then-rename so a crash never leaves a torn scope file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) readScopeLocked(placeID uint64, scope string) ([]byte, error) {
	compressed, err := os.ReadFile(s.scopePath(placeID, scope))
	if err != nil {
		return nil, err
	}
	return s.dec.DecodeAll(compressed, nil)
}

// Complete writes the manifest, computes the tree hash and clears the
// active-scan entry.
func (s *Store) Complete(req CompleteRequest) (Manifest, error) {
	defer func() {
		s.mu.Lock()
		delete(s.active, req.PlaceID)
		s.mu.Unlock()
	}()

	manifest := Manifest{
		PlaceID:       req.PlaceID,
		PlaceName:     req.PlaceName,
		PlaceVersion:  req.PlaceVersion,
		ScannedAt:     time.Now(),
		InstanceCount: req.InstanceCount,
		ScriptCount:   req.ScriptCount,
		RemoteCount:   req.RemoteCount,
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	for scope := range validScopes {
		if _, err := os.Stat(s.scopePath(req.PlaceID, scope)); err == nil {
			manifest.Scopes = append(manifest.Scopes, scope)
		}
	}
	sort.Strings(manifest.Scopes)

	if tree, err := s.readScopeLocked(req.PlaceID, "tree"); err == nil {
		manifest.TreeHash = TreeHash(tree)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, err
	}
	if err := os.MkdirAll(s.placeDir(req.PlaceID), 0755); err != nil {
		return Manifest{}, err
	}
	path := filepath.Join(s.placeDir(req.PlaceID), "manifest.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return Manifest{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// Cancel drops an in-progress scan; stored data is kept.
func (s *Store) Cancel(placeID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[placeID]
	delete(s.active, placeID)
	return ok
}

// ActiveScans snapshots the in-progress scan table.
func (s *Store) ActiveScans() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Status, 0, len(s.active))
	for _, st := range s.active {
		list = append(list, *st)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].PlaceID < list[j].PlaceID })
	return list
}

// ListGames loads every stored manifest.
func (s *Store) ListGames() ([]Manifest, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "places"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var games []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, "places", entry.Name(), "manifest.json"))
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		games = append(games, m)
	}
	sort.Slice(games, func(i, j int) bool { return games[i].PlaceID < games[j].PlaceID })
	return games, nil
}

// LoadManifest reads one place's manifest.
func (s *Store) LoadManifest(placeID uint64) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.placeDir(placeID), "manifest.json"))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// ScopeQuery filters entries returned by LoadScope. All fields optional.
type ScopeQuery struct {
	Path   string // substring of the entry's "path"
	Search string // case-insensitive substring of "name" or "path"
	Class  string // exact match of "class"
}

// LoadScope reads one scope file, applying q to array scopes.
func (s *Store) LoadScope(placeID uint64, scope string, q ScopeQuery) (json.RawMessage, error) {
	if !ValidScope(scope) {
		return nil, fmt.Errorf("unknown scope '%s'. Valid: tree, scripts, remotes, properties, services", scope)
	}
	s.fileMu.Lock()
	data, err := s.readScopeLocked(placeID, scope)
	s.fileMu.Unlock()
	if err != nil {
		return nil, err
	}
	if q == (ScopeQuery{}) {
		return data, nil
	}
	return filterEntries(data, q), nil
}

// Exists reports whether any scan data is stored for placeID.
func (s *Store) Exists(placeID uint64) bool {
	_, err := os.Stat(s.placeDir(placeID))
	return err == nil
}

// DeleteGame removes all stored data for placeID.
func (s *Store) DeleteGame(placeID uint64) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return os.RemoveAll(s.placeDir(placeID))
}
