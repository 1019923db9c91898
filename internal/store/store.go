package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/rbxbridge/relay/internal/model"
)

// DefaultMaxEntries is the capacity used when none is configured.
const DefaultMaxEntries = 10_000

// Store is the bounded, append-only, in-memory event log. Records are held
// in a ring buffer: once len reaches maxEntries, each append overwrites the
// oldest record. IDs are assigned at append time and strictly increase for
// the lifetime of the store; eviction never reuses them.
type Store struct {
	mu         sync.RWMutex
	buf        []model.EventRecord
	head       int // index of the oldest record
	count      int
	nextID     uint64
	maxEntries int

	// Counters (never reset, not even by Clear)
	appended    uint64
	evicted     uint64
	levelCounts map[string]uint64

	// Optional sinks, written outside the buffer lock.
	console bool
	fileMu  sync.Mutex
	file    *os.File
}

// New creates a Store with the given capacity (DefaultMaxEntries if <= 0).
func New(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		buf:         make([]model.EventRecord, maxEntries),
		nextID:      1,
		maxEntries:  maxEntries,
		levelCounts: make(map[string]uint64),
	}
}

// SetConsoleEcho enables printing every appended record to stdout.
func (s *Store) SetConsoleEcho(on bool) {
	s.console = on
}

// SetLogFile opens path for appending one JSON line per stored record.
func (s *Store) SetLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	s.fileMu.Lock()
	s.file = f
	s.fileMu.Unlock()
	return nil
}

// Close releases the log file sink, if any.
func (s *Store) Close() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// AppendRequest carries the caller-supplied fields of a record. ID and,
// when zero, Timestamp are filled in by the store.
type AppendRequest struct {
	Timestamp time.Time
	Level     string
	Message   string
	Source    string
	ClientID  string
	Username  string
	PID       uint64
	Tags      []string
}

// Append assigns the next id, inserts the record at the tail and evicts the
// oldest record if the buffer is full. It never fails on well-formed input.
func (s *Store) Append(req AppendRequest) model.EventRecord {
	rec := model.EventRecord{
		Timestamp: req.Timestamp,
		Level:     model.NormalizeLevel(req.Level),
		Message:   req.Message,
		Source:    req.Source,
		ClientID:  req.ClientID,
		Username:  req.Username,
		PID:       req.PID,
		Tags:      req.Tags,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	s.mu.Lock()
	rec.ID = s.nextID
	s.nextID++
	s.appended++
	s.levelCounts[rec.Level]++

	if s.count < s.maxEntries {
		s.buf[(s.head+s.count)%s.maxEntries] = rec
		s.count++
	} else {
		// Full: overwrite the oldest slot and advance the head.
		s.buf[s.head] = rec
		s.head = (s.head + 1) % s.maxEntries
		s.evicted++
	}
	s.mu.Unlock()

	// Sinks run outside the buffer lock so readers are never blocked on I/O.
	if s.console {
		echoRecord(rec)
	}
	s.fileMu.Lock()
	if s.file != nil {
		if line, err := json.Marshal(rec); err == nil {
			fmt.Fprintf(s.file, "%s\n", line)
		}
	}
	s.fileMu.Unlock()

	return rec
}

// Clear drops all records and returns how many were removed. Counters and
// the id sequence are left untouched.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.count
	s.head = 0
	s.count = 0
	return removed
}

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Stats is a snapshot of the store's cumulative counters.
type Stats struct {
	Count       int               `json:"count"`
	MaxEntries  int               `json:"max_entries"`
	Appended    uint64            `json:"appended"`
	Evicted     uint64            `json:"evicted"`
	LevelCounts map[string]uint64 `json:"level_counts"`
}

// GetStats returns a copy of the store counters.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]uint64, len(s.levelCounts))
	for k, v := range s.levelCounts {
		counts[k] = v
	}
	return Stats{
		Count:       s.count,
		MaxEntries:  s.maxEntries,
		Appended:    s.appended,
		Evicted:     s.evicted,
		LevelCounts: counts,
	}
}

func echoRecord(rec model.EventRecord) {
	origin := "-"
	switch {
	case rec.Username != "" && rec.PID != 0:
		origin = fmt.Sprintf("%s(%d)", rec.Username, rec.PID)
	case rec.Username != "":
		origin = rec.Username
	case rec.PID != 0:
		origin = fmt.Sprintf("PID:%d", rec.PID)
	}
	source := rec.Source
	if source == "" {
		source = "-"
	}
	log.Printf("[%s] [%s] %s | %s", rec.Level, origin, source, rec.Message)
}
