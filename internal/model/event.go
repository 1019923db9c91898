package model

import (
	"strings"
	"time"
)

// Recognized log levels. The set is open-ended on the wire (producers may
// send anything), but the gateway rejects levels outside this list instead
// of guessing.
const (
	LevelInfo   = "info"
	LevelWarn   = "warn"
	LevelError  = "error"
	LevelOutput = "output"
	LevelScript = "script"
	LevelDebug  = "debug"
)

// EventRecord is one captured log/event entry. Immutable once appended;
// ID is the ordering key, assigned by the store.
type EventRecord struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	PID       uint64    `json:"pid,omitempty"`
	Tags      []string  `json:"tags"`
}

// NormalizeLevel folds a level to its canonical lower-case form.
func NormalizeLevel(level string) string {
	return strings.ToLower(strings.TrimSpace(level))
}

// KnownLevel reports whether level (after normalization) is recognized.
func KnownLevel(level string) bool {
	switch NormalizeLevel(level) {
	case LevelInfo, LevelWarn, LevelError, LevelOutput, LevelScript, LevelDebug:
		return true
	}
	return false
}

// ClientStatus is the lifecycle state of a remote client session.
// Ordinals are part of the wire format and must not be reordered.
type ClientStatus uint8

const (
	StatusUnknown ClientStatus = iota
	StatusConnecting
	StatusConnected
	StatusAttached
	StatusDisconnected
)

func (s ClientStatus) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusAttached:
		return "Attached"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// ClientSession is the tracked state of one remote client connection.
type ClientSession struct {
	ClientID       string       `json:"client_id"`
	Username       string       `json:"username"`
	Status         ClientStatus `json:"status"`
	StatusText     string       `json:"status_text"`
	LoggerAttached bool         `json:"logger_attached"`
	PID            uint64       `json:"pid,omitempty"`
	ConnectedAt    time.Time    `json:"connected_at"`
	LastHeartbeat  time.Time    `json:"last_heartbeat"`
}
