package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/rbxbridge/relay/internal/model"
)

// Lifecycle marker kinds accepted on the wire.
const (
	KindAttached        = "attached"
	KindAlreadyAttached = "already_attached"
	KindHeartbeat       = "heartbeat"
	KindDisconnected    = "disconnected"
	KindLog             = "log"
)

// ValidationError marks an inbound payload the gateway refused to process.
// It is terminal for that single message only.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Event is the decoded form of one inbound message: either a LogEvent or a
// LifecycleEvent. Nothing else gets past the boundary.
type Event interface {
	isEvent()
}

// LogEvent is a log entry produced by a remote client.
type LogEvent struct {
	Timestamp time.Time
	Level     string
	Message   string
	Source    string
	ClientID  string
	Username  string
	PID       uint64
	Tags      []string
}

func (*LogEvent) isEvent() {}

// LifecycleEvent is a session state marker (attached, heartbeat, ...).
type LifecycleEvent struct {
	Kind     string
	ClientID string
	Username string
}

func (*LifecycleEvent) isEvent() {}

// Decode parses an untrusted payload into the event sum type. A message
// with a level+message pair (or event "log") is a log entry; a recognized
// event name without a level is a lifecycle marker; anything else is a
// ValidationError.
func (g *Gateway) Decode(body []byte) (Event, error) {
	p := g.parsers.Get()
	defer g.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, invalidf("invalid JSON: %v", err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, invalidf("payload must be a JSON object")
	}

	username := strings.TrimSpace(string(v.GetStringBytes("username")))
	clientID := strings.TrimSpace(string(v.GetStringBytes("client_id")))
	if clientID == "" {
		clientID = username
	}
	if username == "" {
		return nil, invalidf("username must not be empty")
	}

	kind := strings.ToLower(strings.TrimSpace(string(v.GetStringBytes("event"))))
	level := string(v.GetStringBytes("level"))

	switch kind {
	case KindAttached, KindAlreadyAttached, KindHeartbeat, KindDisconnected:
		if level != "" {
			return nil, invalidf("event %q must not carry a level", kind)
		}
		return &LifecycleEvent{Kind: kind, ClientID: clientID, Username: username}, nil
	case "", KindLog:
		// fall through to the log entry shape
	default:
		return nil, invalidf("unknown event %q. Valid events: attached, already_attached, heartbeat, disconnected, log", kind)
	}

	msg := string(v.GetStringBytes("message"))
	if msg == "" {
		return nil, invalidf("log event requires a non-empty 'message' field")
	}
	if level == "" {
		level = model.LevelOutput
	}
	if !model.KnownLevel(level) {
		return nil, invalidf("unrecognized level %q", level)
	}

	ts, err := decodeTimestamp(v)
	if err != nil {
		return nil, err
	}

	source := string(v.GetStringBytes("source"))
	if source == "" {
		source = DefaultSource
	}

	return &LogEvent{
		Timestamp: ts,
		Level:     level,
		Message:   msg,
		Source:    source,
		ClientID:  clientID,
		Username:  username,
		PID:       v.GetUint64("pid"),
		Tags:      decodeTags(v),
	}, nil
}

// decodeTimestamp accepts an RFC 3339 string or unix milliseconds. Absent
// means "now" (filled at append); unparseable values are rejected rather
// than defaulted.
func decodeTimestamp(v *fastjson.Value) (time.Time, error) {
	tsVal := v.Get("timestamp")
	if tsVal == nil {
		return time.Time{}, nil
	}
	switch tsVal.Type() {
	case fastjson.TypeString:
		raw := string(tsVal.GetStringBytes())
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, invalidf("unparseable timestamp %q", raw)
		}
		return ts, nil
	case fastjson.TypeNumber:
		ms := tsVal.GetInt64()
		if ms <= 0 {
			return time.Time{}, invalidf("timestamp must be positive unix milliseconds")
		}
		return time.UnixMilli(ms), nil
	default:
		return time.Time{}, invalidf("timestamp must be an RFC 3339 string or unix milliseconds")
	}
}

// decodeTags coerces the tags array to a de-duplicated set, preserving
// first-seen order. Empty input defaults to ["auto"].
func decodeTags(v *fastjson.Value) []string {
	arr := v.GetArray("tags")
	if len(arr) == 0 {
		return []string{"auto"}
	}
	seen := make(map[string]struct{}, len(arr))
	tags := make([]string, 0, len(arr))
	for _, item := range arr {
		t := strings.TrimSpace(string(item.GetStringBytes()))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		return []string{"auto"}
	}
	return tags
}
