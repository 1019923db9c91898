package gateway

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rbxbridge/relay/internal/model"
	"github.com/rbxbridge/relay/internal/registry"
	"github.com/rbxbridge/relay/internal/store"
)

func newTestGateway() (*Gateway, *store.Store, *registry.Registry) {
	st := store.New(100)
	reg := registry.New()
	return New(st, reg), st, reg
}

func TestDecode_LogEvent(t *testing.T) {
	g, _, _ := newTestGateway()

	ev, err := g.Decode([]byte(`{"username":"Builderman","level":"info","message":"hello","tags":["combat","combat","ui"]}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	log, ok := ev.(*LogEvent)
	if !ok {
		t.Fatalf("expected LogEvent, got %T", ev)
	}
	if log.ClientID != "Builderman" {
		t.Errorf("client_id should default to username, got %q", log.ClientID)
	}
	if log.Source != DefaultSource {
		t.Errorf("expected default source %q, got %q", DefaultSource, log.Source)
	}
	if len(log.Tags) != 2 || log.Tags[0] != "combat" || log.Tags[1] != "ui" {
		t.Errorf("expected de-duplicated tags [combat ui], got %v", log.Tags)
	}
}

func TestDecode_MissingLevelDefaultsToOutput(t *testing.T) {
	g, _, _ := newTestGateway()

	ev, err := g.Decode([]byte(`{"username":"u","message":"raw print output"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if log := ev.(*LogEvent); log.Level != model.LevelOutput {
		t.Errorf("expected level output, got %q", log.Level)
	}
}

func TestDecode_TagDefault(t *testing.T) {
	g, _, _ := newTestGateway()

	ev, err := g.Decode([]byte(`{"username":"u","level":"info","message":"m","tags":[" ", ""]}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	log := ev.(*LogEvent)
	if len(log.Tags) != 1 || log.Tags[0] != "auto" {
		t.Errorf("expected default tags [auto], got %v", log.Tags)
	}
}

func TestDecode_Timestamps(t *testing.T) {
	g, _, _ := newTestGateway()

	ev, err := g.Decode([]byte(`{"username":"u","level":"info","message":"m","timestamp":"2025-06-01T12:00:00Z"}`))
	if err != nil {
		t.Fatalf("RFC 3339 timestamp rejected: %v", err)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if ts := ev.(*LogEvent).Timestamp; !ts.Equal(want) {
		t.Errorf("expected %v, got %v", want, ts)
	}

	ev, err = g.Decode([]byte(`{"username":"u","level":"info","message":"m","timestamp":1748779200000}`))
	if err != nil {
		t.Fatalf("unix-ms timestamp rejected: %v", err)
	}
	if ts := ev.(*LogEvent).Timestamp; !ts.Equal(time.UnixMilli(1748779200000)) {
		t.Errorf("unexpected unix-ms timestamp %v", ts)
	}
}

func TestDecode_Rejections(t *testing.T) {
	g, _, _ := newTestGateway()

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"not an object", `[1,2]`},
		{"missing username", `{"level":"info","message":"m"}`},
		{"missing message", `{"username":"u","level":"info"}`},
		{"unknown event", `{"username":"u","event":"teleported"}`},
		{"unknown level", `{"username":"u","level":"catastrophic","message":"m"}`},
		{"bad timestamp string", `{"username":"u","level":"info","message":"m","timestamp":"yesterday"}`},
		{"bad timestamp type", `{"username":"u","level":"info","message":"m","timestamp":true}`},
		{"lifecycle with level", `{"username":"u","event":"heartbeat","level":"info"}`},
	}
	for _, tc := range cases {
		_, err := g.Decode([]byte(tc.body))
		if err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
			continue
		}
		if _, ok := err.(*ValidationError); !ok {
			t.Errorf("%s: expected *ValidationError, got %T", tc.name, err)
		}
	}
}

func TestApply_AttachedIsDualEffect(t *testing.T) {
	g, st, reg := newTestGateway()

	res := g.Apply(&LifecycleEvent{Kind: KindAttached, ClientID: "c1", Username: "Builderman"})
	if res.Event != KindAttached {
		t.Errorf("expected event attached, got %q", res.Event)
	}
	if res.Record == nil || res.Session == nil {
		t.Fatal("attached must yield both a record and a session")
	}

	// Registry side.
	sess, ok := reg.Get("c1")
	if !ok {
		t.Fatal("session not registered")
	}
	if !sess.LoggerAttached || sess.Status != model.StatusAttached {
		t.Errorf("unexpected session state: %+v", sess)
	}

	// Store side: exactly one internal entry from the relay itself.
	q := st.Query(store.Filter{Tags: []string{"internal"}}, store.Pagination{})
	if q.Total != 1 {
		t.Fatalf("expected 1 internal entry, got %d", q.Total)
	}
	if q.Entries[0].Source != ServerSource {
		t.Errorf("expected source %q, got %q", ServerSource, q.Entries[0].Source)
	}
}

func TestApply_DisconnectedRemovesAndRecords(t *testing.T) {
	g, st, reg := newTestGateway()
	g.Apply(&LifecycleEvent{Kind: KindAttached, ClientID: "c1", Username: "u"})

	res := g.Apply(&LifecycleEvent{Kind: KindDisconnected, ClientID: "c1", Username: "u"})
	if !res.WasConnected {
		t.Error("expected was_connected=true for a live session")
	}
	if _, ok := reg.Get("c1"); ok {
		t.Error("session should be removed after disconnect")
	}
	q := st.Query(store.Filter{Tags: []string{"disconnected"}}, store.Pagination{})
	if q.Total != 1 {
		t.Errorf("expected 1 disconnect entry, got %d", q.Total)
	}

	// Disconnecting an unknown client still records the entry.
	res = g.Apply(&LifecycleEvent{Kind: KindDisconnected, ClientID: "ghost", Username: "ghost"})
	if res.WasConnected {
		t.Error("expected was_connected=false for unknown client")
	}
}

func TestApply_HeartbeatCreatesSessionOnFirstContact(t *testing.T) {
	g, st, reg := newTestGateway()

	res := g.Apply(&LifecycleEvent{Kind: KindHeartbeat, ClientID: "c1", Username: "u"})
	if res.Record != nil {
		t.Error("heartbeat must not append a log entry")
	}
	sess, ok := reg.Get("c1")
	if !ok {
		t.Fatal("heartbeat should create the session on first contact")
	}
	if sess.Status != model.StatusConnected {
		t.Errorf("expected Connected, got %v", sess.Status)
	}
	if st.Len() != 0 {
		t.Errorf("store should be empty after heartbeat, has %d", st.Len())
	}
}

func TestApply_LogRefreshesHeartbeat(t *testing.T) {
	g, st, reg := newTestGateway()
	reg.Register("c1", "u", model.StatusUnknown)
	before, _ := reg.Get("c1")

	time.Sleep(5 * time.Millisecond)
	res := g.Apply(&LogEvent{Level: "info", Message: "m", Source: "roblox", ClientID: "c1", Username: "u", Tags: []string{"auto"}})
	if res.Record == nil || res.Record.ID != 1 {
		t.Fatalf("expected record with id 1, got %+v", res.Record)
	}
	if st.Len() != 1 {
		t.Errorf("expected 1 stored entry, got %d", st.Len())
	}

	after, _ := reg.Get("c1")
	if !after.LastHeartbeat.After(before.LastHeartbeat) {
		t.Error("log append should refresh the session heartbeat")
	}
}

func TestApply_LogRecordsPID(t *testing.T) {
	g, _, reg := newTestGateway()
	reg.Register("c1", "u", model.StatusUnknown)

	ev, err := g.Decode([]byte(`{"username":"u","client_id":"c1","level":"info","message":"m","pid":4242}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	res := g.Apply(ev)
	if res.Record == nil || res.Record.PID != 4242 {
		t.Errorf("expected record pid 4242, got %+v", res.Record)
	}
	sess, _ := reg.Get("c1")
	if sess.PID != 4242 {
		t.Errorf("expected session pid 4242, got %d", sess.PID)
	}
}

func TestApply_ConcurrentLogsAndQueries(t *testing.T) {
	g, st, _ := newTestGateway()

	const writers = 4
	const perWriter = 100

	// Readers run alongside the writers; every page they observe must be
	// strictly id-ordered with no torn records.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 2; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res := g.QueryLogs(store.Filter{}, store.Pagination{PerPage: 1000})
				for k := 1; k < len(res.Entries); k++ {
					if res.Entries[k-1].ID <= res.Entries[k].ID {
						t.Errorf("ids not strictly decreasing mid-write: %d then %d",
							res.Entries[k-1].ID, res.Entries[k].ID)
						return
					}
				}
			}
		}()
	}

	var writersWG sync.WaitGroup
	for i := 0; i < writers; i++ {
		writersWG.Add(1)
		go func(i int) {
			defer writersWG.Done()
			id := fmt.Sprintf("c%d", i)
			for j := 0; j < perWriter; j++ {
				g.Apply(&LogEvent{Level: "info", Message: "m", Source: "roblox", ClientID: id, Username: id, Tags: []string{"auto"}})
			}
		}(i)
	}
	writersWG.Wait()
	close(stop)
	readers.Wait()

	stats := st.GetStats()
	if stats.Appended != uint64(writers*perWriter) {
		t.Errorf("expected %d appends, got %d", writers*perWriter, stats.Appended)
	}
	// Capacity is 100, so exactly one buffer's worth survives.
	if st.Len() != 100 {
		t.Errorf("expected 100 retained entries, got %d", st.Len())
	}
}

func TestOnSessionExpired_AppendsTimeoutEntry(t *testing.T) {
	g, st, _ := newTestGateway()

	g.OnSessionExpired(model.ClientSession{ClientID: "c1", Username: "u"}, 15*time.Second)

	q := st.Query(store.Filter{Tags: []string{"timeout"}}, store.Pagination{})
	if q.Total != 1 {
		t.Fatalf("expected 1 timeout entry, got %d", q.Total)
	}
	if q.Entries[0].ClientID != "c1" {
		t.Errorf("unexpected client id %q", q.Entries[0].ClientID)
	}
}
