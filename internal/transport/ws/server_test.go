package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"warehouse.ai/internal/protocol"
	"warehouse.ai/internal/sim/tuning"
	"warehouse.ai/internal/sim/warehouse"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func hello(observeOnly bool) protocol.HelloMsg {
	return protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PolicyName: "test", ObserveOnly: observeOnly}
}

func readWelcome(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var w protocol.WelcomeMsg
	if err := conn.ReadJSON(&w); err != nil {
		t.Fatalf("read WELCOME: %v", err)
	}
	if w.Type != protocol.TypeWelcome {
		t.Fatalf("got %s, want WELCOME", w.Type)
	}
	return w
}

func TestServer_DrivesRunner(t *testing.T) {
	tune := tuning.Defaults()
	tune.Seed = 5
	env, err := warehouse.New(tune)
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	runner := warehouse.NewRunner(env, warehouse.RunnerConfig{TickRateHz: 200})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	s, err := NewServer(runner, "run-x", nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	sendJSON(t, conn, hello(false))
	w := readWelcome(t, conn)
	if _, err := uuid.Parse(w.SessionID); err != nil {
		t.Fatalf("session id %q: %v", w.SessionID, err)
	}
	if w.RunID != "run-x" || w.Params.Width != tune.Grid.Width || w.Cells == "" {
		t.Fatalf("welcome = %+v", w)
	}

	sendJSON(t, conn, map[string]any{
		"type": protocol.TypeAct, "protocol_version": protocol.Version,
		"staffing_action": 9, "layout_swap": []int{0, 0},
	})
	sendJSON(t, conn, protocol.ActMsg{
		Type: protocol.TypeAct, ProtocolVersion: protocol.Version,
		StaffingAction: protocol.StaffHireWorker,
	})

	var sawError, sawHire bool
	deadline := time.Now().Add(5 * time.Second)
	for !(sawError && sawHire) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out: error=%v hire=%v", sawError, sawHire)
		}
		_ = conn.SetReadDeadline(deadline)
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		switch base.Type {
		case protocol.TypeError:
			var em protocol.ErrorMsg
			_ = json.Unmarshal(b, &em)
			if em.Code != protocol.ErrProtoBadRequest {
				t.Fatalf("error code = %s", em.Code)
			}
			sawError = true
		case protocol.TypeObs:
			var om protocol.ObsMsg
			if err := json.Unmarshal(b, &om); err != nil {
				t.Fatalf("decode OBS: %v", err)
			}
			if om.Info.NumWorkers == tune.Staffing.InitialWorkers+1 {
				sawHire = true
			}
		default:
			t.Fatalf("unexpected message %s", base.Type)
		}
	}
}

type fakeDriver struct {
	mu      sync.Mutex
	out     chan []byte
	submits []warehouse.Action
	resets  []*int64
	unsubs  int
}

func (f *fakeDriver) Subscribe(ctx context.Context) (warehouse.Subscription, error) {
	return warehouse.Subscription{ID: 1, Out: f.out, Params: protocol.EnvParams{Width: 3}}, nil
}

func (f *fakeDriver) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs++
}

func (f *fakeDriver) Submit(a warehouse.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, a)
}

func (f *fakeDriver) RequestReset(seed *int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, seed)
}

func readError(t *testing.T, conn *websocket.Conn) protocol.ErrorMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var em protocol.ErrorMsg
	if err := conn.ReadJSON(&em); err != nil {
		t.Fatalf("read ERROR: %v", err)
	}
	if em.Type != protocol.TypeError {
		t.Fatalf("got %s, want ERROR", em.Type)
	}
	return em
}

func TestServer_ObserveOnlyRefusesActs(t *testing.T) {
	fd := &fakeDriver{out: make(chan []byte)}
	s, err := NewServer(fd, "run-y", nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	sendJSON(t, conn, hello(true))
	readWelcome(t, conn)

	sendJSON(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version})
	if em := readError(t, conn); em.Code != protocol.ErrBadRequest {
		t.Fatalf("code = %s", em.Code)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if len(fd.submits) != 0 {
		t.Fatalf("observe-only ACT reached the runner")
	}
}

func TestServer_ForwardsResetAndRejectsUnknownTypes(t *testing.T) {
	fd := &fakeDriver{out: make(chan []byte)}
	s, err := NewServer(fd, "run-z", nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	sendJSON(t, conn, hello(false))
	readWelcome(t, conn)

	seed := int64(77)
	sendJSON(t, conn, protocol.ResetMsg{Type: protocol.TypeReset, ProtocolVersion: protocol.Version, Seed: &seed})
	sendJSON(t, conn, map[string]any{"type": "DANCE", "protocol_version": protocol.Version})
	if em := readError(t, conn); em.Code != protocol.ErrProtoBadRequest || !strings.Contains(em.Message, "DANCE") {
		t.Fatalf("error = %+v", em)
	}

	// The RESET was read before DANCE on the same connection.
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if len(fd.resets) != 1 || fd.resets[0] == nil || *fd.resets[0] != 77 {
		t.Fatalf("resets = %v", fd.resets)
	}
}

func TestServer_RejectsBadHello(t *testing.T) {
	fd := &fakeDriver{out: make(chan []byte)}
	s, err := NewServer(fd, "run-w", nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	sendJSON(t, conn, map[string]any{"type": protocol.TypeAct, "protocol_version": protocol.Version})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err = %v, want policy violation close", err)
	}
}

func TestServer_PingsKeepSilentSessionsOpen(t *testing.T) {
	fd := &fakeDriver{out: make(chan []byte)}
	s, err := NewServer(fd, "run-p", nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	s.readTimeout = 200 * time.Millisecond
	s.pingPeriod = 50 * time.Millisecond
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	sendJSON(t, conn, hello(true))
	readWelcome(t, conn)

	// The client never writes; it only answers pings while it waits.
	go func() {
		time.Sleep(4 * s.readTimeout)
		select {
		case fd.out <- []byte(`{"type":"OBS"}`):
		case <-time.After(2 * time.Second):
		}
	}()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("session closed while idle: %v", err)
	}
	if string(msg) != `{"type":"OBS"}` {
		t.Fatalf("got %s", msg)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.unsubs != 0 {
		t.Fatalf("session unsubscribed while idle")
	}
}
