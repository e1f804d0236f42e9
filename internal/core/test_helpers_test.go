package core

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wiretask-server/internal/auth"
	"github.com/vovakirdan/wiretask-server/internal/service/tasks"
	"github.com/vovakirdan/wiretask-server/internal/store/sqlite"
)

// fakeTransport answers pings when responsive is set, otherwise pings hang
// until their context ends.
type fakeTransport struct {
	mu         sync.Mutex
	responsive bool
	pings      int
	closed     bool
	reason     string
}

func (f *fakeTransport) Ping(ctx context.Context) error {
	f.mu.Lock()
	f.pings++
	responsive := f.responsive
	f.mu.Unlock()

	if responsive {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) Close(reason string) {
	f.mu.Lock()
	f.closed = true
	f.reason = reason
	f.mu.Unlock()
}

func (f *fakeTransport) closeReason() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.reason
}

// frame is a decoded outbound message.
type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	MessageID json.RawMessage `json:"messageId"`
	Success   bool            `json:"success"`
	Error     string          `json:"error"`
}

func recv(t *testing.T, c *Conn) frame {
	t.Helper()

	select {
	case raw := <-c.Outbound():
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("decode outbound %s: %v", raw, err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for conn %s", c.ID)
		return frame{}
	}
}

func expectSilence(t *testing.T, c *Conn) {
	t.Helper()

	select {
	case raw := <-c.Outbound():
		t.Fatalf("unexpected frame for conn %s: %s", c.ID, raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type testEnv struct {
	ctx        context.Context
	hub        *Hub
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T, hubOpts HubOptions, dispOpts DispatcherOptions) *testEnv {
	t.Helper()

	st, err := sqlite.NewMemory()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authSvc := auth.NewService(st, &auth.JWTConfig{
		Secret: []byte("test-secret"),
		Issuer: "test",
		TTL:    time.Hour,
	})
	taskSvc := tasks.New(st, nil, tasks.Limits{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(hubOpts)
	go hub.Run(ctx)

	return &testEnv{
		ctx:        ctx,
		hub:        hub,
		dispatcher: NewDispatcher(hub, taskSvc, authSvc, dispOpts),
	}
}

func (e *testEnv) connect(t *testing.T) (*Conn, *fakeTransport) {
	t.Helper()

	tr := &fakeTransport{responsive: true}
	c := NewConn(uuid.NewString(), tr, 16)
	if err := e.hub.Register(e.ctx, c); err != nil {
		t.Fatalf("register: %v", err)
	}
	return c, tr
}

// call handles raw on c and returns the reply.
func (e *testEnv) call(t *testing.T, c *Conn, raw string) frame {
	t.Helper()
	e.dispatcher.Handle(e.ctx, c, []byte(raw))
	return recv(t, c)
}

func (e *testEnv) authenticate(t *testing.T, c *Conn, action, username string) {
	t.Helper()

	reply := e.call(t, c, `{"type":"auth","data":{"action":"`+action+`","username":"`+username+`","password":"secret1"}}`)
	if reply.Type != "auth_success" {
		t.Fatalf("auth %s %s: %+v", action, username, reply)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func contains(data json.RawMessage, sub string) bool { return strings.Contains(string(data), sub) }
