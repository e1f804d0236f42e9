package core

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/wiretask-server/internal/store"
)

func TestRegistryAddMoveRemove(t *testing.T) {
	r := NewRegistry()
	a := NewConn("a", nil, 1)
	b := NewConn("b", nil, 1)

	r.Add(1, a)
	r.Add(1, b)
	r.Add(1, a) // no duplicates
	if got := r.Len(1); got != 2 {
		t.Fatalf("user 1 has %d conns, want 2", got)
	}

	r.Add(2, a)
	if r.Len(1) != 1 || r.Len(2) != 1 {
		t.Fatalf("after move: user1=%d user2=%d", r.Len(1), r.Len(2))
	}

	if !r.Remove(b) {
		t.Fatal("remove b reported not registered")
	}
	if r.Remove(b) {
		t.Fatal("second remove of b reported registered")
	}
	if r.Users() != 1 {
		t.Fatalf("users = %d, want 1 after user 1 lost its last conn", r.Users())
	}
	if conns := r.Connections(1); len(conns) != 0 {
		t.Fatalf("user 1 still has %d conns", len(conns))
	}
}

func TestHubBroadcastSkipsExcludedAndClosed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub := NewHub(HubOptions{})
	go hub.Run(ctx)

	user := &store.User{ID: 7, Username: "alice"}
	origin := NewConn("origin", &fakeTransport{}, 4)
	sibling := NewConn("sibling", &fakeTransport{}, 4)
	closed := NewConn("closed", &fakeTransport{}, 4)
	for _, c := range []*Conn{origin, sibling, closed} {
		if err := hub.Register(ctx, c); err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := hub.Bind(ctx, c, user, "tok"); err != nil {
			t.Fatalf("bind: %v", err)
		}
	}
	closed.Close("gone")

	if err := hub.Broadcast(ctx, user.ID, []byte(`{"type":"task_updated"}`), origin); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if f := recv(t, sibling); f.Type != "task_updated" {
		t.Fatalf("sibling got %+v", f)
	}
	expectSilence(t, origin)
	expectSilence(t, closed)
}

func TestHubBindRejectsUnregisteredConn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub := NewHub(HubOptions{})
	go hub.Run(ctx)

	c := NewConn("c", &fakeTransport{}, 1)
	if err := hub.Register(ctx, c); err != nil {
		t.Fatalf("register: %v", err)
	}
	hub.Unregister(c)

	if err := hub.Bind(ctx, c, &store.User{ID: 1}, "tok"); err != ErrConnClosed {
		t.Fatalf("bind after unregister: got %v, want ErrConnClosed", err)
	}
	if !c.Closed() {
		t.Fatal("unregister should close the connection")
	}

	stats, err := hub.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats != (HubStats{}) {
		t.Fatalf("stats = %+v, want empty", stats)
	}
}

func TestHubReapsUnresponsiveConnections(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hub := NewHub(HubOptions{Heartbeat: 20 * time.Millisecond})
	go hub.Run(ctx)

	live := &fakeTransport{responsive: true}
	dead := &fakeTransport{}
	liveConn := NewConn("live", live, 1)
	deadConn := NewConn("dead", dead, 1)

	user := &store.User{ID: 3, Username: "carol"}
	for _, c := range []*Conn{liveConn, deadConn} {
		if err := hub.Register(ctx, c); err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := hub.Bind(ctx, c, user, "tok"); err != nil {
			t.Fatalf("bind: %v", err)
		}
	}

	waitFor(t, "dead connection to be terminated", deadConn.Closed)

	if closed, reason := dead.closeReason(); !closed || reason != "heartbeat timeout" {
		t.Fatalf("dead transport closed=%v reason=%q", closed, reason)
	}

	// Let a few more intervals pass; the responsive connection must survive.
	time.Sleep(100 * time.Millisecond)
	if liveConn.Closed() {
		t.Fatal("responsive connection was terminated")
	}

	stats, err := hub.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Connections != 1 || stats.Authenticated != 1 || stats.Users != 1 {
		t.Fatalf("stats = %+v, want one live connection", stats)
	}
}

func TestHubShutdownClosesConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(HubOptions{})
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	tr := &fakeTransport{}
	c := NewConn("c", tr, 1)
	if err := hub.Register(context.Background(), c); err != nil {
		t.Fatalf("register: %v", err)
	}

	cancel()
	<-done

	if !c.Closed() {
		t.Fatal("connection still open after shutdown")
	}
	if err := hub.Broadcast(context.Background(), 1, []byte("{}"), nil); err != ErrHubStopped {
		t.Fatalf("broadcast after stop: got %v, want ErrHubStopped", err)
	}
}

type recordingRelay struct {
	userIDs chan int64
}

func (r *recordingRelay) Publish(_ context.Context, userID int64, _ []byte) error {
	r.userIDs <- userID
	return nil
}

func TestHubPublishesToRelayAndDeliversRemote(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	relay := &recordingRelay{userIDs: make(chan int64, 1)}
	hub := NewHub(HubOptions{Relay: relay})
	go hub.Run(ctx)

	c := NewConn("c", &fakeTransport{}, 2)
	if err := hub.Register(ctx, c); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := hub.Bind(ctx, c, &store.User{ID: 9}, "tok"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := hub.Broadcast(ctx, 9, []byte(`{"type":"task_updated"}`), c); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if got := <-relay.userIDs; got != 9 {
		t.Fatalf("relay got user %d, want 9", got)
	}
	expectSilence(t, c)

	// A frame from another node reaches every local connection.
	if err := hub.DeliverRemote(ctx, 9, []byte(`{"type":"task_updated"}`)); err != nil {
		t.Fatalf("deliver remote: %v", err)
	}
	if f := recv(t, c); f.Type != "task_updated" {
		t.Fatalf("remote push = %+v", f)
	}
}
