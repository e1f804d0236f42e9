package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers "ping" immediately, replies to "slow" after 200ms and
// sends a push before answering "push".
func fakeServer(t *testing.T) string {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		var writeMu sync.Mutex
		write := func(v any) {
			b, _ := json.Marshal(v)
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.Write(ctx, websocket.MessageText, b)
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var in struct {
				Type      string          `json:"type"`
				MessageID json.RawMessage `json:"messageId"`
			}
			_ = json.Unmarshal(data, &in)

			switch in.Type {
			case "slow":
				go func(id json.RawMessage) {
					time.Sleep(200 * time.Millisecond)
					write(map[string]any{"type": "pong", "data": nil, "messageId": id, "success": true})
				}(in.MessageID)
			case "push":
				write(map[string]any{"type": "task_updated", "data": map[string]any{"action": "deleted", "task": map[string]any{"id": 5}}, "success": true})
				write(map[string]any{"type": "pong", "data": nil, "messageId": in.MessageID, "success": true})
			case "ping":
				write(map[string]any{"type": "pong", "data": nil, "messageId": in.MessageID, "success": true})
			default:
				write(map[string]any{"type": "error", "error": "Неизвестный тип сообщения", "messageId": in.MessageID, "success": false})
			}
		}
	}))
	t.Cleanup(ts.Close)

	return strings.Replace(ts.URL, "http", "ws", 1)
}

func TestCallCorrelatesReplies(t *testing.T) {
	ctx := context.Background()
	c, err := Dial(ctx, fakeServer(t), Options{})
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Ping(ctx))
		}()
	}
	wg.Wait()

	_, err = c.Call(ctx, "bogus", nil)
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "Неизвестный тип сообщения", serverErr.Message)
}

func TestCallTimesOutAndDropsLateReply(t *testing.T) {
	ctx := context.Background()
	c, err := Dial(ctx, fakeServer(t), Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(ctx, "slow", nil)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "Таймаут запроса", err.Error())

	// The late reply arrives while this call is pending and must not satisfy it.
	time.Sleep(250 * time.Millisecond)
	require.NoError(t, c.Ping(ctx))

	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}

func TestPushesGoToHandler(t *testing.T) {
	ctx := context.Background()
	pushes := make(chan Push, 1)
	c, err := Dial(ctx, fakeServer(t), Options{OnPush: func(p Push) { pushes <- p }})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(ctx, "push", nil)
	require.NoError(t, err)

	select {
	case p := <-pushes:
		assert.Equal(t, "deleted", p.Action)
		assert.JSONEq(t, `{"id":5}`, string(p.Task))
	case <-time.After(2 * time.Second):
		t.Fatal("push not delivered")
	}
}

func TestCallAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	c, err := Dial(ctx, fakeServer(t), Options{})
	require.NoError(t, err)
	_ = c.Close()

	_, err = c.Call(ctx, "ping", nil)
	assert.Error(t, err)
}
