package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
)

func TestWebSocketRequiresAuthAndAnswersPing(t *testing.T) {
	ts := startTestServer(t)
	conn := ts.dial(t)

	pong := wsCall(t, conn, `{"type":"ping","messageId":1}`)
	if pong.Type != "pong" || string(pong.MessageID) != "1" || string(pong.Data) != "null" {
		t.Fatalf("unexpected pong: %+v", pong)
	}

	denied := wsCall(t, conn, `{"type":"getTasks","messageId":"abc"}`)
	if denied.Type != "error" || denied.Error != "Требуется аутентификация" || string(denied.MessageID) != `"abc"` {
		t.Fatalf("unexpected reply: %+v", denied)
	}

	bad := wsCall(t, conn, `{not json`)
	if bad.Error != "Неверный формат сообщения" || len(bad.MessageID) != 0 {
		t.Fatalf("malformed frame reply: %+v", bad)
	}

	// The connection survives protocol errors.
	if again := wsCall(t, conn, `{"type":"ping"}`); again.Type != "pong" {
		t.Fatalf("connection unusable after errors: %+v", again)
	}
}

func TestWebSocketSiblingPush(t *testing.T) {
	ts := startTestServer(t)
	token := ts.register(t, "alice")

	a := ts.dial(t)
	b := ts.dial(t)
	authA := wsCall(t, a, `{"type":"auth","data":{"action":"verify","token":"`+token+`"}}`)
	if authA.Type != "auth_success" {
		t.Fatalf("auth a: %+v", authA)
	}
	authB := wsCall(t, b, `{"type":"auth","data":{"action":"login","username":"alice","password":"password123"}}`)
	if authB.Type != "auth_success" {
		t.Fatalf("auth b: %+v", authB)
	}

	created := wsCall(t, a, `{"type":"createTask","data":{"title":"Buy milk","dueDate":null},"messageId":42}`)
	if created.Type != "task_created" || string(created.MessageID) != "42" {
		t.Fatalf("create reply: %+v", created)
	}

	push := wsRead(t, b)
	if push.Type != "task_updated" || !strings.Contains(string(push.Data), `"action":"created"`) {
		t.Fatalf("sibling push: %+v", push)
	}

	// A's next frame is the reply to its own next request, not a push.
	if pong := wsCall(t, a, `{"type":"ping"}`); pong.Type != "pong" {
		t.Fatalf("originator received an extra frame: %+v", pong)
	}
}

func TestRESTMutationPushesToAllConnections(t *testing.T) {
	ts := startTestServer(t)
	token := ts.register(t, "alice")

	conn := ts.dial(t)
	if reply := wsCall(t, conn, `{"type":"auth","data":{"action":"verify","token":"`+token+`"}}`); reply.Type != "auth_success" {
		t.Fatalf("auth: %+v", reply)
	}

	status, body := ts.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": "from REST"})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %+v", status, body)
	}

	push := wsRead(t, conn)
	var payload struct {
		Action string `json:"action"`
		Task   struct {
			Title string `json:"title"`
		} `json:"task"`
	}
	if err := json.Unmarshal(push.Data, &payload); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if push.Type != "task_updated" || payload.Action != "created" || payload.Task.Title != "from REST" {
		t.Fatalf("unexpected push: %+v", push)
	}

	list := wsCall(t, conn, `{"type":"getTasks"}`)
	if list.Type != "tasks" || !strings.Contains(string(list.Data), "from REST") {
		t.Fatalf("getTasks: %s", list.Data)
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body.Data, &created); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	status, body = ts.do(t, http.MethodDelete, "/api/tasks/"+strconv.FormatInt(created.ID, 10), token, nil)
	if status != http.StatusOK {
		t.Fatalf("delete: %d %+v", status, body)
	}

	push = wsRead(t, conn)
	if err := json.Unmarshal(push.Data, &payload); err != nil {
		t.Fatalf("decode delete push: %v", err)
	}
	if payload.Action != "deleted" || payload.Task.Title != "from REST" {
		t.Fatalf("delete push should carry the removed task: %s", push.Data)
	}
}
