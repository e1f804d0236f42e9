package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/auth"
	"github.com/vovakirdan/wiretask-server/internal/config"
	"github.com/vovakirdan/wiretask-server/internal/core"
	"github.com/vovakirdan/wiretask-server/internal/files"
	"github.com/vovakirdan/wiretask-server/internal/metrics"
	"github.com/vovakirdan/wiretask-server/internal/service/tasks"
	"github.com/vovakirdan/wiretask-server/internal/store/sqlite"
)

type testServer struct {
	*httptest.Server
	hub  *core.Hub
	auth *auth.Service
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.NewMemory()
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := files.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create blob dir: %v", err)
	}

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.WS.HeartbeatInterval = 0

	disabledLogger := zerolog.New(nil)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})
	taskService := tasks.New(st, blobs, tasks.Limits{
		MaxFileSize:      cfg.Upload.MaxFileSize,
		AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
	}, &disabledLogger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := core.NewHub(core.HubOptions{Logger: &disabledLogger, Metrics: m})
	go hub.Run(ctx)

	dispatcher := core.NewDispatcher(hub, taskService, authService, core.DispatcherOptions{
		Logger:  &disabledLogger,
		Metrics: m,
	})

	server := NewServer(Deps{
		Hub:        hub,
		Dispatcher: dispatcher,
		Auth:       authService,
		Tasks:      taskService,
		Metrics:    m,
		Gatherer:   reg,
		Config:     &cfg,
		Logger:     &disabledLogger,
	})

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, hub: hub, auth: authService}
}

// register creates a user and returns its token.
func (ts *testServer) register(t *testing.T, username string) string {
	t.Helper()

	res, err := ts.auth.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	return res.Token
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, apiResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.send(t, req, token)
}

func (ts *testServer) send(t *testing.T, req *http.Request, token string) (int, apiResponse) {
	t.Helper()

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s response: %v", req.Method, req.URL.Path, err)
	}
	return resp.StatusCode, out
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type wsFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	MessageID json.RawMessage `json:"messageId"`
	Success   bool            `json:"success"`
	Error     string          `json:"error"`
}

func wsSend(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

func wsRead(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var f wsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return f
}

func wsCall(t *testing.T, conn *websocket.Conn, raw string) wsFrame {
	t.Helper()
	wsSend(t, conn, raw)
	return wsRead(t, conn)
}
