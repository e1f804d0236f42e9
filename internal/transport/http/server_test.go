package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/health", "", nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("unexpected health response: %d %+v", status, body)
	}
	if !strings.Contains(string(body.Data), `"status":"healthy"`) {
		t.Fatalf("unexpected health data: %s", body.Data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := startTestServer(t)
	ts.do(t, http.MethodGet, "/health", "", nil)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "wiretask_http_requests_total") {
		t.Fatalf("metrics output missing request counter:\n%s", raw)
	}
}

func TestAuthEndpoints(t *testing.T) {
	ts := startTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "password": "password123",
	})
	if status != http.StatusCreated {
		t.Fatalf("register: %d %+v", status, body)
	}
	var created struct {
		Token string `json:"token"`
		User  struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body.Data, &created); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	if created.Token == "" || created.User.Username != "alice" {
		t.Fatalf("unexpected register data: %s", body.Data)
	}

	status, body = ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "password": "password123",
	})
	if status != http.StatusConflict || body.Success {
		t.Fatalf("duplicate register: %d %+v", status, body)
	}

	status, _ = ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "bob"})
	if status != http.StatusBadRequest {
		t.Fatalf("missing password: %d", status)
	}

	status, body = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong-password",
	})
	if status != http.StatusUnauthorized || body.Message != "Неверное имя пользователя или пароль" {
		t.Fatalf("bad login: %d %+v", status, body)
	}

	status, body = ts.do(t, http.MethodGet, "/api/auth/me", created.Token, nil)
	if status != http.StatusOK || !strings.Contains(string(body.Data), `"username":"alice"`) {
		t.Fatalf("me: %d %+v", status, body)
	}
	if strings.Contains(string(body.Data), "password") {
		t.Fatalf("me leaks password hash: %s", body.Data)
	}

	status, _ = ts.do(t, http.MethodGet, "/api/auth/me", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("me without token: %d", status)
	}
	status, _ = ts.do(t, http.MethodGet, "/api/auth/me", "garbage", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("me with garbage token: %d", status)
	}

	status, _ = ts.do(t, http.MethodPost, "/api/auth/verify", "", map[string]string{"token": created.Token})
	if status != http.StatusOK {
		t.Fatalf("verify: %d", status)
	}
}

func TestTaskRoutes(t *testing.T) {
	ts := startTestServer(t)
	token := ts.register(t, "alice")
	other := ts.register(t, "mallory")

	status, body := ts.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": "Buy milk"})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %+v", status, body)
	}
	var task struct {
		ID        int64 `json:"id"`
		Completed bool  `json:"completed"`
	}
	if err := json.Unmarshal(body.Data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	id := strconv.FormatInt(task.ID, 10)

	status, body = ts.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": ""})
	if status != http.StatusBadRequest || body.Message != "Название задачи обязательно" {
		t.Fatalf("empty title: %d %+v", status, body)
	}

	status, _ = ts.do(t, http.MethodGet, "/api/tasks/"+id, other, nil)
	if status != http.StatusNotFound {
		t.Fatalf("foreign task visible: %d", status)
	}

	status, body = ts.do(t, http.MethodPatch, "/api/tasks/"+id+"/toggle", token, nil)
	if status != http.StatusOK || !strings.Contains(string(body.Data), `"completed":true`) {
		t.Fatalf("toggle: %d %s", status, body.Data)
	}

	status, body = ts.do(t, http.MethodPut, "/api/tasks/"+id, token, map[string]any{"title": "Buy oat milk", "dueDate": nil})
	if status != http.StatusOK || !strings.Contains(string(body.Data), `"dueDate":null`) {
		t.Fatalf("update: %d %s", status, body.Data)
	}

	status, body = ts.do(t, http.MethodGet, "/api/tasks/status/completed", token, nil)
	if status != http.StatusOK || !strings.Contains(string(body.Data), "Buy oat milk") {
		t.Fatalf("by status: %d %s", status, body.Data)
	}
	status, _ = ts.do(t, http.MethodGet, "/api/tasks/status/archived", token, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad status filter: %d", status)
	}

	status, body = ts.do(t, http.MethodGet, "/api/tasks/search?q=oat", token, nil)
	if status != http.StatusOK || !strings.Contains(string(body.Data), `"query":"oat"`) {
		t.Fatalf("search: %d %s", status, body.Data)
	}

	status, body = ts.do(t, http.MethodGet, "/api/tasks/stats", token, nil)
	if status != http.StatusOK || string(body.Data) != `{"total":1,"completed":1,"active":0,"overdue":0}` {
		t.Fatalf("stats: %d %s", status, body.Data)
	}

	status, _ = ts.do(t, http.MethodDelete, "/api/tasks/"+id, token, nil)
	if status != http.StatusOK {
		t.Fatalf("delete: %d", status)
	}
	status, _ = ts.do(t, http.MethodGet, "/api/tasks/"+id, token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("get after delete: %d", status)
	}
	status, _ = ts.do(t, http.MethodGet, "/api/tasks/not-a-number", token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("bad id: %d", status)
	}
}

func TestDueSoonDefaultsToThreeDays(t *testing.T) {
	ts := startTestServer(t)
	token := ts.register(t, "alice")

	due := time.Now().AddDate(0, 0, 5).Format(time.DateOnly)
	status, body := ts.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": "in five days", "dueDate": due})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %+v", status, body)
	}

	status, body = ts.do(t, http.MethodGet, "/api/tasks/due-soon", token, nil)
	if status != http.StatusOK || strings.Contains(string(body.Data), "in five days") {
		t.Fatalf("default window: %d %s", status, body.Data)
	}

	status, body = ts.do(t, http.MethodGet, "/api/tasks/due-soon?days=7", token, nil)
	if status != http.StatusOK || !strings.Contains(string(body.Data), "in five days") {
		t.Fatalf("7 day window: %d %s", status, body.Data)
	}
}

func TestUploadDownloadAndDeleteFile(t *testing.T) {
	ts := startTestServer(t)
	token := ts.register(t, "alice")

	_, body := ts.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": "with file"})
	var task struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body.Data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	base := "/api/tasks/" + strconv.FormatInt(task.ID, 10)

	upload := func(name, contentType, content string) (int, apiResponse) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		header.Set("Content-Type", contentType)
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write([]byte(content))
		_ = mw.Close()

		req, err := http.NewRequest(http.MethodPost, ts.URL+base+"/upload", &buf)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return ts.send(t, req, token)
	}

	status, body := upload("virus.exe", "application/x-msdownload", "MZ")
	if status != http.StatusBadRequest || body.Message != "Недопустимый тип файла" {
		t.Fatalf("disallowed type: %d %+v", status, body)
	}

	status, body = upload("notes.txt", "text/plain", "remember the milk")
	if status != http.StatusOK {
		t.Fatalf("upload: %d %+v", status, body)
	}
	var att struct {
		ID           int64  `json:"id"`
		OriginalName string `json:"originalName"`
	}
	if err := json.Unmarshal(body.Data, &att); err != nil {
		t.Fatalf("decode attachment: %v", err)
	}
	if att.OriginalName != "notes.txt" {
		t.Fatalf("unexpected attachment: %s", body.Data)
	}
	fileURL := base + "/files/" + strconv.FormatInt(att.ID, 10)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+fileURL+"/download", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	content, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(content) != "remember the milk" {
		t.Fatalf("download: %d %q", resp.StatusCode, content)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "notes.txt") {
		t.Fatalf("content disposition = %q", cd)
	}

	status, _ = ts.do(t, http.MethodDelete, fileURL, token, nil)
	if status != http.StatusOK {
		t.Fatalf("delete file: %d", status)
	}
	status, _ = ts.do(t, http.MethodDelete, fileURL, token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("delete file twice: %d", status)
	}
}
