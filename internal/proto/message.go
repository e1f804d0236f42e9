package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Inbound is the envelope for messages coming from the client.
// MessageID is kept raw so that it is echoed with its original JSON type.
type Inbound struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	MessageID json.RawMessage `json:"messageId,omitempty"`
}

// Inbound message types.
const (
	TypeAuth             = "auth"
	TypeGetTasks         = "getTasks"
	TypeGetTasksByStatus = "getTasksByStatus"
	TypeCreateTask       = "createTask"
	TypeUpdateTask       = "updateTask"
	TypeToggleTask       = "toggleTask"
	TypeDeleteTask       = "deleteTask"
	TypeSearchTasks      = "searchTasks"
	TypeGetStats         = "getStats"
	TypePing             = "ping"
)

// Outbound message types.
const (
	TypeAuthSuccess   = "auth_success"
	TypeTasks         = "tasks"
	TypeTasksByStatus = "tasksByStatus"
	TypeTaskCreated   = "task_created"
	TypeTaskUpdated   = "task_updated"
	TypeTaskDeleted   = "task_deleted"
	TypeSearchResults = "search_results"
	TypeStats         = "stats"
	TypePong          = "pong"
	TypeError         = "error"
)

// Push actions carried by task_updated notifications.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionToggled = "toggled"
	ActionDeleted = "deleted"
)

// Auth actions.
const (
	AuthLogin    = "login"
	AuthRegister = "register"
	AuthVerify   = "verify"
)

// Response is a successful reply or a push. Data is always present on the wire.
type Response struct {
	Type      string          `json:"type"`
	Data      any             `json:"data"`
	MessageID json.RawMessage `json:"messageId,omitempty"`
	Success   bool            `json:"success"`
}

// ErrorResponse reports a failed request.
type ErrorResponse struct {
	Type      string          `json:"type"`
	Error     string          `json:"error"`
	MessageID json.RawMessage `json:"messageId,omitempty"`
	Success   bool            `json:"success"`
}

// Decode parses a raw frame into an envelope. The frame must be a JSON object.
func Decode(frame []byte) (Inbound, error) {
	if trimmed := bytes.TrimSpace(frame); len(trimmed) == 0 || trimmed[0] != '{' {
		return Inbound{}, errors.New("decode envelope: not a JSON object")
	}
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return Inbound{}, fmt.Errorf("decode envelope: %w", err)
	}
	return in, nil
}

// DecodeData unmarshals the envelope payload. A missing or null payload
// leaves v at its zero value.
func (in Inbound) DecodeData(v any) error {
	if len(in.Data) == 0 || bytes.Equal(in.Data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(in.Data, v)
}

// EncodeResponse serializes a success reply.
func EncodeResponse(typ string, data any, messageID json.RawMessage) ([]byte, error) {
	return json.Marshal(Response{Type: typ, Data: data, MessageID: messageID, Success: true})
}

// EncodePush serializes an unsolicited notification. Pushes never carry a messageId.
func EncodePush(typ string, data any) ([]byte, error) {
	return json.Marshal(Response{Type: typ, Data: data, Success: true})
}

// EncodeError serializes an error reply.
func EncodeError(msg string, messageID json.RawMessage) []byte {
	// Marshalling a struct of strings cannot fail.
	b, _ := json.Marshal(ErrorResponse{Type: TypeError, Error: msg, MessageID: messageID})
	return b
}

// ID is a task or attachment identifier. Clients send it either as a
// JSON number or as a numeric string.
type ID int64

// UnmarshalJSON accepts 42 and "42".
func (id *ID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if errS := json.Unmarshal(b, &s); errS != nil {
			return fmt.Errorf("invalid id %s", b)
		}
		n = json.Number(s)
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", b)
	}
	*id = ID(v)
	return nil
}

// AuthData is the payload of an auth request.
type AuthData struct {
	Action   string `json:"action"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// CreateTaskData is the payload of a createTask request.
type CreateTaskData struct {
	Title   string  `json:"title"`
	DueDate *string `json:"dueDate,omitempty"`
}

// TaskIDData identifies a task.
type TaskIDData struct {
	ID ID `json:"id"`
}

// TaskUpdates lists fields to change. DueDate distinguishes absent
// (len 0) from explicit null, which clears the due date.
type TaskUpdates struct {
	Title     *string         `json:"title,omitempty"`
	Completed *bool           `json:"completed,omitempty"`
	DueDate   json.RawMessage `json:"dueDate,omitempty"`
}

// DueDatePatch reports the requested due date change: nil when absent,
// "" when null or empty (clear), the raw string otherwise.
func (u TaskUpdates) DueDatePatch() (*string, error) {
	if len(u.DueDate) == 0 {
		return nil, nil
	}
	var s *string
	if err := json.Unmarshal(u.DueDate, &s); err != nil {
		return nil, fmt.Errorf("invalid dueDate: %w", err)
	}
	if s == nil {
		empty := ""
		return &empty, nil
	}
	return s, nil
}

// UpdateTaskData is the payload of an updateTask request.
type UpdateTaskData struct {
	ID      ID          `json:"id"`
	Updates TaskUpdates `json:"updates"`
}

// StatusData selects tasks by completion state.
type StatusData struct {
	Completed bool `json:"completed"`
}

// SearchData is the payload of a searchTasks request.
type SearchData struct {
	Query string `json:"query"`
}
