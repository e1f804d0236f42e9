package core

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/wiretask-server/internal/proto"
)

// Request is a decoded inbound message. The set of implementations is closed;
// Dispatcher.Handle switches over all of them.
type Request interface {
	// MessageID returns the raw correlation id, or nil when the client sent none.
	MessageID() json.RawMessage
	request()
}

type envelope struct {
	id json.RawMessage
}

func (e envelope) MessageID() json.RawMessage { return e.id }
func (envelope) request()                    {}

type AuthRequest struct {
	envelope
	Action   string
	Username string
	Password string
	Token    string
}

type GetTasksRequest struct{ envelope }

type GetTasksByStatusRequest struct {
	envelope
	Completed bool
}

type CreateTaskRequest struct {
	envelope
	Title   string
	DueDate string
}

// UpdateTaskRequest carries a partial update. A DueDate pointing at ""
// clears the due date.
type UpdateTaskRequest struct {
	envelope
	ID        int64
	Title     *string
	Completed *bool
	DueDate   *string
}

type ToggleTaskRequest struct {
	envelope
	ID int64
}

type DeleteTaskRequest struct {
	envelope
	ID int64
}

type SearchTasksRequest struct {
	envelope
	Query string
}

type GetStatsRequest struct{ envelope }

type PingRequest struct{ envelope }

// UnknownRequest is any message whose type is not recognized.
type UnknownRequest struct {
	envelope
	Type string
}

// ParseRequest maps a decoded envelope onto its Request variant.
// Payload errors are returned together with a request that still carries
// the message id, so the caller can correlate the error reply.
func ParseRequest(in proto.Inbound) (Request, error) {
	env := envelope{id: in.MessageID}

	switch in.Type {
	case proto.TypeAuth:
		var d proto.AuthData
		if err := in.DecodeData(&d); err != nil {
			return UnknownRequest{envelope: env, Type: in.Type}, payloadError(in.Type, err)
		}
		return AuthRequest{envelope: env, Action: d.Action, Username: d.Username, Password: d.Password, Token: d.Token}, nil

	case proto.TypeGetTasks:
		return GetTasksRequest{env}, nil

	case proto.TypeGetTasksByStatus:
		var d proto.StatusData
		if err := in.DecodeData(&d); err != nil {
			return UnknownRequest{envelope: env, Type: in.Type}, payloadError(in.Type, err)
		}
		return GetTasksByStatusRequest{envelope: env, Completed: d.Completed}, nil

	case proto.TypeCreateTask:
		var d proto.CreateTaskData
		if err := in.DecodeData(&d); err != nil {
			return UnknownRequest{envelope: env, Type: in.Type}, payloadError(in.Type, err)
		}
		req := CreateTaskRequest{envelope: env, Title: d.Title}
		if d.DueDate != nil {
			req.DueDate = *d.DueDate
		}
		return req, nil

	case proto.TypeUpdateTask:
		var d proto.UpdateTaskData
		if err := in.DecodeData(&d); err != nil {
			return UnknownRequest{envelope: env, Type: in.Type}, payloadError(in.Type, err)
		}
		req := UpdateTaskRequest{
			envelope:  env,
			ID:        int64(d.ID),
			Title:     d.Updates.Title,
			Completed: d.Updates.Completed,
		}
		due, err := d.Updates.DueDatePatch()
		if err != nil {
			return UnknownRequest{envelope: env, Type: in.Type}, payloadError(in.Type, err)
		}
		req.DueDate = due
		return req, nil

	case proto.TypeToggleTask:
		var d proto.TaskIDData
		if err := in.DecodeData(&d); err != nil {
			return UnknownRequest{envelope: env, Type: in.Type}, payloadError(in.Type, err)
		}
		return ToggleTaskRequest{envelope: env, ID: int64(d.ID)}, nil

	case proto.TypeDeleteTask:
		var d proto.TaskIDData
		if err := in.DecodeData(&d); err != nil {
			return UnknownRequest{envelope: env, Type: in.Type}, payloadError(in.Type, err)
		}
		return DeleteTaskRequest{envelope: env, ID: int64(d.ID)}, nil

	case proto.TypeSearchTasks:
		var d proto.SearchData
		if err := in.DecodeData(&d); err != nil {
			return UnknownRequest{envelope: env, Type: in.Type}, payloadError(in.Type, err)
		}
		return SearchTasksRequest{envelope: env, Query: d.Query}, nil

	case proto.TypeGetStats:
		return GetStatsRequest{env}, nil

	case proto.TypePing:
		return PingRequest{env}, nil
	}

	return UnknownRequest{envelope: env, Type: in.Type}, nil
}

func payloadError(typ string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBadPayload, typ, err)
}
