package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/wiretask-server/internal/proto"
)

func call[T any](ctx context.Context, c *Client, typ string, data any) (*T, error) {
	raw, err := c.Call(ctx, typ, data)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", typ, err)
	}
	return &out, nil
}

// Login authenticates the connection with a username and password.
func (c *Client) Login(ctx context.Context, username, password string) (*proto.AuthSuccess, error) {
	return call[proto.AuthSuccess](ctx, c, proto.TypeAuth, proto.AuthData{
		Action: proto.AuthLogin, Username: username, Password: password,
	})
}

// Register creates an account and authenticates the connection.
func (c *Client) Register(ctx context.Context, username, password string) (*proto.AuthSuccess, error) {
	return call[proto.AuthSuccess](ctx, c, proto.TypeAuth, proto.AuthData{
		Action: proto.AuthRegister, Username: username, Password: password,
	})
}

// Verify authenticates the connection with an existing token.
func (c *Client) Verify(ctx context.Context, token string) (*proto.AuthSuccess, error) {
	return call[proto.AuthSuccess](ctx, c, proto.TypeAuth, proto.AuthData{
		Action: proto.AuthVerify, Token: token,
	})
}

func (c *Client) GetTasks(ctx context.Context) (*proto.TasksPayload, error) {
	return call[proto.TasksPayload](ctx, c, proto.TypeGetTasks, nil)
}

func (c *Client) GetTasksByStatus(ctx context.Context, completed bool) (*proto.TasksByStatusPayload, error) {
	return call[proto.TasksByStatusPayload](ctx, c, proto.TypeGetTasksByStatus, proto.StatusData{Completed: completed})
}

// CreateTask creates a task. An empty dueDate means none.
func (c *Client) CreateTask(ctx context.Context, title, dueDate string) (*proto.Task, error) {
	data := proto.CreateTaskData{Title: title}
	if dueDate != "" {
		data.DueDate = &dueDate
	}
	return call[proto.Task](ctx, c, proto.TypeCreateTask, data)
}

func (c *Client) UpdateTask(ctx context.Context, id int64, updates proto.TaskUpdates) (*proto.Task, error) {
	return call[proto.Task](ctx, c, proto.TypeUpdateTask, proto.UpdateTaskData{ID: proto.ID(id), Updates: updates})
}

func (c *Client) ToggleTask(ctx context.Context, id int64) (*proto.Task, error) {
	return call[proto.Task](ctx, c, proto.TypeToggleTask, proto.TaskIDData{ID: proto.ID(id)})
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	_, err := c.Call(ctx, proto.TypeDeleteTask, proto.TaskIDData{ID: proto.ID(id)})
	return err
}

func (c *Client) SearchTasks(ctx context.Context, query string) (*proto.SearchPayload, error) {
	return call[proto.SearchPayload](ctx, c, proto.TypeSearchTasks, proto.SearchData{Query: query})
}

func (c *Client) GetStats(ctx context.Context) (*proto.Stats, error) {
	return call[proto.Stats](ctx, c, proto.TypeGetStats, nil)
}

// Ping round-trips an application-level ping.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, proto.TypePing, nil)
	return err
}
