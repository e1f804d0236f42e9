package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a registered user.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Task is a to-do item owned by a user.
type Task struct {
	ID          int64
	Title       string
	Completed   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DueDate     *time.Time
	UserID      int64
	Attachments []Attachment
}

// Attachment is file metadata linked to a task. The file body lives in blob storage.
type Attachment struct {
	ID           int64
	TaskID       int64
	Filename     string // stored blob name
	OriginalName string
	MimeType     string
	Size         int64
	UploadedAt   time.Time
}

// TaskUpdate lists the fields to change. Nil fields are left untouched.
// ClearDueDate removes the due date and takes precedence over DueDate.
type TaskUpdate struct {
	Title        *string
	Completed    *bool
	DueDate      *time.Time
	ClearDueDate bool
}

// Empty reports whether the update changes nothing.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Completed == nil && u.DueDate == nil && !u.ClearDueDate
}

// TaskStats aggregates task counters for a user.
type TaskStats struct {
	Total     int
	Completed int
	Active    int
	Overdue   int
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// TaskStore handles task persistence.
type TaskStore interface {
	// CreateTask inserts a task and returns it as stored.
	CreateTask(ctx context.Context, userID int64, title string, dueDate *time.Time) (*Task, error)

	// GetTask retrieves a task with its attachments.
	GetTask(ctx context.Context, id int64) (*Task, error)

	// ListTasks lists the user's tasks, newest first.
	ListTasks(ctx context.Context, userID int64) ([]*Task, error)

	// SearchTasks lists the user's tasks whose title contains query.
	SearchTasks(ctx context.Context, userID int64, query string) ([]*Task, error)

	// UpdateTask applies the update and bumps updated_at.
	UpdateTask(ctx context.Context, id int64, upd TaskUpdate) (*Task, error)

	// DeleteTask removes the task and, by cascade, its attachments.
	DeleteTask(ctx context.Context, id int64) error

	// TaskStats counts the user's tasks. now is the reference time for overdue.
	TaskStats(ctx context.Context, userID int64, now time.Time) (*TaskStats, error)
}

// AttachmentStore handles attachment metadata persistence.
type AttachmentStore interface {
	// AddAttachment inserts attachment metadata.
	AddAttachment(ctx context.Context, att *Attachment) (*Attachment, error)

	// DeleteAttachment removes attachment metadata.
	DeleteAttachment(ctx context.Context, id int64) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	TaskStore
	AttachmentStore

	// Close closes the underlying database connection.
	Close() error
}
