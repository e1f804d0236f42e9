package proto

import (
	"time"

	"github.com/vovakirdan/wiretask-server/internal/store"
)

// User is the public view of an account.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Attachment describes a file attached to a task.
type Attachment struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimetype"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Task is the wire form of a task. DueDate is null when unset.
type Task struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Completed   bool         `json:"completed"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	DueDate     *time.Time   `json:"dueDate"`
	UserID      int64        `json:"userId"`
	Attachments []Attachment `json:"attachments"`
}

// Stats summarizes a user's tasks.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Active    int `json:"active"`
	Overdue   int `json:"overdue"`
}

// AuthSuccess is the payload of auth_success and of REST auth responses.
type AuthSuccess struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// TasksPayload answers getTasks.
type TasksPayload struct {
	Tasks []Task `json:"tasks"`
	Stats Stats  `json:"stats"`
}

// TasksByStatusPayload answers getTasksByStatus.
type TasksByStatusPayload struct {
	Tasks     []Task `json:"tasks"`
	Completed bool   `json:"completed"`
	Stats     Stats  `json:"stats"`
}

// SearchPayload answers searchTasks.
type SearchPayload struct {
	Tasks []Task `json:"tasks"`
	Query string `json:"query"`
}

// DeletedPayload answers deleteTask.
type DeletedPayload struct {
	ID int64 `json:"id"`
}

// PushPayload is carried by task_updated pushes. Task is the full task; for
// deleted it is the task as it was before removal.
type PushPayload struct {
	Action string `json:"action"`
	Task   any    `json:"task"`
}

// UserFromStore converts a stored user, dropping the password hash.
func UserFromStore(u *store.User) User {
	return User{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
}

// TaskFromStore converts a stored task.
func TaskFromStore(t *store.Task) Task {
	out := Task{
		ID:          t.ID,
		Title:       t.Title,
		Completed:   t.Completed,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		DueDate:     t.DueDate,
		UserID:      t.UserID,
		Attachments: make([]Attachment, 0, len(t.Attachments)),
	}
	for _, a := range t.Attachments {
		out.Attachments = append(out.Attachments, AttachmentFromStore(&a))
	}
	return out
}

// TasksFromStore converts a list, always returning a non-nil slice.
func TasksFromStore(ts []*store.Task) []Task {
	out := make([]Task, 0, len(ts))
	for _, t := range ts {
		out = append(out, TaskFromStore(t))
	}
	return out
}

func AttachmentFromStore(a *store.Attachment) Attachment {
	return Attachment{
		ID:           a.ID,
		Filename:     a.Filename,
		OriginalName: a.OriginalName,
		MimeType:     a.MimeType,
		Size:         a.Size,
		UploadedAt:   a.UploadedAt,
	}
}

func StatsFromStore(s *store.TaskStats) Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{Total: s.Total, Completed: s.Completed, Active: s.Active, Overdue: s.Overdue}
}
