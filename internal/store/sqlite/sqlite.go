package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wiretask-server/internal/store"
)

//go:embed schema.sql
var schema string

// timeLayout is how timestamps are written. A single UTC layout keeps
// lexical and chronological order identical for due date comparisons.
const timeLayout = "2006-01-02 15:04:05"

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Run setup function (e.g., apply schema)
	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewMemory opens an in-memory store with the schema applied.
func NewMemory() (*SQLiteStore, error) {
	return NewWithSetup(":memory:", ApplySchema)
}

// ApplySchema creates the tables if they do not exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Migrate applies the embedded schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, created_at)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash, formatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== TaskStore implementation ====

// taskSelect reads tasks together with their attachments folded into a JSON array.
const taskSelect = `
	SELECT
		t.id, t.title, t.completed, t.created_at, t.updated_at, t.due_date, t.user_id,
		COALESCE(json_group_array(json_object(
			'id', a.id,
			'filename', a.filename,
			'original_name', a.original_name,
			'mimetype', a.mimetype,
			'size', a.size,
			'uploaded_at', a.uploaded_at
		)) FILTER (WHERE a.id IS NOT NULL), '[]') AS attachments_json
	FROM tasks t
	LEFT JOIN attachments a ON a.task_id = t.id
`

type attachmentRow struct {
	ID           int64  `json:"id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	UploadedAt   string `json:"uploaded_at"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*store.Task, error) {
	var (
		task     store.Task
		dueDate  sql.NullTime
		attsJSON string
	)
	if err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Completed,
		&task.CreatedAt,
		&task.UpdatedAt,
		&dueDate,
		&task.UserID,
		&attsJSON,
	); err != nil {
		return nil, err
	}
	if dueDate.Valid {
		due := dueDate.Time.UTC()
		task.DueDate = &due
	}

	var rows []attachmentRow
	if err := json.Unmarshal([]byte(attsJSON), &rows); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	task.Attachments = make([]store.Attachment, 0, len(rows))
	for _, r := range rows {
		uploaded, err := time.Parse(timeLayout, r.UploadedAt)
		if err != nil {
			return nil, fmt.Errorf("parse uploaded_at: %w", err)
		}
		task.Attachments = append(task.Attachments, store.Attachment{
			ID:           r.ID,
			TaskID:       task.ID,
			Filename:     r.Filename,
			OriginalName: r.OriginalName,
			MimeType:     r.MimeType,
			Size:         r.Size,
			UploadedAt:   uploaded,
		})
	}

	return &task, nil
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*store.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*store.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// CreateTask inserts a task and returns it as stored.
func (s *SQLiteStore) CreateTask(ctx context.Context, userID int64, title string, dueDate *time.Time) (*store.Task, error) {
	now := formatTime(time.Now())
	query := `
		INSERT INTO tasks (title, completed, created_at, updated_at, due_date, user_id)
		VALUES (?, 0, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, title, now, now, nullableTime(dueDate), userID)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetTask(ctx, id)
}

// GetTask retrieves a task with its attachments.
func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*store.Task, error) {
	query := taskSelect + `
		WHERE t.id = ?
		GROUP BY t.id
	`
	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks lists the user's tasks, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, userID int64) ([]*store.Task, error) {
	query := taskSelect + `
		WHERE t.user_id = ?
		GROUP BY t.id
		ORDER BY t.created_at DESC, t.id DESC
	`
	return s.queryTasks(ctx, query, userID)
}

// SearchTasks lists the user's tasks whose title contains query.
func (s *SQLiteStore) SearchTasks(ctx context.Context, userID int64, q string) ([]*store.Task, error) {
	query := taskSelect + `
		WHERE t.user_id = ? AND t.title LIKE ? ESCAPE '\'
		GROUP BY t.id
		ORDER BY t.created_at DESC, t.id DESC
	`
	return s.queryTasks(ctx, query, userID, "%"+escapeLike(q)+"%")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// UpdateTask applies the update and bumps updated_at.
func (s *SQLiteStore) UpdateTask(ctx context.Context, id int64, upd store.TaskUpdate) (*store.Task, error) {
	if upd.Empty() {
		return nil, errors.New("no fields to update")
	}

	fields := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if upd.Title != nil {
		fields = append(fields, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Completed != nil {
		fields = append(fields, "completed = ?")
		args = append(args, *upd.Completed)
	}
	switch {
	case upd.ClearDueDate:
		fields = append(fields, "due_date = NULL")
	case upd.DueDate != nil:
		fields = append(fields, "due_date = ?")
		args = append(args, formatTime(*upd.DueDate))
	}
	fields = append(fields, "updated_at = ?")
	args = append(args, formatTime(time.Now()), id)

	query := "UPDATE tasks SET " + strings.Join(fields, ", ") + " WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("task %d: %w", id, store.ErrNotFound)
	}

	return s.GetTask(ctx, id)
}

// DeleteTask removes the task and, by cascade, its attachments.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// TaskStats counts the user's tasks. now is the reference time for overdue.
func (s *SQLiteStore) TaskStats(ctx context.Context, userID int64, now time.Time) (*store.TaskStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN completed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN completed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN completed = 0 AND due_date IS NOT NULL AND due_date < ? THEN 1 ELSE 0 END), 0)
		FROM tasks
		WHERE user_id = ?
	`
	var stats store.TaskStats
	err := s.db.QueryRowContext(ctx, query, formatTime(now), userID).Scan(
		&stats.Total,
		&stats.Completed,
		&stats.Active,
		&stats.Overdue,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &stats, nil
}

// ==== AttachmentStore implementation ====

// AddAttachment inserts attachment metadata.
func (s *SQLiteStore) AddAttachment(ctx context.Context, att *store.Attachment) (*store.Attachment, error) {
	uploaded := time.Now().UTC().Truncate(time.Second)
	query := `
		INSERT INTO attachments (task_id, filename, original_name, mimetype, size, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		att.TaskID, att.Filename, att.OriginalName, att.MimeType, att.Size, formatTime(uploaded))
	if err != nil {
		return nil, fmt.Errorf("insert attachment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	created := *att
	created.ID = id
	created.UploadedAt = uploaded
	return &created, nil
}

// DeleteAttachment removes attachment metadata.
func (s *SQLiteStore) DeleteAttachment(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("attachment %d: %w", id, store.ErrNotFound)
	}
	return nil
}
