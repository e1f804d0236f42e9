package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/files"
	"github.com/vovakirdan/wiretask-server/internal/store"
)

// Common errors for task operations. Messages are shown to end users as is.
var (
	ErrTaskNotFound       = errors.New("Задача не найдена")
	ErrAttachmentNotFound = errors.New("Файл не найден")
	ErrNoUpdates          = errors.New("Нет полей для обновления")
	ErrFileRequired       = errors.New("Файл не выбран")
	ErrFileTooLarge       = errors.New("Файл слишком большой")
	ErrFileType           = errors.New("Недопустимый тип файла")
)

const maxTitleLen = 255

// ValidationError lists every problem found in task input.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ", ")
}

// Patch is a partial task update as received from clients.
// A nil field is left untouched; a DueDate pointing at "" clears the due date.
type Patch struct {
	Title     *string
	Completed *bool
	DueDate   *string
}

// Upload is an attachment body with client supplied metadata.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Limits restricts accepted uploads.
type Limits struct {
	MaxFileSize      int64
	AllowedMimeTypes []string
}

// Service provides task management business logic.
type Service struct {
	store  store.Store
	blobs  files.Blobs
	limits Limits
	log    *zerolog.Logger
	now    func() time.Time
}

// New creates a new task service. blobs may be nil when uploads are disabled.
func New(st store.Store, blobs files.Blobs, limits Limits, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store:  st,
		blobs:  blobs,
		limits: limits,
		log:    logger,
		now:    time.Now,
	}
}

// ParseDueDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func ParseDueDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func sameOrAfterDay(t, ref time.Time) bool {
	ty, tm, td := t.UTC().Date()
	ry, rm, rd := ref.UTC().Date()
	return !time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC).Before(time.Date(ry, rm, rd, 0, 0, 0, 0, time.UTC))
}

func (s *Service) validateTitle(title string, problems []string) []string {
	switch {
	case title == "":
		return append(problems, "Название задачи обязательно")
	case strings.TrimSpace(title) == "":
		return append(problems, "Название задачи не может быть пустым")
	case utf8.RuneCountInString(title) > maxTitleLen:
		return append(problems, "Название задачи не может быть длиннее 255 символов")
	}
	return problems
}

func (s *Service) validateDueDate(raw string, problems []string) (*time.Time, []string) {
	if raw == "" {
		return nil, problems
	}
	due, err := ParseDueDate(raw)
	if err != nil {
		return nil, append(problems, "Неверный формат даты завершения")
	}
	if !sameOrAfterDay(due, s.now()) {
		return nil, append(problems, "Дата завершения не может быть раньше сегодняшнего дня")
	}
	return &due, problems
}

// owned loads a task and hides tasks of other users behind ErrTaskNotFound.
func (s *Service) owned(ctx context.Context, userID, id int64) (*store.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Get returns a single task of the user.
func (s *Service) Get(ctx context.Context, userID, id int64) (*store.Task, error) {
	return s.owned(ctx, userID, id)
}

// List returns all tasks of the user, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]*store.Task, error) {
	tasks, err := s.store.ListTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListByStatus returns the user's tasks with the given completion state.
func (s *Service) ListByStatus(ctx context.Context, userID int64, completed bool) ([]*store.Task, error) {
	all, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	return filter(all, func(t *store.Task) bool { return t.Completed == completed }), nil
}

// Search returns the user's tasks whose title contains query.
// A blank query behaves like List.
func (s *Service) Search(ctx context.Context, userID int64, query string) ([]*store.Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, userID)
	}
	tasks, err := s.store.SearchTasks(ctx, userID, query)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	return tasks, nil
}

// Stats returns task counters for the user.
func (s *Service) Stats(ctx context.Context, userID int64) (*store.TaskStats, error) {
	stats, err := s.store.TaskStats(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	return stats, nil
}

// DueSoon returns open tasks due within the next days (inclusive).
func (s *Service) DueSoon(ctx context.Context, userID int64, days int) ([]*store.Task, error) {
	all, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return filter(all, func(t *store.Task) bool {
		if t.DueDate == nil || t.Completed {
			return false
		}
		diff := int(math.Ceil(t.DueDate.Sub(now).Hours() / 24))
		return diff >= 0 && diff <= days
	}), nil
}

// Overdue returns open tasks whose due date has passed.
func (s *Service) Overdue(ctx context.Context, userID int64) ([]*store.Task, error) {
	all, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return filter(all, func(t *store.Task) bool {
		return t.DueDate != nil && !t.Completed && now.After(*t.DueDate)
	}), nil
}

// Create validates input and stores a new task for the user.
func (s *Service) Create(ctx context.Context, userID int64, title, dueDate string) (*store.Task, error) {
	problems := s.validateTitle(title, nil)
	due, problems := s.validateDueDate(dueDate, problems)
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	task, err := s.store.CreateTask(ctx, userID, strings.TrimSpace(title), due)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// Update applies a partial update to a task of the user.
func (s *Service) Update(ctx context.Context, userID, id int64, patch Patch) (*store.Task, error) {
	if patch.Title == nil && patch.Completed == nil && patch.DueDate == nil {
		return nil, ErrNoUpdates
	}
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}

	var (
		upd      store.TaskUpdate
		problems []string
	)
	if patch.Title != nil {
		problems = s.validateTitle(*patch.Title, problems)
		title := strings.TrimSpace(*patch.Title)
		upd.Title = &title
	}
	if patch.DueDate != nil {
		if *patch.DueDate == "" {
			upd.ClearDueDate = true
		} else {
			upd.DueDate, problems = s.validateDueDate(*patch.DueDate, problems)
		}
	}
	upd.Completed = patch.Completed
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	task, err := s.store.UpdateTask(ctx, id, upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("update task: %w", err)
	}
	return task, nil
}

// Toggle flips the completion state of a task of the user.
func (s *Service) Toggle(ctx context.Context, userID, id int64) (*store.Task, error) {
	current, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	completed := !current.Completed
	task, err := s.store.UpdateTask(ctx, id, store.TaskUpdate{Completed: &completed})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("toggle task: %w", err)
	}
	return task, nil
}

// Delete removes a task of the user with its attachments and returns the
// task as it was before deletion.
func (s *Service) Delete(ctx context.Context, userID, id int64) (*store.Task, error) {
	task, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteTask(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("delete task: %w", err)
	}

	for _, att := range task.Attachments {
		s.dropBlob(ctx, att.Filename)
	}
	return task, nil
}

// AddAttachment stores an uploaded file and links it to a task of the user.
func (s *Service) AddAttachment(ctx context.Context, userID, taskID int64, up Upload) (*store.Attachment, error) {
	if s.blobs == nil {
		return nil, errors.New("attachments are disabled")
	}
	if up.Body == nil || up.Name == "" {
		return nil, ErrFileRequired
	}
	if s.limits.MaxFileSize > 0 && up.Size > s.limits.MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if len(s.limits.AllowedMimeTypes) > 0 && !slices.Contains(s.limits.AllowedMimeTypes, up.ContentType) {
		return nil, ErrFileType
	}
	if _, err := s.owned(ctx, userID, taskID); err != nil {
		return nil, err
	}

	name := files.StoredName(up.Name)
	body := up.Body
	if s.limits.MaxFileSize > 0 {
		body = io.LimitReader(body, s.limits.MaxFileSize)
	}
	if err := s.blobs.Put(ctx, name, up.ContentType, body); err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	att, err := s.store.AddAttachment(ctx, &store.Attachment{
		TaskID:       taskID,
		Filename:     name,
		OriginalName: up.Name,
		MimeType:     up.ContentType,
		Size:         up.Size,
	})
	if err != nil {
		s.dropBlob(ctx, name)
		return nil, fmt.Errorf("add attachment: %w", err)
	}
	return att, nil
}

// Attachment looks up attachment metadata on a task of the user.
func (s *Service) Attachment(ctx context.Context, userID, taskID, attachmentID int64) (*store.Attachment, error) {
	task, err := s.owned(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	for i := range task.Attachments {
		if task.Attachments[i].ID == attachmentID {
			return &task.Attachments[i], nil
		}
	}
	return nil, ErrAttachmentNotFound
}

// OpenAttachment returns attachment metadata and its body.
func (s *Service) OpenAttachment(ctx context.Context, userID, taskID, attachmentID int64) (*store.Attachment, io.ReadCloser, error) {
	if s.blobs == nil {
		return nil, nil, ErrAttachmentNotFound
	}
	att, err := s.Attachment(ctx, userID, taskID, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.blobs.Open(ctx, att.Filename)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return nil, nil, ErrAttachmentNotFound
		}
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	return att, body, nil
}

// RemoveAttachment unlinks an attachment and deletes its body.
func (s *Service) RemoveAttachment(ctx context.Context, userID, taskID, attachmentID int64) (*store.Attachment, error) {
	att, err := s.Attachment(ctx, userID, taskID, attachmentID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteAttachment(ctx, att.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAttachmentNotFound
		}
		return nil, fmt.Errorf("delete attachment: %w", err)
	}
	s.dropBlob(ctx, att.Filename)
	return att, nil
}

func (s *Service) dropBlob(ctx context.Context, name string) {
	if s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(ctx, name); err != nil {
		s.log.Warn().Err(err).Str("blob", name).Msg("failed to delete attachment body")
	}
}

func filter(tasks []*store.Task, keep func(*store.Task) bool) []*store.Task {
	out := make([]*store.Task, 0, len(tasks))
	for _, t := range tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}
