package http

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/core"
	"github.com/vovakirdan/wiretask-server/internal/proto"
	"github.com/vovakirdan/wiretask-server/internal/service/tasks"
)

const defaultDueSoonDays = 3

// TaskHandlers serves /api/tasks. Mutations are pushed to every WebSocket
// connection of the acting user.
type TaskHandlers struct {
	tasks *tasks.Service
	hub   *core.Hub
	log   *zerolog.Logger
}

func NewTaskHandlers(taskService *tasks.Service, hub *core.Hub, logger *zerolog.Logger) *TaskHandlers {
	return &TaskHandlers{tasks: taskService, hub: hub, log: logger}
}

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	Title   string  `json:"title"`
	DueDate *string `json:"dueDate"`
}

// List handles GET /api/tasks.
func (h *TaskHandlers) List(c *gin.Context) {
	user := currentUser(c)
	list, err := h.tasks.List(c.Request.Context(), user.ID)
	if err != nil {
		h.fail(c, err, "list tasks")
		return
	}
	respond(c, http.StatusOK, proto.TasksFromStore(list), "Задачи успешно получены")
}

// Get handles GET /api/tasks/:id.
func (h *TaskHandlers) Get(c *gin.Context) {
	id, ok := h.param(c, "id")
	if !ok {
		return
	}
	task, err := h.tasks.Get(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		h.fail(c, err, "get task")
		return
	}
	respond(c, http.StatusOK, proto.TaskFromStore(task), "Задача успешно получена")
}

// Stats handles GET /api/tasks/stats.
func (h *TaskHandlers) Stats(c *gin.Context) {
	stats, err := h.tasks.Stats(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.fail(c, err, "task stats")
		return
	}
	respond(c, http.StatusOK, proto.StatsFromStore(stats), "Статистика успешно получена")
}

// Search handles GET /api/tasks/search?q=.
func (h *TaskHandlers) Search(c *gin.Context) {
	query := c.Query("q")
	list, err := h.tasks.Search(c.Request.Context(), currentUser(c).ID, query)
	if err != nil {
		h.fail(c, err, "search tasks")
		return
	}
	respond(c, http.StatusOK, proto.SearchPayload{Tasks: proto.TasksFromStore(list), Query: query}, "Поиск выполнен успешно")
}

// DueSoon handles GET /api/tasks/due-soon?days=.
func (h *TaskHandlers) DueSoon(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(defaultDueSoonDays)))
	if err != nil || days <= 0 {
		days = defaultDueSoonDays
	}
	list, err := h.tasks.DueSoon(c.Request.Context(), currentUser(c).ID, days)
	if err != nil {
		h.fail(c, err, "due soon tasks")
		return
	}
	respond(c, http.StatusOK, proto.TasksFromStore(list), "Задачи с истекающим сроком получены")
}

// Overdue handles GET /api/tasks/overdue.
func (h *TaskHandlers) Overdue(c *gin.Context) {
	list, err := h.tasks.Overdue(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.fail(c, err, "overdue tasks")
		return
	}
	respond(c, http.StatusOK, proto.TasksFromStore(list), "Просроченные задачи получены")
}

// ByStatus handles GET /api/tasks/status/:status.
func (h *TaskHandlers) ByStatus(c *gin.Context) {
	var completed bool
	switch c.Param("status") {
	case "active":
	case "completed":
		completed = true
	default:
		respondError(c, http.StatusBadRequest, "Неверный статус. Используйте: active или completed")
		return
	}

	list, err := h.tasks.ListByStatus(c.Request.Context(), currentUser(c).ID, completed)
	if err != nil {
		h.fail(c, err, "tasks by status")
		return
	}
	respond(c, http.StatusOK, proto.TasksFromStore(list), "Задачи получены успешно")
}

// Create handles POST /api/tasks.
func (h *TaskHandlers) Create(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Название задачи обязательно")
		return
	}
	due := ""
	if req.DueDate != nil {
		due = *req.DueDate
	}

	user := currentUser(c)
	task, err := h.tasks.Create(c.Request.Context(), user.ID, req.Title, due)
	if err != nil {
		h.fail(c, err, "create task")
		return
	}

	view := proto.TaskFromStore(task)
	h.push(c, user.ID, proto.ActionCreated, view)
	respond(c, http.StatusCreated, view, "Задача успешно создана")
}

// Update handles PUT /api/tasks/:id.
func (h *TaskHandlers) Update(c *gin.Context) {
	id, ok := h.param(c, "id")
	if !ok {
		return
	}
	var req proto.TaskUpdates
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверные данные запроса")
		return
	}
	due, err := req.DueDatePatch()
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат даты завершения")
		return
	}

	user := currentUser(c)
	task, err := h.tasks.Update(c.Request.Context(), user.ID, id, tasks.Patch{
		Title:     req.Title,
		Completed: req.Completed,
		DueDate:   due,
	})
	if err != nil {
		h.fail(c, err, "update task")
		return
	}

	view := proto.TaskFromStore(task)
	h.push(c, user.ID, proto.ActionUpdated, view)
	respond(c, http.StatusOK, view, "Задача успешно обновлена")
}

// Toggle handles PATCH /api/tasks/:id/toggle.
func (h *TaskHandlers) Toggle(c *gin.Context) {
	id, ok := h.param(c, "id")
	if !ok {
		return
	}
	user := currentUser(c)
	task, err := h.tasks.Toggle(c.Request.Context(), user.ID, id)
	if err != nil {
		h.fail(c, err, "toggle task")
		return
	}

	view := proto.TaskFromStore(task)
	h.push(c, user.ID, proto.ActionToggled, view)
	respond(c, http.StatusOK, view, "Статус задачи обновлен")
}

// Delete handles DELETE /api/tasks/:id.
func (h *TaskHandlers) Delete(c *gin.Context) {
	id, ok := h.param(c, "id")
	if !ok {
		return
	}
	user := currentUser(c)
	task, err := h.tasks.Delete(c.Request.Context(), user.ID, id)
	if err != nil {
		h.fail(c, err, "delete task")
		return
	}

	h.push(c, user.ID, proto.ActionDeleted, proto.TaskFromStore(task))
	respond(c, http.StatusOK, proto.DeletedPayload{ID: id}, "Задача успешно удалена")
}

// Upload handles POST /api/tasks/:id/upload with a multipart "file" field.
func (h *TaskHandlers) Upload(c *gin.Context) {
	id, ok := h.param(c, "id")
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, tasks.ErrFileRequired.Error())
		return
	}
	file, err := header.Open()
	if err != nil {
		h.fail(c, err, "open upload")
		return
	}
	defer file.Close()

	user := currentUser(c)
	att, err := h.tasks.AddAttachment(c.Request.Context(), user.ID, id, tasks.Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		h.fail(c, err, "upload attachment")
		return
	}

	h.pushRefreshed(c, user.ID, id)
	respond(c, http.StatusOK, proto.AttachmentFromStore(att), "Файл успешно загружен")
}

// Download handles GET /api/tasks/:id/files/:attachmentId/download.
func (h *TaskHandlers) Download(c *gin.Context) {
	id, ok := h.param(c, "id")
	if !ok {
		return
	}
	attID, ok := h.param(c, "attachmentId")
	if !ok {
		return
	}

	att, body, err := h.tasks.OpenAttachment(c.Request.Context(), currentUser(c).ID, id, attID)
	if err != nil {
		h.fail(c, err, "download attachment")
		return
	}
	defer body.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": att.OriginalName})
	c.DataFromReader(http.StatusOK, att.Size, att.MimeType, body, map[string]string{
		"Content-Disposition": disposition,
	})
}

// DeleteFile handles DELETE /api/tasks/:id/files/:attachmentId.
func (h *TaskHandlers) DeleteFile(c *gin.Context) {
	id, ok := h.param(c, "id")
	if !ok {
		return
	}
	attID, ok := h.param(c, "attachmentId")
	if !ok {
		return
	}

	user := currentUser(c)
	if _, err := h.tasks.RemoveAttachment(c.Request.Context(), user.ID, id, attID); err != nil {
		h.fail(c, err, "delete attachment")
		return
	}

	h.pushRefreshed(c, user.ID, id)
	respond(c, http.StatusOK, nil, "Файл успешно удален")
}

// param parses a numeric path parameter. Malformed ids cannot name a task.
func (h *TaskHandlers) param(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		msg := tasks.ErrTaskNotFound.Error()
		if name == "attachmentId" {
			msg = tasks.ErrAttachmentNotFound.Error()
		}
		respondError(c, http.StatusNotFound, msg)
		return 0, false
	}
	return id, true
}

func (h *TaskHandlers) push(c *gin.Context, userID int64, action string, task any) {
	frame, err := proto.EncodePush(proto.TypeTaskUpdated, proto.PushPayload{Action: action, Task: task})
	if err != nil {
		h.log.Error().Err(err).Msg("encode push")
		return
	}
	if err := h.hub.Broadcast(c.Request.Context(), userID, frame, nil); err != nil {
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("broadcast failed")
	}
}

// pushRefreshed reloads a task after an attachment change and pushes it.
func (h *TaskHandlers) pushRefreshed(c *gin.Context, userID, taskID int64) {
	task, err := h.tasks.Get(c.Request.Context(), userID, taskID)
	if err != nil {
		h.log.Warn().Err(err).Int64("task_id", taskID).Msg("reload task for push")
		return
	}
	h.push(c, userID, proto.ActionUpdated, proto.TaskFromStore(task))
}

func (h *TaskHandlers) fail(c *gin.Context, err error, op string) {
	status, ok := statusFor(err)
	if !ok {
		h.log.Error().Err(err).Str("op", op).Msg("task request failed")
		respondError(c, status, msgInternal)
		return
	}
	respondError(c, status, err.Error())
}
