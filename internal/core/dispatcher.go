package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/auth"
	"github.com/vovakirdan/wiretask-server/internal/metrics"
	"github.com/vovakirdan/wiretask-server/internal/proto"
	"github.com/vovakirdan/wiretask-server/internal/service/tasks"
	"github.com/vovakirdan/wiretask-server/internal/store"
)

// TaskService is the task logic the dispatcher calls into. Every method is
// scoped to userID.
type TaskService interface {
	List(ctx context.Context, userID int64) ([]*store.Task, error)
	ListByStatus(ctx context.Context, userID int64, completed bool) ([]*store.Task, error)
	Search(ctx context.Context, userID int64, query string) ([]*store.Task, error)
	Stats(ctx context.Context, userID int64) (*store.TaskStats, error)
	Create(ctx context.Context, userID int64, title, dueDate string) (*store.Task, error)
	Update(ctx context.Context, userID, id int64, patch tasks.Patch) (*store.Task, error)
	Toggle(ctx context.Context, userID, id int64) (*store.Task, error)
	Delete(ctx context.Context, userID, id int64) (*store.Task, error)
}

// AuthService authenticates connections.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*auth.Result, error)
	Login(ctx context.Context, username, password string) (*auth.Result, error)
	UserByToken(ctx context.Context, token string) (*store.User, error)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// RateLimit caps messages per connection per RateWindow. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
	Logger     *zerolog.Logger
	Metrics    *metrics.Metrics
}

// Dispatcher routes inbound frames to the services and writes the replies.
type Dispatcher struct {
	hub   *Hub
	tasks TaskService
	auth  AuthService

	rateLimit  int
	rateWindow time.Duration
	log        *zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewDispatcher(hub *Hub, taskSvc TaskService, authSvc AuthService, opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Dispatcher{
		hub:        hub,
		tasks:      taskSvc,
		auth:       authSvc,
		rateLimit:  opts.RateLimit,
		rateWindow: opts.RateWindow,
		log:        logger,
		metrics:    opts.Metrics,
		now:        time.Now,
	}
}

// outcome is the result of one request: a reply, an error, and optionally a
// push for the user's other connections.
type outcome struct {
	typ  string
	data any
	push *proto.PushPayload
	err  error
}

func fail(msg string) outcome { return outcome{err: errors.New(msg)} }

// Handle processes one text frame from c. The reply is queued before any push
// is fanned out to the user's other connections.
func (d *Dispatcher) Handle(ctx context.Context, c *Conn, frame []byte) {
	in, err := proto.Decode(frame)
	if err != nil {
		d.log.Debug().Err(err).Str("conn_id", c.ID).Msg("malformed frame")
		d.metrics.Message("malformed", false)
		d.reply(ctx, c, proto.EncodeError(MsgBadFormat, nil))
		return
	}

	if !c.allow(d.rateLimit, d.rateWindow, d.now()) {
		d.metrics.Message("rate_limited", false)
		d.reply(ctx, c, proto.EncodeError(MsgRateLimited, in.MessageID))
		return
	}

	req, err := ParseRequest(in)
	if err != nil {
		// The auth gate applies before the payload is judged.
		if !anonymousAllowed(in.Type) && c.UserID() == 0 {
			d.metrics.Message(in.Type, false)
			d.reply(ctx, c, proto.EncodeError(MsgAuthRequired, in.MessageID))
			return
		}
		d.log.Debug().Err(err).Str("conn_id", c.ID).Msg("bad payload")
		d.metrics.Message(in.Type, false)
		d.reply(ctx, c, proto.EncodeError(MsgBadPayload, in.MessageID))
		return
	}

	label := in.Type
	if _, ok := req.(UnknownRequest); ok {
		label = "unknown"
	}

	out := d.dispatch(ctx, c, req)
	if out.err != nil {
		d.metrics.Message(label, false)
		d.reply(ctx, c, proto.EncodeError(out.err.Error(), req.MessageID()))
		return
	}

	reply, err := proto.EncodeResponse(out.typ, out.data, req.MessageID())
	if err != nil {
		d.log.Error().Err(err).Str("type", out.typ).Msg("encode reply")
		d.metrics.Message(label, false)
		d.reply(ctx, c, proto.EncodeError(MsgInternal, req.MessageID()))
		return
	}
	d.metrics.Message(label, true)
	d.reply(ctx, c, reply)

	if out.push != nil {
		d.pushToSiblings(ctx, c, out.push)
	}
}

// anonymousAllowed reports whether typ may be sent before authentication.
func anonymousAllowed(typ string) bool {
	return typ == proto.TypeAuth || typ == proto.TypePing
}

func (d *Dispatcher) reply(ctx context.Context, c *Conn, frame []byte) {
	if err := c.Reply(ctx, frame); err != nil {
		d.log.Debug().Err(err).Str("conn_id", c.ID).Msg("reply dropped")
	}
}

func (d *Dispatcher) pushToSiblings(ctx context.Context, c *Conn, payload *proto.PushPayload) {
	userID := c.UserID()
	frame, err := proto.EncodePush(proto.TypeTaskUpdated, payload)
	if err != nil {
		d.log.Error().Err(err).Msg("encode push")
		return
	}
	if err := d.hub.Broadcast(ctx, userID, frame, c); err != nil {
		d.log.Warn().Err(err).Int64("user_id", userID).Msg("broadcast failed")
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, c *Conn, req Request) outcome {
	switch r := req.(type) {
	case PingRequest:
		return outcome{typ: proto.TypePong}
	case AuthRequest:
		return d.authenticate(ctx, c, r)
	case UnknownRequest:
		return fail(MsgUnknownType)
	}

	userID := c.UserID()
	if userID == 0 {
		return fail(MsgAuthRequired)
	}

	switch r := req.(type) {
	case GetTasksRequest:
		list, err := d.tasks.List(ctx, userID)
		if err != nil {
			return outcome{err: err}
		}
		stats, err := d.tasks.Stats(ctx, userID)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{typ: proto.TypeTasks, data: proto.TasksPayload{
			Tasks: proto.TasksFromStore(list),
			Stats: proto.StatsFromStore(stats),
		}}

	case GetTasksByStatusRequest:
		list, err := d.tasks.ListByStatus(ctx, userID, r.Completed)
		if err != nil {
			return outcome{err: err}
		}
		stats, err := d.tasks.Stats(ctx, userID)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{typ: proto.TypeTasksByStatus, data: proto.TasksByStatusPayload{
			Tasks:     proto.TasksFromStore(list),
			Completed: r.Completed,
			Stats:     proto.StatsFromStore(stats),
		}}

	case CreateTaskRequest:
		task, err := d.tasks.Create(ctx, userID, r.Title, r.DueDate)
		if err != nil {
			return outcome{err: err}
		}
		view := proto.TaskFromStore(task)
		return outcome{
			typ:  proto.TypeTaskCreated,
			data: view,
			push: &proto.PushPayload{Action: proto.ActionCreated, Task: view},
		}

	case UpdateTaskRequest:
		task, err := d.tasks.Update(ctx, userID, r.ID, tasks.Patch{
			Title:     r.Title,
			Completed: r.Completed,
			DueDate:   r.DueDate,
		})
		if err != nil {
			return outcome{err: err}
		}
		view := proto.TaskFromStore(task)
		return outcome{
			typ:  proto.TypeTaskUpdated,
			data: view,
			push: &proto.PushPayload{Action: proto.ActionUpdated, Task: view},
		}

	case ToggleTaskRequest:
		task, err := d.tasks.Toggle(ctx, userID, r.ID)
		if err != nil {
			return outcome{err: err}
		}
		view := proto.TaskFromStore(task)
		return outcome{
			typ:  proto.TypeTaskUpdated,
			data: view,
			push: &proto.PushPayload{Action: proto.ActionToggled, Task: view},
		}

	case DeleteTaskRequest:
		task, err := d.tasks.Delete(ctx, userID, r.ID)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{
			typ:  proto.TypeTaskDeleted,
			data: proto.DeletedPayload{ID: r.ID},
			push: &proto.PushPayload{Action: proto.ActionDeleted, Task: proto.TaskFromStore(task)},
		}

	case SearchTasksRequest:
		list, err := d.tasks.Search(ctx, userID, r.Query)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{typ: proto.TypeSearchResults, data: proto.SearchPayload{
			Tasks: proto.TasksFromStore(list),
			Query: r.Query,
		}}

	case GetStatsRequest:
		stats, err := d.tasks.Stats(ctx, userID)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{typ: proto.TypeStats, data: proto.StatsFromStore(stats)}
	}

	return fail(MsgUnknownType)
}

func (d *Dispatcher) authenticate(ctx context.Context, c *Conn, r AuthRequest) outcome {
	var (
		user  *store.User
		token string
	)

	switch r.Action {
	case proto.AuthLogin, proto.AuthRegister:
		login := d.auth.Login
		if r.Action == proto.AuthRegister {
			login = d.auth.Register
		}
		res, err := login(ctx, r.Username, r.Password)
		if err != nil {
			return outcome{err: err}
		}
		user, token = res.User, res.Token
	case proto.AuthVerify:
		u, err := d.auth.UserByToken(ctx, r.Token)
		if err != nil {
			return outcome{err: err}
		}
		user, token = u, r.Token
	default:
		return fail(MsgBadAuthAction)
	}

	if err := d.hub.Bind(ctx, c, user, token); err != nil {
		return outcome{err: err}
	}
	d.log.Info().Str("conn_id", c.ID).Int64("user_id", user.ID).Str("action", r.Action).Msg("connection authenticated")

	return outcome{typ: proto.TypeAuthSuccess, data: proto.AuthSuccess{
		User:  proto.UserFromStore(user),
		Token: token,
	}}
}
