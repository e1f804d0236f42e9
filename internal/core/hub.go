package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/metrics"
	"github.com/vovakirdan/wiretask-server/internal/store"
)

// Relay forwards pushes to other server instances.
type Relay interface {
	Publish(ctx context.Context, userID int64, frame []byte) error
}

// HubStats is a point-in-time view of the hub.
type HubStats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	Users         int `json:"users"`
}

// HubOptions configures a Hub. Zero values disable the matching feature.
type HubOptions struct {
	Heartbeat time.Duration
	Relay     Relay
	Logger    *zerolog.Logger
	Metrics   *metrics.Metrics
}

type bindRequest struct {
	conn  *Conn
	user  *store.User
	token string
	ack   chan error
}

type pushRequest struct {
	userID int64
	frame  []byte
	except *Conn
}

// Hub owns every live connection and the user registry. All state changes go
// through the Run goroutine.
type Hub struct {
	registry *Registry
	conns    map[*Conn]struct{}

	register   chan *Conn
	unregister chan *Conn
	bind       chan bindRequest
	push       chan pushRequest
	stats      chan chan HubStats
	stopped    chan struct{}

	heartbeat time.Duration
	relay     Relay
	log       *zerolog.Logger
	metrics   *metrics.Metrics
}

// NewHub creates a hub. Call Run to start it.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		registry:   NewRegistry(),
		conns:      make(map[*Conn]struct{}),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		bind:       make(chan bindRequest),
		push:       make(chan pushRequest, 64),
		stats:      make(chan chan HubStats),
		stopped:    make(chan struct{}),
		heartbeat:  opts.Heartbeat,
		relay:      opts.Relay,
		log:        logger,
		metrics:    opts.Metrics,
	}
}

// Run processes hub events until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.conns {
				h.drop(c, "server shutting down")
			}
			return
		case c := <-h.register:
			h.conns[c] = struct{}{}
			h.updateGauges()
		case c := <-h.unregister:
			if _, ok := h.conns[c]; ok {
				h.drop(c, "connection closed")
			}
		case req := <-h.bind:
			req.ack <- h.handleBind(req)
		case req := <-h.push:
			h.deliver(req)
		case reply := <-h.stats:
			reply <- h.snapshot()
		case <-tick:
			h.sweep(ctx)
		}
	}
}

// Register adds an anonymous connection.
func (h *Hub) Register(ctx context.Context, c *Conn) error {
	select {
	case h.register <- c:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes a connection and closes it. It does not block once the
// hub has stopped.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
		c.Close("server shutting down")
	}
}

// Bind attaches an identity to c and files it under the user, moving it out of
// any previous user's set. It fails if c is no longer registered.
func (h *Hub) Bind(ctx context.Context, c *Conn, user *store.User, token string) error {
	req := bindRequest{conn: c, user: user, token: token, ack: make(chan error, 1)}
	select {
	case h.bind <- req:
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.ack
}

// Broadcast queues frame for every connection of userID except one, then hands
// it to the relay, if any.
func (h *Hub) Broadcast(ctx context.Context, userID int64, frame []byte, except *Conn) error {
	if err := h.enqueue(ctx, pushRequest{userID: userID, frame: frame, except: except}); err != nil {
		return err
	}
	if h.relay != nil {
		if err := h.relay.Publish(ctx, userID, frame); err != nil {
			h.log.Warn().Err(err).Int64("user_id", userID).Msg("relay publish failed")
		}
	}
	return nil
}

// DeliverRemote queues a frame received from another instance for every local
// connection of userID.
func (h *Hub) DeliverRemote(ctx context.Context, userID int64, frame []byte) error {
	return h.enqueue(ctx, pushRequest{userID: userID, frame: frame})
}

// Stats returns connection counts.
func (h *Hub) Stats(ctx context.Context) (HubStats, error) {
	reply := make(chan HubStats, 1)
	select {
	case h.stats <- reply:
	case <-h.stopped:
		return HubStats{}, ErrHubStopped
	case <-ctx.Done():
		return HubStats{}, ctx.Err()
	}
	return <-reply, nil
}

func (h *Hub) enqueue(ctx context.Context, req pushRequest) error {
	select {
	case <-h.stopped:
		return ErrHubStopped
	default:
	}

	select {
	case h.push <- req:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handleBind(req bindRequest) error {
	if _, ok := h.conns[req.conn]; !ok {
		return ErrConnClosed
	}
	req.conn.setIdentity(req.user, req.token)
	h.registry.Add(req.user.ID, req.conn)
	h.updateGauges()
	return nil
}

func (h *Hub) deliver(req pushRequest) {
	for _, c := range h.registry.Connections(req.userID) {
		if c == req.except {
			continue
		}
		ok := c.Send(req.frame)
		h.metrics.Push(ok)
		if !ok {
			h.log.Debug().Str("conn_id", c.ID).Int64("user_id", req.userID).Msg("push skipped")
		}
	}
}

// sweep terminates connections that did not answer the previous ping and
// pings the rest.
func (h *Hub) sweep(ctx context.Context) {
	for c := range h.conns {
		if !c.alive.Load() {
			h.log.Info().Str("conn_id", c.ID).Msg("terminating unresponsive connection")
			h.metrics.Reaped()
			h.drop(c, "heartbeat timeout")
			continue
		}
		c.alive.Store(false)
		if c.transport != nil {
			go h.ping(ctx, c)
		}
	}
}

func (h *Hub) ping(ctx context.Context, c *Conn) {
	ctx, cancel := context.WithTimeout(ctx, h.heartbeat)
	defer cancel()

	if err := c.transport.Ping(ctx); err != nil {
		h.log.Debug().Err(err).Str("conn_id", c.ID).Msg("ping failed")
		return
	}
	c.MarkAlive()
}

func (h *Hub) drop(c *Conn, reason string) {
	delete(h.conns, c)
	h.registry.Remove(c)
	c.Close(reason)
	h.updateGauges()
}

func (h *Hub) snapshot() HubStats {
	return HubStats{
		Connections:   len(h.conns),
		Authenticated: h.registry.Conns(),
		Users:         h.registry.Users(),
	}
}

func (h *Hub) updateGauges() {
	h.metrics.SetConnections(len(h.conns))
	h.metrics.SetUsers(h.registry.Users())
}
