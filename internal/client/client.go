// Package client is a WebSocket client for the wiretask protocol. Requests are
// correlated with replies by messageId; pushes go to an optional handler.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/proto"
)

// DefaultTimeout bounds how long Call waits for a reply.
const DefaultTimeout = 10 * time.Second

var (
	// ErrTimeout is returned when no reply arrives in time.
	ErrTimeout = errors.New("Таймаут запроса")
	// ErrClosed is returned once the connection is gone.
	ErrClosed = errors.New("соединение закрыто")
)

// ServerError is an error envelope returned by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// Push is a task_updated notification.
type Push struct {
	Action string
	Task   json.RawMessage
}

// Options configures Dial.
type Options struct {
	Timeout time.Duration
	OnPush  func(Push)
	Logger  *zerolog.Logger
}

type reply struct {
	data json.RawMessage
	err  error
}

type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	MessageID json.RawMessage `json:"messageId"`
	Success   bool            `json:"success"`
	Error     string          `json:"error"`
}

// Client is safe for concurrent use.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
	onPush  func(Push)
	log     *zerolog.Logger

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan reply

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Dial connects to a wiretask WebSocket endpoint such as ws://localhost:3001/ws.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		timeout: opts.Timeout,
		onPush:  opts.OnPush,
		log:     logger,
		pending: make(map[int64]chan reply),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.readLoop(readCtx)
	return c, nil
}

// Call sends a request and waits for its reply data.
func (c *Client) Call(ctx context.Context, typ string, data any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan reply, 1)

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := struct {
		Type      string `json:"type"`
		Data      any    `json:"data,omitempty"`
		MessageID int64  `json:"messageId"`
	}{Type: typ, Data: data, MessageID: id}

	payload, err := json.Marshal(req)
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("send %s: %w", typ, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-timer.C:
		c.forget(id)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Close closes the connection and fails pending calls.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.cancel()
	<-c.done
	return err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.err = err
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn().Err(err).Msg("client: undecodable frame")
			continue
		}
		c.route(f)
	}
}

func (c *Client) route(f frame) {
	if len(f.MessageID) == 0 {
		if f.Type == proto.TypeTaskUpdated && c.onPush != nil {
			var p struct {
				Action string          `json:"action"`
				Task   json.RawMessage `json:"task"`
			}
			if err := json.Unmarshal(f.Data, &p); err != nil {
				c.log.Warn().Err(err).Msg("client: bad push")
				return
			}
			c.onPush(Push{Action: p.Action, Task: p.Task})
			return
		}
		if f.Type == proto.TypeError {
			c.log.Warn().Str("error", f.Error).Msg("client: uncorrelated error")
		}
		return
	}

	id, err := strconv.ParseInt(string(f.MessageID), 10, 64)
	if err != nil {
		c.log.Debug().RawJSON("message_id", f.MessageID).Msg("client: foreign messageId")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Int64("message_id", id).Msg("client: late reply dropped")
		return
	}

	if f.Type == proto.TypeError {
		ch <- reply{err: &ServerError{Message: f.Error}}
		return
	}
	ch <- reply{data: f.Data}
}
