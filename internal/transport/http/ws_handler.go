package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/core"
)

// WSOptions tunes the WebSocket endpoint.
type WSOptions struct {
	MaxMessageBytes int64
	SendBuffer      int
	OriginPatterns  []string
}

// WSHandler upgrades HTTP connections and bridges them to core.Conn.
type WSHandler struct {
	hub        *core.Hub
	dispatcher *core.Dispatcher
	opts       WSOptions
	log        *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, dispatcher *core.Dispatcher, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, dispatcher: dispatcher, opts: opts, log: logger}
}

// wsTransport lets the hub ping and terminate a socket.
type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

// Close runs the close handshake in the background so the hub never waits on
// an unresponsive peer.
func (t wsTransport) Close(reason string) {
	go func() {
		_ = t.conn.Close(websocket.StatusGoingAway, reason)
	}()
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	acceptOpts := &websocket.AcceptOptions{InsecureSkipVerify: true}
	if len(h.opts.OriginPatterns) > 0 {
		acceptOpts = &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns}
	}

	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := core.NewConn(uuid.NewString(), wsTransport{conn: conn}, h.opts.SendBuffer)
	if err := h.hub.Register(ctx, client); err != nil {
		conn.Close(websocket.StatusTryAgainLater, "server shutting down")
		return
	}
	defer h.hub.Unregister(client)
	h.log.Debug().Str("conn_id", client.ID).Str("remote", r.RemoteAddr).Msg("ws connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	h.log.Debug().Str("conn_id", client.ID).Msg("ws disconnected")
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		h.dispatcher.Handle(ctx, client, data)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		select {
		case frame := <-client.Outbound():
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("write ws frame")
				return err
			}
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
