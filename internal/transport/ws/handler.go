// Package ws is the Connection Handler (spec §4.5): it owns the single
// /ws endpoint, the per-connection actor (conn.go), and the read loop
// that hands inbound frames to the Command Dispatcher through
// internal/wsrouter. Grounded on the teacher's controller.ServeConn /
// ws-handler.controller.go, generalized from the teacher's per-room HTTP
// routes (/room/create, /room/{id}/join) to a single endpoint where
// createRoom and joinRoom are just inbound message types like any other.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clipsync/server/internal/registry"
	"github.com/clipsync/server/internal/wsrouter"
)

const (
	idleTimeout  = 960 * time.Second
	readBufSize  = 4096
	writeBufSize = 4096
)

// Dispatcher is the narrow capability the handler needs from the Command
// Dispatcher beyond the generic wsrouter.Router it registers its routes
// on: the on-disconnect side-effect equivalent to leaveRoom (spec §4.5
// step 5).
type Dispatcher interface {
	HandleDisconnect(ctx context.Context, clientID string)
}

type Handler struct {
	router     *wsrouter.Router
	dispatcher Dispatcher
	registry   *registry.Local
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

func NewHandler(router *wsrouter.Router, dispatcher Dispatcher, reg *registry.Local, logger *slog.Logger) *Handler {
	return &Handler{
		router:     router,
		dispatcher: dispatcher,
		registry:   reg,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufSize,
			WriteBufferSize: writeBufSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", "error", err)
		return
	}

	clientID := uuid.NewString()
	ctx := wsrouter.WithClientID(r.Context(), clientID)

	conn := NewConn(clientID, rawConn, func(id string) {
		h.logger.InfoContext(ctx, "ws: send failure, flagging for cleanup", "clientId", id)
	})
	h.registry.RegisterConnection(clientID, conn)

	h.logger.InfoContext(ctx, "ws: connection accepted", "clientId", clientID)

	_ = conn.Send(readyFrame(clientID))

	h.readLoop(ctx, conn)

	h.dispatcher.HandleDisconnect(ctx, clientID)
	h.registry.DropConnection(clientID)
	conn.Close()
	h.logger.InfoContext(ctx, "ws: connection closed", "clientId", clientID)
}

// readLoop reads frames until the transport closes or errors. A single
// connection's commands are processed one at a time, in arrival order
// (spec §5's per-connection ordering guarantee) — Dispatch is called
// synchronously rather than spawned into its own goroutine per frame.
func (h *Handler) readLoop(ctx context.Context, conn *Conn) {
	conn.ws.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(idleTimeout))

		if err := h.router.Dispatch(ctx, conn, raw); err != nil {
			if _, ok := err.(wsrouter.ErrUnknownType); ok {
				_ = conn.Send(invalidMessageFrame())
				continue
			}
			// malformed JSON envelope
			_ = conn.Send(invalidMessageFrame())
		}
	}
}

func readyFrame(clientID string) []byte {
	b, _ := json.Marshal(map[string]string{"type": "ready", "clientId": clientID})
	return b
}

func invalidMessageFrame() []byte {
	b, _ := json.Marshal(map[string]string{"type": "errorWithCode", "code": "invalidMessage"})
	return b
}
