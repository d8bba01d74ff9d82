package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gavel/internal/submit/stream"
	"gavel/pkg/utils/logger"
	"gavel/pkg/utils/response"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
	streamPongTimeout  = 75 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Token auth happens upstream; the stream carries no secrets.
		return true
	},
}

// Stream upgrades the connection to a websocket and pushes status changes
// for one submission until it reaches a terminal state or the client leaves.
func (h *SubmitController) Stream(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	// Subscribe first so an update landing between the status read and the
	// subscription is not lost.
	events, cancel := h.hub.Subscribe(id)
	defer cancel()

	current, err := h.submitService.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancelStream := context.WithCancel(c.Request.Context())
	defer cancelStream()

	// Read pump: the loop below only writes, so close frames and pongs are
	// processed here. A read error means the client is gone.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	})
	go func() {
		defer cancelStream()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writeEvent := func(event stream.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(event)
	}

	first := stream.Event{SubmissionID: id, Status: current}
	if err := writeEvent(first); err != nil {
		return
	}
	if current.IsTerminal() {
		return
	}

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event := <-events:
			if err := writeEvent(event); err != nil {
				return
			}
			if event.Status.IsTerminal() {
				return
			}
		}
	}
}
