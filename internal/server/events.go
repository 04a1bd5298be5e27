package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const eventHeartbeat = "heartbeat"

type eventPayload struct {
	Type      string   `json:"type"`
	BookIDs   []string `json:"bookIds,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// handleEvents streams library and share changes of the authenticated owner
// as server-sent events, with periodic heartbeats to keep proxies open.
func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.dispatcher.Subscribe(ctx, c.GetString(subjectContextKey))
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.Type, eventPayload{
				Type:      message.Type,
				BookIDs:   message.BookIDs,
				SessionID: message.SessionID,
				Timestamp: message.Timestamp.UnixMilli(),
			})
			return true
		case <-ticker.C:
			c.SSEvent(eventHeartbeat, eventPayload{Type: eventHeartbeat, Timestamp: h.clock().UnixMilli()})
			return true
		}
	})
}
