package push

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const retryMs = 5000

// Serve upgrades the request to a server-sent event stream and pumps
// the connection's queue until the client disconnects, the hub removes
// the handle, or the idle lifetime elapses.
func (h *Hub) Serve(c *gin.Context, userID uint) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	fmt.Fprintf(c.Writer, "retry: %d\n\n", retryMs)
	flusher.Flush()

	conn := h.Register(userID)
	defer h.Remove(conn)

	idle := time.NewTimer(h.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-idle.C:
			// lifetime exhausted; the client reconnects
			return
		case msg := <-conn.C():
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.Event, msg.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
