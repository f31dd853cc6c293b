package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var pingInterval = 15 * time.Second

// StreamEvents streams bus events as server-sent events until the client leaves.
func (h *Handler) StreamEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	evs, cancel := h.Events.Subscribe()
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	writeJSON := func(event, id string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			// last-resort: send a simple error that won't break SSE framing
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if id != "" {
			fmt.Fprintf(c.Writer, "id: %s\n", id)
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	writeJSON("ready", "", gin.H{"type": "ready", "ts": time.Now().Unix()})

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-evs:
			if !ok {
				return
			}
			writeJSON(ev.Kind, ev.ID, ev)

		case <-ticker.C:
			writeJSON("ping", "", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			return
		}
	}
}
