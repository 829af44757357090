package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"github.com/gin-gonic/gin"
)

// handleEntityStream streams proposal events for one record as server-sent events.
func (h *httpHandler) handleEntityStream(c *gin.Context) {
	ref, err := edits.NewEntityRef(c.Param("collection"), c.Param("entity_id"))
	if err != nil {
		respondBadRequest(c, "invalid_entity")
		return
	}

	ctx := c.Request.Context()
	messages, unsubscribe := h.realtime.Subscribe(ctx, TopicFor(ref))
	defer unsubscribe()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, message)
			c.Writer.Flush()
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			c.Writer.Flush()
		}
	}
}
