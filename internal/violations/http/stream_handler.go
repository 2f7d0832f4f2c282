package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

const (
	streamBacklog  = 10
	keepAliveEvery = 15 * time.Second
)

// FeedStream is the slice of the feed repository the SSE endpoint needs.
type FeedStream interface {
	Recent(ctx context.Context, projectID string, limit int) ([]domain.FeedEntry, error)
	Subscribe(ctx context.Context, projectID string) *redis.PubSub
}

// StreamHandler pushes live feed entries to dashboards over
// Server-Sent Events.
type StreamHandler struct {
	feed   FeedStream
	logger *zap.Logger
}

func NewStreamHandler(feed FeedStream, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{feed: feed, logger: logger}
}

func (h *StreamHandler) Register(r gin.IRouter) {
	r.GET("/projects/:projectID/stream", h.Stream)
}

// Stream replays a short backlog and then forwards every new report as
// it arrives, with keep-alive comments so proxies hold the connection.
func (h *StreamHandler) Stream(c *gin.Context) {
	projectID := c.Param("projectID")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	ctx := c.Request.Context()

	// Subscribe before reading the backlog so entries pushed in between
	// are not lost; duplicates across the seam are acceptable.
	sub := h.feed.Subscribe(ctx, projectID)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // nginx: disable buffering

	backlog, err := h.feed.Recent(ctx, projectID, streamBacklog)
	if err != nil {
		h.logger.Error("feed backlog read failed", zap.String("project_id", projectID), zap.Error(err))
		backlog = nil
	}
	// Recent returns newest first; replay oldest first.
	for i := len(backlog) - 1; i >= 0; i-- {
		writeFeedEvent(c.Writer, "backlog", backlog[i])
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveEvery)
	defer ticker.Stop()

	events := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()

		case msg, ok := <-events:
			if !ok {
				return
			}
			var entry domain.FeedEntry
			if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
				h.logger.Warn("skipping malformed feed payload", zap.String("project_id", projectID))
				continue
			}
			writeFeedEvent(c.Writer, "report", entry)
			flusher.Flush()
		}
	}
}

func writeFeedEvent(w io.Writer, event string, entry domain.FeedEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
