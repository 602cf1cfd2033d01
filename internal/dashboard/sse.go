package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/obsarchive/quicklook/internal/models"
	"gorm.io/gorm"
)

// Stream cadence; vars so tests can tighten them.
var (
	ssePollInterval      = 3 * time.Second
	sseHeartbeatInterval = 15 * time.Second
)

// taskEvent is one task status change pushed to the monitor page.
type taskEvent struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Pending int64  `json:"pending"`
}

// handleSSE streams task activity: a connected event, heartbeats, and a
// task event whenever a record changes status. The stream polls the
// database; clients reconnect via EventSource's built-in retry.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		// Tests exercise the handshake without a DB.
		if db == nil {
			return
		}

		lastCheck := time.Now()
		ctx := c.Request.Context()
		ticker := time.NewTicker(ssePollInterval)
		heartbeat := time.NewTicker(sseHeartbeatInterval)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				var changed []models.TaskRecord
				if err := db.Where("updated_at > ?", lastCheck).
					Order("updated_at ASC").
					Find(&changed).Error; err != nil {
					log.Printf("dashboard: sse poll: %v", err)
					continue
				}
				lastCheck = time.Now()

				if len(changed) == 0 {
					continue
				}

				var pending int64
				db.Model(&models.TaskRecord{}).
					Where("status = ?", models.TaskPending).
					Count(&pending)

				for _, rec := range changed {
					writeSSE(c.Writer, "task", taskEvent{
						UUID:    rec.UUID,
						Name:    rec.Name,
						Status:  rec.Status,
						Error:   rec.Error,
						Pending: pending,
					})
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
