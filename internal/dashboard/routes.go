package dashboard

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/obsarchive/quicklook/internal/filename"
	"github.com/obsarchive/quicklook/internal/models"
	"github.com/obsarchive/quicklook/internal/viewstate"
	"gorm.io/gorm"
)

const sessionCookie = "ql_session"

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB) {
	// Embedded static assets (served from assets/ subdir of the embed.FS).
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))

	// Pages.
	router.GET("/", handleIndex(db))
	router.GET("/archive/:instrument", handleArchive(db))
	router.GET("/archive/:instrument/:proposal", handleArchive(db))
	router.GET("/monitor", handleMonitor(db))

	// JSON API consumed by the embedded client script.
	router.GET("/api/archive/:instrument", handleListing(db))
	router.GET("/api/archive/:instrument/:proposal", handleListing(db))
	router.POST("/api/viewstate", handleSaveViewState(db))
	router.POST("/api/viewed/:root", handleToggleViewed(db))

	// SSE stream of task activity.
	router.GET("/api/events", handleSSE(db))
}

// sessionID returns the browser's session cookie, minting one on first
// contact. View states are keyed by it.
func sessionID(c *gin.Context) string {
	if id, err := c.Cookie(sessionCookie); err == nil && id != "" {
		return id
	}
	id := uuid.NewString()
	c.SetCookie(sessionCookie, id, 86400*30, "/", "", false, true)
	return id
}

func handleIndex(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.html", gin.H{
			"Instruments": InstrumentSummary(db),
		})
	}
}

func handleArchive(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		instrument := c.Param("instrument")
		if !filename.KnownInstrument(instrument) {
			c.HTML(http.StatusNotFound, "notfound.html", gin.H{
				"What": "instrument " + instrument,
			})
			return
		}
		c.HTML(http.StatusOK, "archive.html", gin.H{
			"Instrument": instrument,
			"Proposal":   c.Param("proposal"),
		})
	}
}

func handleMonitor(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "monitor.html", gin.H{
			"Tasks": RecentTaskRows(db, 50),
			"Locks": ActiveLocks(db),
		})
	}
}

// handleListing serves the archive listing payload: rows after the
// session's view state is applied, dropdown candidates from the full
// unfiltered scope, and the state itself so the client can render the
// controls.
func handleListing(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		instrument := c.Param("instrument")
		if !filename.KnownInstrument(instrument) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown instrument " + instrument})
			return
		}

		store := viewstate.NewStore(db)
		vs, err := store.Load(sessionID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		payload, err := ListingPayload(db, instrument, c.Param("proposal"), vs)
		if err != nil {
			if errors.Is(err, viewstate.ErrInvalidViewState) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, payload)
	}
}

// handleSaveViewState persists a new view state for the session. An
// unknown dimension or sort key is a client bug and gets a 400 with the
// reason, never a silent drop.
func handleSaveViewState(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var vs viewstate.ViewState
		if err := c.ShouldBindJSON(&vs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if vs.Filters == nil {
			vs.Filters = map[string]string{}
		}

		store := viewstate.NewStore(db)
		if err := store.Save(sessionID(c), vs); err != nil {
			if errors.Is(err, viewstate.ErrInvalidViewState) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, vs)
	}
}

// handleToggleViewed flips the viewed flag for one file root and echoes
// the authoritative stored value. Concurrent toggles resolve last writer
// wins; the response tells every client where the flag actually landed.
func handleToggleViewed(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		root := c.Param("root")

		var obs models.Observation
		err := db.Where("file_root = ?", root).First(&obs).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown file root " + root})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		flow := NewToggleFlow(root, obs.Viewed)
		res := db.Model(&models.Observation{}).
			Where("file_root = ?", root).
			Update("viewed", flow.Shown)
		if res.Error != nil {
			flow.Revert()
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  res.Error.Error(),
				"viewed": flow.Shown,
			})
			return
		}

		// Re-read so concurrent writers see the actual final value.
		var after models.Observation
		if err := db.Where("file_root = ?", root).First(&after).Error; err != nil {
			flow.Revert()
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  err.Error(),
				"viewed": flow.Shown,
			})
			return
		}
		flow.Confirm(after.Viewed)
		c.JSON(http.StatusOK, gin.H{"viewed": flow.Shown})
	}
}
