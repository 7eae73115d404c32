package handlers

import (
	"errors"
	"io"
	"net/http"

	"raffle/internal/models"
	"raffle/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
)

// HTTPHandler exposes the raffle service to the operator's browser.
type HTTPHandler struct {
	service        *services.RaffleService
	maxUploadBytes int64
}

// NewHTTPHandler creates a new HTTPHandler. maxUploadBytes caps the participant file size.
func NewHTTPHandler(service *services.RaffleService, maxUploadBytes int64) *HTTPHandler {
	return &HTTPHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes registers all the application routes.
func (h *HTTPHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", h.Health)

	api := router.Group("/api")
	api.GET("/state", h.GetState)
	api.GET("/events", h.StreamEvents)
	api.POST("/upload", h.UploadParticipants)
	api.POST("/preview/confirm", h.ConfirmPreview)
	api.POST("/preview/back", h.BackToUpload)
	api.PUT("/config", h.UpdateConfig)
	api.POST("/config/back", h.BackToPreview)
	api.POST("/draw", h.StartDraw)
	api.POST("/reveal/next", h.AdvanceReveal)
	api.GET("/results/export", h.ExportResults)
	api.POST("/history", h.ViewHistory)
	api.POST("/history/back", h.BackFromHistory)
	api.DELETE("/history", h.ClearHistory)
	api.GET("/history/:id/export", h.ExportHistoryEntry)
	api.POST("/reset", h.NewDraw)
	api.DELETE("/notice", h.DismissNotice)
}

// Health reports that the process is serving.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respond writes the current state, or maps err to a status code.
func (h *HTTPHandler) respond(c *gin.Context, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, services.ErrInvalidTransition):
			status = http.StatusConflict
		case isIngestionError(err):
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.service.State())
}

func isIngestionError(err error) bool {
	for _, target := range []error{
		services.ErrUnsupportedFile,
		services.ErrEmptyFile,
		services.ErrMissingColumns,
		services.ErrNoValidRows,
		services.ErrReadFailure,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// GetState returns the current snapshot.
func (h *HTTPHandler) GetState(c *gin.Context) {
	h.respond(c, nil)
}

// UploadParticipants handles the participant spreadsheet upload.
func (h *HTTPHandler) UploadParticipants(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error retrieving file: " + err.Error()})
		return
	}
	defer file.Close()

	_, err = h.service.Upload(header.Filename, file)
	h.respond(c, err)
}

// ConfirmPreview moves from the participant preview to configuration.
func (h *HTTPHandler) ConfirmPreview(c *gin.Context) {
	h.respond(c, h.service.ConfirmPreview())
}

// BackToUpload discards the loaded file.
func (h *HTTPHandler) BackToUpload(c *gin.Context) {
	h.respond(c, h.service.BackToUpload())
}

// UpdateConfig stores the operator's draw settings.
func (h *HTTPHandler) UpdateConfig(c *gin.Context) {
	var cfg models.DrawConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config: " + err.Error()})
		return
	}
	_, err := h.service.UpdateConfig(cfg)
	h.respond(c, err)
}

// BackToPreview leaves configuration without drawing.
func (h *HTTPHandler) BackToPreview(c *gin.Context) {
	h.respond(c, h.service.BackToPreview())
}

// StartDraw performs the draw.
func (h *HTTPHandler) StartDraw(c *gin.Context) {
	h.respond(c, h.service.StartDraw(c.Request.Context()))
}

// AdvanceReveal moves past the revealed top winner.
func (h *HTTPHandler) AdvanceReveal(c *gin.Context) {
	h.respond(c, h.service.Advance(c.Request.Context()))
}

// ViewHistory switches to the history view.
func (h *HTTPHandler) ViewHistory(c *gin.Context) {
	h.respond(c, h.service.ViewHistory(c.Request.Context()))
}

// BackFromHistory returns to the results.
func (h *HTTPHandler) BackFromHistory(c *gin.Context) {
	h.respond(c, h.service.BackFromHistory())
}

// ClearHistory wipes the stored draws.
func (h *HTTPHandler) ClearHistory(c *gin.Context) {
	h.respond(c, h.service.ClearHistory(c.Request.Context()))
}

// NewDraw resets everything but the history.
func (h *HTTPHandler) NewDraw(c *gin.Context) {
	h.service.NewDraw()
	h.respond(c, nil)
}

// DismissNotice hides the error notice.
func (h *HTTPHandler) DismissNotice(c *gin.Context) {
	h.service.DismissNotice()
	h.respond(c, nil)
}

// StreamEvents pushes spin frames and step changes as Server-Sent Events.
func (h *HTTPHandler) StreamEvents(c *gin.Context) {
	events, unsubscribe := h.service.Subscribe()
	defer unsubscribe()

	c.SSEvent("state", h.service.State())
	// Stream only flushes after an event, so send headers and the snapshot now.
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// ExportResults downloads the winners of the draw on screen.
func (h *HTTPHandler) ExportResults(c *gin.Context) {
	record, ok := h.service.LastDraw()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "There is no finished draw to export"})
		return
	}
	h.writeExport(c, record)
}

// ExportHistoryEntry downloads the winners of a past draw.
func (h *HTTPHandler) ExportHistoryEntry(c *gin.Context) {
	record, ok := h.service.FindDraw(c.Request.Context(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draw not found"})
		return
	}
	h.writeExport(c, record)
}

func (h *HTTPHandler) writeExport(c *gin.Context, record models.DrawRecord) {
	switch c.DefaultQuery("format", "xlsx") {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", "attachment;filename="+services.ExportFilename(record.ID, "csv"))
		if err := services.WriteWinnersCSV(c.Writer, record.Winners); err != nil {
			logger.Errorf("Error writing CSV export for %s: %v", record.ID, err)
			c.Status(http.StatusInternalServerError)
		}
	case "xlsx":
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment;filename="+services.ExportFilename(record.ID, "xlsx"))
		if err := services.WriteWinnersWorkbook(c.Writer, record.Winners); err != nil {
			logger.Errorf("Error writing workbook export for %s: %v", record.ID, err)
			c.Status(http.StatusInternalServerError)
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown export format"})
	}
}
