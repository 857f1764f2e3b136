package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/kpark/internal/ingest"
	"github.com/goodtune/kpark/internal/plate"
	"github.com/goodtune/kpark/internal/session"
	"github.com/goodtune/kpark/internal/storage"
)

// defaultSource names the dedup filter for detections without a camera ID.
const defaultSource = "http"

type detectionRequest struct {
	Plate      string    `json:"plate" binding:"required"`
	Confidence float64   `json:"confidence" binding:"gte=0,lte=1"`
	Image      string    `json:"image"`
	Timestamp  time.Time `json:"timestamp"`
	CameraID   string    `json:"camera_id"`
}

type detectionResponse struct {
	Outcome         string                  `json:"outcome"`
	Plate           string                  `json:"plate,omitempty"`
	Session         *storage.ParkingSession `json:"session,omitempty"`
	DurationMinutes *float64                `json:"duration_minutes,omitempty"`
	AmountDue       string                  `json:"amount_due,omitempty"`
	Inconsistent    bool                    `json:"inconsistent,omitempty"`
}

type registerPlateRequest struct {
	Plate string `json:"plate" binding:"required"`
}

func (s *Server) createDetection(c *gin.Context) {
	var req detectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	source := req.CameraID
	if source == "" {
		source = defaultSource
	}

	filter, err := s.filters.For(source)
	if err != nil {
		s.logger.Error().Err(err).Str("source", source).Msg("Failed to create dedup filter")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	det := session.Detection{
		PlateRaw:   req.Plate,
		Confidence: req.Confidence,
		ImageRef:   req.Image,
		Timestamp:  req.Timestamp,
	}

	result, err := s.processor.Process(c.Request.Context(), det, filter)
	switch {
	case errors.Is(err, ingest.ErrSuppressed):
		c.JSON(http.StatusAccepted, detectionResponse{Outcome: "suppressed", Plate: result.Plate.String()})
		return
	case err != nil:
		s.handleError(c, err)
		return
	}

	resp := detectionResponse{
		Outcome:      result.Outcome.String(),
		Plate:        result.Plate.String(),
		Session:      result.Session,
		Inconsistent: result.Inconsistent,
	}
	if result.Outcome == session.ExitAccepted {
		resp.DurationMinutes = &result.DurationMinutes
		resp.AmountDue = result.AmountDue.StringFixed(2)
	}

	status := http.StatusOK
	if result.Outcome == session.EntryAccepted {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.engine.History(c.Request.Context(), c.Param("plate"))
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(sessions))
}

func (s *Server) listUnregistered(c *gin.Context) {
	key, err := plate.Normalize(c.Param("plate"))
	if err != nil {
		s.handleError(c, err)
		return
	}

	entries, err := s.store.Unregistered().ListUnregisteredEntries(c.Request.Context(), key.String())
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(entries))
}

func (s *Server) listAccountPlates(c *gin.Context) {
	plates, err := s.store.Accounts().AccountPlates(c.Request.Context(), c.Param("account"))
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(plates))
}

func (s *Server) registerPlate(c *gin.Context) {
	var req registerPlateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	key, err := plate.Normalize(req.Plate)
	if err != nil {
		s.handleError(c, err)
		return
	}

	account := c.Param("account")
	if err := s.store.Accounts().RegisterPlate(c.Request.Context(), account, key.String()); err != nil {
		s.handleError(c, err)
		return
	}

	s.logger.Info().Str("account", account).Str("plate", key.String()).Msg("Plate registered")
	c.JSON(http.StatusCreated, successResponse(gin.H{"account": account, "plate": key.String()}))
}

func (s *Server) removePlate(c *gin.Context) {
	key, err := plate.Normalize(c.Param("plate"))
	if err != nil {
		s.handleError(c, err)
		return
	}

	account := c.Param("account")
	if err := s.store.Accounts().RemovePlate(c.Request.Context(), account, key.String()); err != nil {
		s.handleError(c, err)
		return
	}

	s.logger.Info().Str("account", account).Str("plate", key.String()).Msg("Plate removed")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, plate.ErrInvalidPlate):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse("not found"))
	case errors.Is(err, storage.ErrPlateTaken):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, session.ErrConcurrentModification):
		c.JSON(http.StatusConflict, errorResponse("session changed concurrently, retry"))
	case errors.Is(err, session.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse("session store unavailable"))
	default:
		s.logger.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
