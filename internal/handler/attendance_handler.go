package handler

import (
	"net/http"

	"attendance-service/internal/geo"
	"attendance-service/internal/models"
	"attendance-service/internal/service"
	"attendance-service/internal/util"

	"go.uber.org/zap"
)

// AttendanceHandler exposes the caller's own check-in state machine
type AttendanceHandler struct {
	tracker *service.AttendanceService
	logger  *zap.Logger
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(tracker *service.AttendanceService, logger *zap.Logger) *AttendanceHandler {
	return &AttendanceHandler{
		tracker: tracker,
		logger:  logger,
	}
}

type checkInRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	WorkMode  string   `json:"workMode" validate:"required"`
}

type checkOutRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// CheckIn opens today's record
// @Summary Check in for today
// @Tags attendance
// @Accept json
// @Produce json
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /attendance/checkin [post]
func (h *AttendanceHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	mode, ok := models.ParseWorkMode(req.WorkMode)
	if !ok {
		respondWithError(w, r, h.logger, service.ErrInvalidWorkMode)
		return
	}

	account := AccountFromContext(r.Context())
	coords := geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	rec, err := h.tracker.CheckIn(r.Context(), account.ID, "", coords, mode)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(rec, "Checked in"))
}

// CheckOut closes today's record
// @Summary Check out for today
// @Tags attendance
// @Router /attendance/checkout [post]
func (h *AttendanceHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	var req checkOutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	account := AccountFromContext(r.Context())
	coords := geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	rec, err := h.tracker.CheckOut(r.Context(), account.ID, "", coords)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(rec, "Checked out"))
	h.logger.Debug("Checkout via HTTP",
		util.String("account_id", account.ID),
		util.Float64("working_hours", rec.WorkingHours))
}

// Today returns today's record; data is null before check-in.
// @Router /attendance/today [get]
func (h *AttendanceHandler) Today(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	rec, err := h.tracker.Today(r.Context(), account.ID, "")
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"date":   h.tracker.CurrentDate(),
		"record": rec,
	}, ""))
}

// History returns a date range with its summary
// @Param from query string false "YYYY-MM-DD"
// @Param to query string false "YYYY-MM-DD"
// @Router /attendance/history [get]
func (h *AttendanceHandler) History(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	q := r.URL.Query()
	history, err := h.tracker.History(r.Context(), account.ID, q.Get("from"), q.Get("to"))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(history, ""))
}
