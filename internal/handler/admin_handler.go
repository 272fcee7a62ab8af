package handler

import (
	"net/http"
	"strconv"
	"strings"

	"attendance-service/internal/audit"
	"attendance-service/internal/service"
	"attendance-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler handles employee, office location and reporting operations
type AdminHandler struct {
	admin  *service.AdminService
	logger *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin *service.AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger,
	}
}

type employeeStatusRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

type wfhRadiusRequest struct {
	RadiusMeters float64 `json:"radiusMeters" validate:"required,gte=10,lte=5000"`
}

// CreateEmployee provisions an account
// @Summary Create an employee account
// @Tags admin
// @Accept json
// @Produce json
// @Param request body service.CreateEmployeeRequest true "Employee"
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /admin/employees [post]
func (h *AdminHandler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req service.CreateEmployeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	summary, err := h.admin.CreateEmployee(r.Context(), req)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(summary, "Employee created successfully"))
	h.logger.Info("Employee created via HTTP",
		util.String("account_id", summary.ID),
		util.String("actor_id", AccountFromContext(r.Context()).ID))
}

// ListEmployees
// @Router /admin/employees [get]
func (h *AdminHandler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.admin.ListEmployees(r.Context())
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(employees, ""))
}

// GetEmployee
// @Router /admin/employees/{id} [get]
func (h *AdminHandler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	detail, err := h.admin.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(detail, ""))
}

// SetEmployeeStatus activates or deactivates an account
// @Router /admin/employees/{id}/status [patch]
func (h *AdminHandler) SetEmployeeStatus(w http.ResponseWriter, r *http.Request) {
	var req employeeStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.admin.SetEmployeeActive(r.Context(), AccountFromContext(r.Context()), id, *req.IsActive); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	message := "Employee deactivated"
	if *req.IsActive {
		message = "Employee activated"
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"id":       id,
		"isActive": *req.IsActive,
	}, message))
}

// UnlockEmployee clears a lockout early
// @Router /admin/employees/{id}/unlock [post]
func (h *AdminHandler) UnlockEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.admin.UnlockEmployee(r.Context(), AccountFromContext(r.Context()), id, requestMeta(r)); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Account unlocked"))
}

// ListOfficeLocations
// @Router /admin/office-locations [get]
func (h *AdminHandler) ListOfficeLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.admin.ListOfficeLocations(r.Context())
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(locations, ""))
}

// CreateOfficeLocation
// @Router /admin/office-locations [post]
func (h *AdminHandler) CreateOfficeLocation(w http.ResponseWriter, r *http.Request) {
	var req service.OfficeLocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	loc, err := h.admin.CreateOfficeLocation(r.Context(), req)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, successResponse(loc, "Office location created"))
}

// UpdateOfficeLocation applies a partial update
// @Router /admin/office-locations/{id} [patch]
func (h *AdminHandler) UpdateOfficeLocation(w http.ResponseWriter, r *http.Request) {
	var patch service.OfficeLocationPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	loc, err := h.admin.UpdateOfficeLocation(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(loc, "Office location updated"))
}

// SetWFHRadius changes the radius captured by future WFH check-ins
// @Router /admin/settings/wfh-radius [put]
func (h *AdminHandler) SetWFHRadius(w http.ResponseWriter, r *http.Request) {
	var req wfhRadiusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	previous, err := h.admin.SetWFHRadius(r.Context(), AccountFromContext(r.Context()), req.RadiusMeters)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"radiusMeters":         req.RadiusMeters,
		"previousRadiusMeters": previous,
	}, "WFH radius updated"))
}

// AttendanceForDate lists all records of a day
// @Param date query string false "YYYY-MM-DD, defaults to today"
// @Router /admin/attendance [get]
func (h *AdminHandler) AttendanceForDate(w http.ResponseWriter, r *http.Request) {
	rows, err := h.admin.AttendanceForDate(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

// DashboardStats
// @Router /admin/stats [get]
func (h *AdminHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.DashboardStats(r.Context())
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(stats, ""))
}

// SecurityEvents returns recent audit events
// @Param accountId query string false "Filter by account"
// @Param type query string false "Filter by event type"
// @Param limit query int false "Max events, up to 500"
// @Router /admin/security-events [get]
func (h *AdminHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		AccountID: strings.TrimSpace(q.Get("accountId")),
		EventType: strings.TrimSpace(q.Get("type")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, r, h.logger, service.ErrValidation.Withf("limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}

	events, err := h.admin.SecurityEvents(r.Context(), filter)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(events, ""))
}
