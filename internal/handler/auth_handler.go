package handler

import (
	"net/http"
	"strings"
	"time"

	"attendance-service/internal/models"
	"attendance-service/internal/service"
	"attendance-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DeviceHeader carries the client's device fingerprint on authenticated calls.
const DeviceHeader = "X-Device-ID"

// AuthHandler handles login, logout and the password lifecycle
type AuthHandler struct {
	auth   *service.AuthService
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger,
	}
}

type logoutRequest struct {
	DeviceID string `json:"deviceId" validate:"omitempty,max=256"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=256"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=128"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=128"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=128"`
}

// Login handles credential sign-in
// @Summary Sign in with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.LoginRequest true "Login request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(result, "Login successful"))
	h.logger.Debug("Login via HTTP",
		util.String("account_id", result.Account.ID),
		util.Duration("duration", time.Since(startTime)))
}

// Logout removes the presented device from the caller's registry
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		deviceID = strings.TrimSpace(r.Header.Get(DeviceHeader))
	}

	if err := h.auth.Logout(r.Context(), AccountFromContext(r.Context()), deviceID, requestMeta(r)); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// ForgotPassword always answers with the same message
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	if err := h.auth.ForgotPassword(r.Context(), req.Email, requestMeta(r)); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "If the email is registered, a reset link has been sent"))
}

// ResetPassword consumes a reset token
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword, requestMeta(r)); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Password has been reset, please log in"))
}

// ChangePassword sets a new password and returns a fresh token
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	result, err := h.auth.ChangePassword(r.Context(), AccountFromContext(r.Context()), req.CurrentPassword, req.NewPassword, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(result, "Password changed"))
}

// Me returns the caller's account summary
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	respondWithJSON(w, http.StatusOK, successResponse(account.Summary(), ""))
}

// Devices lists the caller's registered devices
// @Router /auth/devices [get]
func (h *AuthHandler) Devices(w http.ResponseWriter, r *http.Request) {
	devices := AccountFromContext(r.Context()).Devices
	if devices == nil {
		devices = models.DeviceRegistry{}
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"devices":    devices,
		"maxDevices": models.MaxDevices,
	}, ""))
}

// RemoveDevice frees a registry slot
// @Router /auth/devices/{deviceID} [delete]
func (h *AuthHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if err := h.auth.RemoveDevice(r.Context(), AccountFromContext(r.Context()), deviceID, requestMeta(r)); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Device removed"))
}
