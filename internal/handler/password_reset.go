package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/tripcms/internal/apperror"
	"github.com/sakif/tripcms/internal/middleware"
	"github.com/sakif/tripcms/internal/service"
)

// forgotPasswordMessage is returned whether or not the address matched an
// account.
const forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent."

type ResetHandler struct {
	resets *service.PasswordResetService
}

func NewResetHandler(resets *service.PasswordResetService) *ResetHandler {
	return &ResetHandler{resets: resets}
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"    validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ValidTokenResponse answers the reset form's token check.
type ValidTokenResponse struct {
	Valid bool `json:"valid"`
}

// HandleForgotPassword starts a reset.
//
// HTTP: POST /api/auth/forgot-password
func (h *ResetHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.resets.RequestReset(r.Context(), req.Email)
	middleware.RecordAuthAttempt(middleware.EventResetRequest, err == nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: forgotPasswordMessage})
}

// HandleValidateToken reports whether a reset token can still be used.
//
// HTTP: GET /api/auth/validate-reset-token/{token}
func (h *ResetHandler) HandleValidateToken(w http.ResponseWriter, r *http.Request) {
	if !h.resets.ValidateToken(r.Context(), chi.URLParam(r, "token")) {
		writeError(w, r, apperror.InvalidResetToken())
		return
	}
	writeJSON(w, http.StatusOK, ValidTokenResponse{Valid: true})
}

// HandleResetPassword redeems a token.
//
// HTTP: POST /api/auth/reset-password
func (h *ResetHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.resets.Redeem(r.Context(), req.Token, req.Password)
	middleware.RecordAuthAttempt(middleware.EventResetRedeem, err == nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "password has been reset"})
}
