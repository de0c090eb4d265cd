package handlers

import (
	"errors"
	"net/http"

	"punch-chat/internal/auth"
	"punch-chat/internal/models"
)

type AuthHandlers struct {
	authService *auth.Service
}

func NewAuthHandlers(authService *auth.Service) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	pair, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	pair, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInactiveUser) {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrentUser(r.Context()))
}

func (h *AuthHandlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req models.PasswordResetRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	resp, err := h.authService.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandlers) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	var req models.ResetTokenRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	userID, err := h.authService.ValidateResetToken(r.Context(), req.Token)
	if err != nil {
		if isTokenError(err) {
			writeError(w, http.StatusBadRequest, "Invalid or expired reset token")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ResetTokenValidation{UserID: userID, Message: "Token is valid"})
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.PasswordReset
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		if isTokenError(err) {
			writeError(w, http.StatusBadRequest, "Invalid or expired reset token")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset successfully"})
}

func isTokenError(err error) bool {
	return errors.Is(err, auth.ErrInvalidToken) ||
		errors.Is(err, auth.ErrExpiredToken) ||
		errors.Is(err, auth.ErrWrongTokenKind) ||
		errors.Is(err, auth.ErrInactiveUser)
}
