package handlers

import (
	"context"
	"net/http"

	"punch-chat/internal/models"
	"punch-chat/internal/services"
)

type UserHandlers struct {
	userService *services.UserService
}

func NewUserHandlers(userService *services.UserService) *UserHandlers {
	return &UserHandlers{userService: userService}
}

func (h *UserHandlers) Search(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	users, err := h.userService.Search(r.Context(), user.ID, r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.userService.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *UserHandlers) ToggleActive(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.userService.ToggleActive)
}

func (h *UserHandlers) ToggleAdmin(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.userService.ToggleAdmin)
}

func (h *UserHandlers) toggle(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, adminID, userID int) (*models.User, error)) {
	admin := CurrentUser(r.Context())

	userID, err := pathInt(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := fn(r.Context(), admin.ID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
