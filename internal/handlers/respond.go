package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"punch-chat/internal/auth"
	"punch-chat/internal/services"
	"punch-chat/internal/summary"
	"punch-chat/pkg/logger"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("http.encode_failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON reads a size-limited JSON body. An empty body leaves v untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func pathInt(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

// writeServiceError maps domain errors to HTTP statuses in one place.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "Room not found or you are not a member")
	case errors.Is(err, services.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, services.ErrAlreadyMember):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidRoom),
		errors.Is(err, services.ErrNotGroupRoom),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrInvalidQuery),
		errors.Is(err, services.ErrSelfAction),
		errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAccountTaken):
		writeError(w, http.StatusBadRequest, "Email or username already taken")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, auth.ErrInactiveUser):
		writeError(w, http.StatusForbidden, "User account is inactive")
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrWrongTokenKind):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, summary.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "Summaries are not available")
	default:
		logger.Error("http.internal_error", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
