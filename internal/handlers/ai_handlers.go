package handlers

import (
	"net/http"

	"punch-chat/internal/models"
	"punch-chat/internal/services"
	"punch-chat/internal/summary"
)

const defaultSummaryMessages = 100

type AIHandlers struct {
	summaryService *services.SummaryService
}

func NewAIHandlers(summaryService *services.SummaryService) *AIHandlers {
	return &AIHandlers{summaryService: summaryService}
}

func (h *AIHandlers) Summarize(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	roomID, err := pathInt(r, "room_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := models.SummaryRequest{MaxMessages: defaultSummaryMessages, Style: summary.StyleShort}
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.MaxMessages == 0 {
		req.MaxMessages = defaultSummaryMessages
	}

	resp, err := h.summaryService.SummarizeRoom(r.Context(), roomID, user.ID, req.MaxMessages, req.Style)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
