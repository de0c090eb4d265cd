package handlers

import (
	"encoding/json"
	"net/http"

	"punch-chat/internal/models"
	"punch-chat/internal/services"
	ws "punch-chat/internal/websocket"
	"punch-chat/pkg/logger"
)

type RoomHandlers struct {
	roomService    *services.RoomService
	messageService *services.MessageService
	hub            ws.Hub
}

func NewRoomHandlers(roomService *services.RoomService, messageService *services.MessageService, hub ws.Hub) *RoomHandlers {
	return &RoomHandlers{
		roomService:    roomService,
		messageService: messageService,
		hub:            hub,
	}
}

func (h *RoomHandlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	var req models.CreateRoomRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	room, err := h.roomService.CreateRoom(r.Context(), &req, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *RoomHandlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	rooms, err := h.roomService.ListRoomsForUser(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandlers) DirectRoom(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	otherID, err := pathInt(r, "other_user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if otherID == user.ID {
		writeError(w, http.StatusBadRequest, "Cannot create a direct room with yourself")
		return
	}

	room, err := h.roomService.GetOrCreateDirectRoom(r.Context(), user.ID, otherID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandlers) History(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	roomID, err := pathInt(r, "room_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.messageService.History(r.Context(), roomID, user.ID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage is the non-realtime send path. Live subscribers of the room
// still receive the message.
func (h *RoomHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	roomID, err := pathInt(r, "room_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req models.SendMessageRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	res, err := h.messageService.PostMessage(r.Context(), roomID, user.ID, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.Blocked {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  "Message blocked",
			"reason": res.Reason,
		})
		return
	}

	payload, err := json.Marshal(models.NewMessageFrame(res.Message))
	if err == nil {
		h.hub.Publish(r.Context(), roomID, payload, "")
	} else {
		logger.Error("http.frame_encode_failed", "message_id", res.Message.ID, "err", err)
	}
	writeJSON(w, http.StatusCreated, res.Message)
}

func (h *RoomHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	roomID, err := pathInt(r, "room_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req models.AddMemberRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	room, err := h.roomService.AddMemberToGroup(r.Context(), roomID, user.ID, req.Username)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	roomID, err := pathInt(r, "room_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	members, err := h.roomService.ListMembers(r.Context(), roomID, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *RoomHandlers) Online(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())

	roomID, err := pathInt(r, "room_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.roomService.GetRoomForUser(r.Context(), roomID, user.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	ids, err := h.hub.Online(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.OnlineUsers{RoomID: roomID, UserIDs: ids})
}
