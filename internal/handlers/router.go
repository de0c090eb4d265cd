package handlers

import (
	"net/http"

	"punch-chat/internal/auth"
	"punch-chat/internal/config"
	"punch-chat/internal/metrics"
	"punch-chat/internal/services"
	ws "punch-chat/internal/websocket"

	"github.com/gorilla/mux"
)

// Services is everything the HTTP surface needs.
type Services struct {
	Auth     *auth.Service
	Rooms    *services.RoomService
	Messages *services.MessageService
	Users    *services.UserService
	Summary  *services.SummaryService
	Hub      ws.Hub
}

// NewRouter wires every route, middleware and handler.
func NewRouter(cfg *config.Config, svc Services) http.Handler {
	mw := NewMiddleware(cfg, svc.Auth)

	authH := NewAuthHandlers(svc.Auth)
	roomH := NewRoomHandlers(svc.Rooms, svc.Messages, svc.Hub)
	userH := NewUserHandlers(svc.Users)
	aiH := NewAIHandlers(svc.Summary)
	session := ws.NewSessionHandler(svc.Auth, svc.Rooms, svc.Messages, svc.Hub, cfg.WebSocket, cfg.Server.AllowedOrigins)

	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/ws/chat", session)

	api := r.PathPrefix("/api/v1").Subrouter()

	limited := func(h http.HandlerFunc) http.Handler { return mw.RateLimit(h) }
	authR := api.PathPrefix("/auth").Subrouter()
	authR.Handle("/register", limited(authH.Register)).Methods(http.MethodPost)
	authR.Handle("/login", limited(authH.Login)).Methods(http.MethodPost)
	authR.Handle("/refresh", limited(authH.Refresh)).Methods(http.MethodPost)
	authR.Handle("/password/reset-request", limited(authH.RequestPasswordReset)).Methods(http.MethodPost)
	authR.Handle("/password/validate-token", limited(authH.ValidateResetToken)).Methods(http.MethodPost)
	authR.Handle("/password/reset", limited(authH.ResetPassword)).Methods(http.MethodPost)
	authR.Handle("/me", mw.Auth(http.HandlerFunc(authH.Me))).Methods(http.MethodGet)

	chat := api.PathPrefix("/chat").Subrouter()
	chat.Use(mw.Auth)
	chat.HandleFunc("/rooms", roomH.CreateRoom).Methods(http.MethodPost)
	chat.HandleFunc("/rooms", roomH.ListRooms).Methods(http.MethodGet)
	chat.HandleFunc("/rooms/{room_id}/messages", roomH.History).Methods(http.MethodGet)
	chat.HandleFunc("/rooms/{room_id}/messages", roomH.SendMessage).Methods(http.MethodPost)
	chat.HandleFunc("/rooms/{room_id}/members", roomH.AddMember).Methods(http.MethodPost)
	chat.HandleFunc("/rooms/{room_id}/members", roomH.ListMembers).Methods(http.MethodGet)
	chat.HandleFunc("/rooms/{room_id}/online", roomH.Online).Methods(http.MethodGet)
	chat.HandleFunc("/direct/{other_user_id}", roomH.DirectRoom).Methods(http.MethodPost)

	users := api.PathPrefix("/users").Subrouter()
	users.Use(mw.Auth)
	users.HandleFunc("/search", userH.Search).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(mw.Auth, mw.Admin)
	admin.HandleFunc("/users", userH.ListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/stats", userH.Stats).Methods(http.MethodGet)
	admin.HandleFunc("/users/{user_id}/toggle-active", userH.ToggleActive).Methods(http.MethodPost)
	admin.HandleFunc("/users/{user_id}/toggle-admin", userH.ToggleAdmin).Methods(http.MethodPost)

	ai := api.PathPrefix("/ai").Subrouter()
	ai.Use(mw.Auth)
	ai.HandleFunc("/summary/rooms/{room_id}", aiH.Summarize).Methods(http.MethodPost)

	return mw.Wrap(r)
}
