package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"punch-chat/internal/auth"
	"punch-chat/internal/config"
	"punch-chat/internal/metrics"
	"punch-chat/internal/models"
	"punch-chat/internal/services"
	"punch-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

const leaveTimeout = 2 * time.Second

type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateAuthorizing
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthorizing:
		return "authorizing"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Authenticator interface {
	ResolveAccessToken(ctx context.Context, token string) (*models.User, error)
}

type RoomAuthorizer interface {
	GetRoomForUser(ctx context.Context, roomID, userID int) (*models.Room, error)
}

type MessagePoster interface {
	PostMessage(ctx context.Context, roomID, senderID int, text string) (services.PostResult, error)
}

// SessionHandler upgrades /ws/chat requests and runs one session per
// connection.
type SessionHandler struct {
	auth     Authenticator
	rooms    RoomAuthorizer
	messages MessagePoster
	hub      Hub
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewSessionHandler(authn Authenticator, rooms RoomAuthorizer, messages MessagePoster, hub Hub, cfg config.WebSocketConfig, allowedOrigins []string) *SessionHandler {
	return &SessionHandler{
		auth:     authn,
		rooms:    rooms,
		messages: messages,
		hub:      hub,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP always upgrades first so that rejections carry a close code the
// client can act on.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws.upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s := &session{
		h:     h,
		conn:  NewConn(ws, h.cfg.SendBuffer, h.cfg.MaxMessageSize),
		state: StateConnecting,
	}
	s.log = logger.With("conn_id", s.conn.ID())

	// The request context is detached from a hijacked connection.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	code := s.run(ctx, r)
	s.conn.Wait()

	metrics.SessionsClosed.WithLabelValues(strconv.Itoa(code)).Inc()
	s.log.Info("ws.session_closed", "user_id", s.userID, "room_id", s.roomID, "code", code, "last_state", s.state.String())
	s.state = StateClosed
}

type session struct {
	h      *SessionHandler
	conn   *Conn
	log    *slog.Logger
	state  SessionState
	userID int
	roomID int
}

func (s *session) run(ctx context.Context, r *http.Request) (code int) {
	// A panic must still close the socket; net/http does not for hijacked
	// connections.
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("ws.session_panic", "user_id", s.userID, "room_id", s.roomID, "panic", p, "stack", string(debug.Stack()))
			code = websocket.CloseInternalServerErr
			s.conn.CloseWith(code, closeReason(code))
		}
	}()

	if code := s.handshake(ctx, r); code != 0 {
		s.conn.CloseWith(code, closeReason(code))
		return code
	}

	s.conn.userID = s.userID
	s.h.hub.Join(ctx, s.roomID, s.conn)
	metrics.ConnectionsActive.Inc()
	s.state = StateJoined
	s.log.Info("ws.joined", "user_id", s.userID, "room_id", s.roomID)

	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaveTimeout)
		s.h.hub.Leave(leaveCtx, s.roomID, s.conn)
		cancel()
		metrics.ConnectionsActive.Dec()
	}()

	return s.loop(ctx)
}

// handshake authenticates and authorizes within the handshake timeout. It
// returns 0 on success or the close code to reject with.
func (s *session) handshake(ctx context.Context, r *http.Request) int {
	if s.h.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.h.cfg.HandshakeTimeout)
		defer cancel()
	}

	s.state = StateAuthenticating
	token := auth.TokenFromRequest(r)
	if token == "" {
		return CloseInvalidToken
	}
	user, err := s.h.auth.ResolveAccessToken(ctx, token)
	if err != nil {
		code := authCloseCode(err)
		if code == websocket.CloseInternalServerErr {
			logger.Error("ws.authenticate_failed", "err", err)
		}
		return code
	}
	s.userID = user.ID

	s.state = StateAuthorizing
	roomID, err := strconv.Atoi(r.URL.Query().Get("room_id"))
	if err != nil || roomID <= 0 {
		return CloseNotMember
	}
	s.roomID = roomID
	if _, err := s.h.rooms.GetRoomForUser(ctx, roomID, user.ID); err != nil {
		code := roomCloseCode(err)
		if code == websocket.CloseInternalServerErr {
			logger.Error("ws.authorize_failed", "user_id", user.ID, "room_id", roomID, "err", err)
		}
		return code
	}
	return 0
}

// loop handles frames in arrival order. The reader runs ahead by at most one
// frame so a disconnect cancels the post in flight.
func (s *session) loop(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			data, err := s.conn.Read()
			if err != nil {
				readErr <- err
				cancel()
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case data := <-frames:
			if code := s.handleFrame(ctx, data); code != 0 {
				s.conn.CloseWith(code, closeReason(code))
				return code
			}

		case err := <-readErr:
			s.conn.Close()
			return readCloseCode(err)

		case <-s.conn.Done():
			return s.conn.CloseCode()
		}
	}
}

// handleFrame returns a close code when the session must end.
func (s *session) handleFrame(ctx context.Context, data []byte) int {
	var in models.InboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return websocket.CloseUnsupportedData
	}
	if strings.TrimSpace(in.Content) == "" {
		return 0
	}

	res, err := s.h.messages.PostMessage(ctx, s.roomID, s.userID, in.Content)
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		// Membership or the room went away while joined.
		return CloseNotMember
	case err != nil && ctx.Err() != nil:
		return 0
	case err != nil:
		logger.Error("ws.post_failed", "conn_id", s.conn.ID(), "room_id", s.roomID, "user_id", s.userID, "err", err)
		s.unicast(models.NewErrorFrame("Message could not be sent"))
		return 0
	case res.Blocked:
		s.unicast(models.NewErrorFrame("Your message was blocked: " + res.Reason))
		return 0
	}

	payload, err := json.Marshal(models.NewMessageFrame(res.Message))
	if err != nil {
		logger.Error("ws.encode_failed", "message_id", res.Message.ID, "err", err)
		return 0
	}
	// Committed rows are delivered even if the sender has just gone.
	s.h.hub.Publish(context.WithoutCancel(ctx), s.roomID, payload, s.conn.ID())
	return 0
}

func (s *session) unicast(frame models.ErrorFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := s.conn.Send(payload); err != nil {
		logger.Debug("ws.unicast_dropped", "conn_id", s.conn.ID(), "err", err)
	}
}

func readCloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
