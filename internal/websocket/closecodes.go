package websocket

import (
	"errors"

	"punch-chat/internal/auth"
	"punch-chat/internal/services"

	"github.com/gorilla/websocket"
)

// Application close codes sent during the handshake.
const (
	CloseInvalidToken   = 4401
	CloseWrongTokenKind = 4402
	CloseInactiveUser   = 4403
	CloseNotMember      = 4404
)

func authCloseCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrWrongTokenKind):
		return CloseWrongTokenKind
	case errors.Is(err, auth.ErrInactiveUser):
		return CloseInactiveUser
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return CloseInvalidToken
	default:
		return websocket.CloseInternalServerErr
	}
}

func roomCloseCode(err error) int {
	if errors.Is(err, services.ErrRoomNotFound) {
		return CloseNotMember
	}
	return websocket.CloseInternalServerErr
}

func closeReason(code int) string {
	switch code {
	case CloseInvalidToken:
		return "invalid token"
	case CloseWrongTokenKind:
		return "access token required"
	case CloseInactiveUser:
		return "inactive user"
	case CloseNotMember:
		return "not a member"
	case websocket.CloseUnsupportedData:
		return "malformed frame"
	case websocket.CloseInternalServerErr:
		return "internal error"
	default:
		return ""
	}
}
