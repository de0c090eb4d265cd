package services

import "errors"

var (
	// ErrRoomNotFound covers both a missing room and a caller who is not a
	// member, so room existence is never leaked.
	ErrRoomNotFound = errors.New("room not found or you are not a member")

	ErrInvalidRoom   = errors.New("invalid room")
	ErrNotGroupRoom  = errors.New("can only add members to group rooms")
	ErrUserNotFound  = errors.New("user not found")
	ErrAlreadyMember = errors.New("user is already a member of this room")
	ErrEmptyMessage  = errors.New("message content is empty")
	ErrInvalidQuery  = errors.New("invalid search query")
	ErrSelfAction    = errors.New("action not allowed on your own account")
)
