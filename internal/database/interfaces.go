package database

import (
	"context"
	"errors"

	"punch-chat/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type UserRepository interface {
	CreateUser(ctx context.Context, email, username, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdatePassword(ctx context.Context, userID int, passwordHash string) error
	SetUserActive(ctx context.Context, userID int, active bool) error
	SetUserAdmin(ctx context.Context, userID int, admin bool) error
	SearchUsers(ctx context.Context, query string, excludeID, limit int) ([]*models.PublicUser, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
}

type RoomRepository interface {
	// CreateRoom inserts a group room and all its memberships atomically.
	CreateRoom(ctx context.Context, name *string, memberIDs []int) (*models.Room, error)
	// GetOrCreateDirectRoom returns the single direct room for the unordered
	// pair, creating it with both memberships when absent.
	GetOrCreateDirectRoom(ctx context.Context, userA, userB int, name *string) (room *models.Room, created bool, err error)
	// GetRoomForMember returns ErrNotFound unless the room is active and
	// userID is a member.
	GetRoomForMember(ctx context.Context, roomID, userID int) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID int) ([]*models.Room, error)
}

type MembershipRepository interface {
	AddMembership(ctx context.Context, roomID, userID int) error
	IsMember(ctx context.Context, roomID, userID int) (bool, error)
	GetRoomMembers(ctx context.Context, roomID int) ([]*models.Member, error)
}

type MessageRepository interface {
	// CreateMessage assigns id and a created_at that never goes backwards
	// within the room.
	CreateMessage(ctx context.Context, roomID, senderID int, content string) (*models.Message, error)
	// ListMessages is newest first, with sender usernames.
	ListMessages(ctx context.Context, roomID, limit, offset int) ([]*models.Message, error)
}

type StatsRepository interface {
	Stats(ctx context.Context) (*models.AdminStats, error)
}

type Database interface {
	UserRepository
	RoomRepository
	MembershipRepository
	MessageRepository
	StatsRepository
	Close() error
}

// DirectKey is the canonical key of an unordered user pair.
func DirectKey(a, b int) (lo, hi int) {
	if a > b {
		return b, a
	}
	return a, b
}
