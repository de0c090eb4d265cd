package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"punch-chat/internal/database"
	"punch-chat/internal/models"
	"punch-chat/pkg/logger"

	"golang.org/x/sync/singleflight"
)

type RoomService struct {
	db     database.Database
	direct singleflight.Group
}

func NewRoomService(db database.Database) *RoomService {
	return &RoomService{db: db}
}

// CreateRoom always includes the caller. Direct rooms go through
// GetOrCreateDirectRoom so a pair never gets a second one.
func (s *RoomService) CreateRoom(ctx context.Context, req *models.CreateRoomRequest, callerID int) (*models.Room, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: room_type must be direct or group", ErrInvalidRoom)
	}

	members := uniqueMembers(callerID, req.MemberIDs)
	name := normalizeName(req.Name)

	if req.Type == models.RoomTypeDirect {
		if len(members) != 2 {
			return nil, fmt.Errorf("%w: direct room must have exactly 2 distinct members", ErrInvalidRoom)
		}
		return s.getOrCreateDirect(ctx, members[0], members[1], name)
	}

	if len(members) < 2 {
		return nil, fmt.Errorf("%w: group room must have at least 2 members", ErrInvalidRoom)
	}

	room, err := s.db.CreateRoom(ctx, name, members)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	logger.Info("room.created", "room_id", room.ID, "type", room.Type, "members", members)
	return room, nil
}

// GetOrCreateDirectRoom is idempotent on the unordered pair (a, b).
func (s *RoomService) GetOrCreateDirectRoom(ctx context.Context, a, b int) (*models.Room, error) {
	if a == b {
		return nil, fmt.Errorf("%w: cannot open a direct room with yourself", ErrInvalidRoom)
	}
	return s.getOrCreateDirect(ctx, a, b, nil)
}

func (s *RoomService) getOrCreateDirect(ctx context.Context, a, b int, name *string) (*models.Room, error) {
	other, err := s.db.GetUserByID(ctx, b)
	if errors.Is(err, database.ErrNotFound) || (err == nil && !other.IsActive) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	lo, hi := database.DirectKey(a, b)
	key := fmt.Sprintf("%d:%d", lo, hi)

	// The flight is shared, so it must not die with whichever caller started
	// it. Each caller still stops waiting on its own context.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.direct.DoChan(key, func() (any, error) {
		room, created, err := s.db.GetOrCreateDirectRoom(flightCtx, lo, hi, name)
		if err != nil {
			return nil, err
		}
		if created {
			logger.Info("room.direct_created", "room_id", room.ID, "users", key)
		}
		return room, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v, err := res.Val, res.Err
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	room := *v.(*models.Room)
	return &room, nil
}

func (s *RoomService) AddMemberToGroup(ctx context.Context, roomID, actorID int, username string) (*models.Room, error) {
	room, err := s.GetRoomForUser(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	if room.Type != models.RoomTypeGroup {
		return nil, ErrNotGroupRoom
	}

	target, err := s.db.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	member, err := s.db.IsMember(ctx, roomID, target.ID)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, ErrAlreadyMember
	}

	// A concurrent add can still win the insert.
	err = s.db.AddMembership(ctx, roomID, target.ID)
	if errors.Is(err, database.ErrDuplicate) {
		return nil, ErrAlreadyMember
	}
	if err != nil {
		return nil, err
	}

	logger.Info("room.member_added", "room_id", roomID, "user_id", target.ID, "by", actorID)
	return room, nil
}

func (s *RoomService) ListRoomsForUser(ctx context.Context, userID int) ([]*models.Room, error) {
	return s.db.ListRoomsForUser(ctx, userID)
}

// GetRoomForUser is the one authorization predicate for reading or writing
// a room.
func (s *RoomService) GetRoomForUser(ctx context.Context, roomID, userID int) (*models.Room, error) {
	room, err := s.db.GetRoomForMember(ctx, roomID, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *RoomService) ListMembers(ctx context.Context, roomID, userID int) ([]*models.Member, error) {
	if _, err := s.GetRoomForUser(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.db.GetRoomMembers(ctx, roomID)
}

func uniqueMembers(callerID int, ids []int) []int {
	seen := map[int]bool{callerID: true}
	members := []int{callerID}
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	return members
}

func normalizeName(name *string) *string {
	if name == nil {
		return nil
	}
	n := strings.TrimSpace(*name)
	if n == "" {
		return nil
	}
	return &n
}
