package services

import (
	"context"
	"sync"
	"testing"

	"punch-chat/internal/database"
	"punch-chat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUsers(t *testing.T, db *database.MemoryDB, names ...string) []*models.User {
	t.Helper()
	out := make([]*models.User, 0, len(names))
	for _, n := range names {
		u, err := db.CreateUser(context.Background(), n+"@example.com", n, "hash")
		require.NoError(t, err)
		out = append(out, u)
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestRoomService_DirectRoomDedup(t *testing.T) {
	db := database.NewMemoryDB()
	s := NewRoomService(db)
	ctx := context.Background()
	u := newUsers(t, db, "alice", "bob")

	r1, err := s.GetOrCreateDirectRoom(ctx, u[0].ID, u[1].ID)
	require.NoError(t, err)
	r2, err := s.GetOrCreateDirectRoom(ctx, u[1].ID, u[0].ID)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID)

	r3, err := s.CreateRoom(ctx, &models.CreateRoomRequest{Type: models.RoomTypeDirect, MemberIDs: []int{u[0].ID}}, u[1].ID)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r3.ID)

	rooms, err := s.ListRoomsForUser(ctx, u[0].ID)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}

func TestRoomService_DirectRoomConcurrent(t *testing.T) {
	db := database.NewMemoryDB()
	s := NewRoomService(db)
	u := newUsers(t, db, "alice", "bob")

	var wg sync.WaitGroup
	ids := make(chan int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := u[0].ID, u[1].ID
			if i%2 == 0 {
				a, b = b, a
			}
			r, err := s.GetOrCreateDirectRoom(context.Background(), a, b)
			if assert.NoError(t, err) {
				ids <- r.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	first := <-ids
	for id := range ids {
		assert.Equal(t, first, id)
	}
}

// slowDirectDB holds GetOrCreateDirectRoom until released and records the
// context it ran with.
type slowDirectDB struct {
	*database.MemoryDB
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (db *slowDirectDB) GetOrCreateDirectRoom(ctx context.Context, a, b int, name *string) (*models.Room, bool, error) {
	db.once.Do(func() { close(db.entered) })
	<-db.release
	select {
	case db.ctxErr <- ctx.Err():
	default:
	}
	return db.MemoryDB.GetOrCreateDirectRoom(ctx, a, b, name)
}

func TestRoomService_DirectRoomSurvivesCancelledCaller(t *testing.T) {
	mem := database.NewMemoryDB()
	u := newUsers(t, mem, "alice", "bob")
	db := &slowDirectDB{
		MemoryDB: mem,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
		ctxErr:   make(chan error, 1),
	}
	s := NewRoomService(db)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.GetOrCreateDirectRoom(ctx, u[0].ID, u[1].ID)
		firstErr <- err
	}()
	<-db.entered

	second := make(chan *models.Room, 1)
	go func() {
		r, err := s.GetOrCreateDirectRoom(context.Background(), u[1].ID, u[0].ID)
		if assert.NoError(t, err) {
			second <- r
		} else {
			second <- nil
		}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(db.release)
	assert.NoError(t, <-db.ctxErr)

	r := <-second
	require.NotNil(t, r)
	assert.Equal(t, models.RoomTypeDirect, r.Type)
}

func TestRoomService_DirectRoomValidation(t *testing.T) {
	db := database.NewMemoryDB()
	s := NewRoomService(db)
	ctx := context.Background()
	u := newUsers(t, db, "alice", "bob", "carol")

	_, err := s.GetOrCreateDirectRoom(ctx, u[0].ID, u[0].ID)
	assert.ErrorIs(t, err, ErrInvalidRoom)

	_, err = s.GetOrCreateDirectRoom(ctx, u[0].ID, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.CreateRoom(ctx, &models.CreateRoomRequest{
		Type: models.RoomTypeDirect, MemberIDs: []int{u[1].ID, u[2].ID},
	}, u[0].ID)
	assert.ErrorIs(t, err, ErrInvalidRoom)

	_, err = s.CreateRoom(ctx, &models.CreateRoomRequest{Type: models.RoomTypeDirect}, u[0].ID)
	assert.ErrorIs(t, err, ErrInvalidRoom)
}

func TestRoomService_CreateGroup(t *testing.T) {
	db := database.NewMemoryDB()
	s := NewRoomService(db)
	ctx := context.Background()
	u := newUsers(t, db, "alice", "bob")

	_, err := s.CreateRoom(ctx, &models.CreateRoomRequest{Type: models.RoomTypeGroup, MemberIDs: []int{u[0].ID}}, u[0].ID)
	assert.ErrorIs(t, err, ErrInvalidRoom)

	_, err = s.CreateRoom(ctx, &models.CreateRoomRequest{Type: "channel", MemberIDs: []int{u[1].ID}}, u[0].ID)
	assert.ErrorIs(t, err, ErrInvalidRoom)

	_, err = s.CreateRoom(ctx, &models.CreateRoomRequest{Type: models.RoomTypeGroup, MemberIDs: []int{404}}, u[0].ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	room, err := s.CreateRoom(ctx, &models.CreateRoomRequest{
		Name: strPtr("  team  "), Type: models.RoomTypeGroup, MemberIDs: []int{u[1].ID, u[1].ID},
	}, u[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "team", *room.Name)

	members, err := s.ListMembers(ctx, room.ID, u[1].ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestRoomService_GetRoomForUser(t *testing.T) {
	db := database.NewMemoryDB()
	s := NewRoomService(db)
	ctx := context.Background()
	u := newUsers(t, db, "alice", "bob", "mallory")

	room, err := s.GetOrCreateDirectRoom(ctx, u[0].ID, u[1].ID)
	require.NoError(t, err)

	_, err = s.GetRoomForUser(ctx, room.ID, u[0].ID)
	assert.NoError(t, err)

	_, notMember := s.GetRoomForUser(ctx, room.ID, u[2].ID)
	_, missing := s.GetRoomForUser(ctx, 12345, u[2].ID)
	assert.ErrorIs(t, notMember, ErrRoomNotFound)
	assert.ErrorIs(t, missing, ErrRoomNotFound)
	assert.Equal(t, missing.Error(), notMember.Error())

	db.SetRoomActive(room.ID, false)
	_, err = s.GetRoomForUser(ctx, room.ID, u[0].ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomService_AddMemberToGroup(t *testing.T) {
	db := database.NewMemoryDB()
	s := NewRoomService(db)
	ctx := context.Background()
	u := newUsers(t, db, "alice", "bob", "carol", "dave")

	group, err := s.CreateRoom(ctx, &models.CreateRoomRequest{Type: models.RoomTypeGroup, MemberIDs: []int{u[1].ID}}, u[0].ID)
	require.NoError(t, err)
	direct, err := s.GetOrCreateDirectRoom(ctx, u[0].ID, u[1].ID)
	require.NoError(t, err)

	tests := []struct {
		name     string
		roomID   int
		actorID  int
		username string
		wantErr  error
	}{
		{"missing room", 999, u[0].ID, "carol", ErrRoomNotFound},
		{"direct room", direct.ID, u[0].ID, "carol", ErrNotGroupRoom},
		{"actor not member", group.ID, u[3].ID, "carol", ErrRoomNotFound},
		{"unknown target", group.ID, u[0].ID, "nobody", ErrUserNotFound},
		{"already member", group.ID, u[0].ID, "bob", ErrAlreadyMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddMemberToGroup(ctx, tt.roomID, tt.actorID, tt.username)
			assert.ErrorIs(t, err, tt.wantErr)

			members, err := db.GetRoomMembers(ctx, group.ID)
			require.NoError(t, err)
			assert.Len(t, members, 2)
		})
	}

	_, err = s.AddMemberToGroup(ctx, group.ID, u[1].ID, "carol")
	require.NoError(t, err)
	_, err = s.GetRoomForUser(ctx, group.ID, u[2].ID)
	assert.NoError(t, err)
}
