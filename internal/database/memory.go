package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"punch-chat/internal/models"
)

// MemoryDB is an in-process Database used for local runs (DATABASE_URL=memory://)
// and tests. It keeps the same invariants as PostgresDB.
type MemoryDB struct {
	mu sync.Mutex

	users       map[int]*models.User
	rooms       map[int]*models.Room
	directKeys  map[[2]int]int
	memberships map[int]map[int]time.Time // room -> user -> joined
	messages    map[int][]*models.Message // room -> oldest first

	nextUserID    int
	nextRoomID    int
	nextMessageID int

	now func() time.Time
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:       make(map[int]*models.User),
		rooms:       make(map[int]*models.Room),
		directKeys:  make(map[[2]int]int),
		memberships: make(map[int]map[int]time.Time),
		messages:    make(map[int][]*models.Message),
		now:         time.Now,
	}
}

// SetClock replaces the time source.
func (db *MemoryDB) SetClock(now func() time.Time) {
	db.mu.Lock()
	db.now = now
	db.mu.Unlock()
}

func (db *MemoryDB) Close() error { return nil }

func cloneUser(u *models.User) *models.User {
	c := *u
	return &c
}

func cloneRoom(r *models.Room) *models.Room {
	c := *r
	if r.Name != nil {
		name := *r.Name
		c.Name = &name
	}
	return &c
}

// User Repository Implementation
func (db *MemoryDB) CreateUser(ctx context.Context, email, username, passwordHash string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if strings.EqualFold(u.Email, email) {
			return nil, fmt.Errorf("%w: users_email_key", ErrDuplicate)
		}
		if u.Username == username {
			return nil, fmt.Errorf("%w: users_username_key", ErrDuplicate)
		}
	}

	db.nextUserID++
	u := &models.User{
		ID:           db.nextUserID,
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    db.now(),
	}
	db.users[u.ID] = u
	return cloneUser(u), nil
}

func (db *MemoryDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (db *MemoryDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (db *MemoryDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (db *MemoryDB) updateUser(userID int, fn func(*models.User)) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[userID]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	return nil
}

func (db *MemoryDB) UpdatePassword(ctx context.Context, userID int, passwordHash string) error {
	return db.updateUser(userID, func(u *models.User) { u.PasswordHash = passwordHash })
}

func (db *MemoryDB) SetUserActive(ctx context.Context, userID int, active bool) error {
	return db.updateUser(userID, func(u *models.User) { u.IsActive = active })
}

func (db *MemoryDB) SetUserAdmin(ctx context.Context, userID int, admin bool) error {
	return db.updateUser(userID, func(u *models.User) { u.IsAdmin = admin })
}

func (db *MemoryDB) SearchUsers(ctx context.Context, q string, excludeID, limit int) ([]*models.PublicUser, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	needle := strings.ToLower(q)
	users := []*models.PublicUser{}
	for _, u := range db.users {
		if u.ID == excludeID || !strings.Contains(strings.ToLower(u.Username), needle) {
			continue
		}
		users = append(users, &models.PublicUser{ID: u.ID, Username: u.Username})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (db *MemoryDB) ListUsers(ctx context.Context) ([]*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	users := make([]*models.User, 0, len(db.users))
	for _, u := range db.users {
		users = append(users, cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// Room Repository Implementation
func (db *MemoryDB) insertRoomLocked(name *string, t models.RoomType, memberIDs []int) (*models.Room, error) {
	for _, uid := range memberIDs {
		if _, ok := db.users[uid]; !ok {
			return nil, fmt.Errorf("failed to add members: user %d: %w", uid, ErrNotFound)
		}
	}

	db.nextRoomID++
	now := db.now()
	room := &models.Room{ID: db.nextRoomID, Name: name, Type: t, IsActive: true, CreatedAt: now}
	db.rooms[room.ID] = room

	members := make(map[int]time.Time, len(memberIDs))
	for _, uid := range memberIDs {
		members[uid] = now
	}
	db.memberships[room.ID] = members
	return room, nil
}

func (db *MemoryDB) CreateRoom(ctx context.Context, name *string, memberIDs []int) (*models.Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	room, err := db.insertRoomLocked(name, models.RoomTypeGroup, memberIDs)
	if err != nil {
		return nil, err
	}
	return cloneRoom(room), nil
}

func (db *MemoryDB) GetOrCreateDirectRoom(ctx context.Context, userA, userB int, name *string) (*models.Room, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	lo, hi := DirectKey(userA, userB)
	key := [2]int{lo, hi}
	if id, ok := db.directKeys[key]; ok {
		return cloneRoom(db.rooms[id]), false, nil
	}

	room, err := db.insertRoomLocked(name, models.RoomTypeDirect, []int{lo, hi})
	if err != nil {
		return nil, false, err
	}
	db.directKeys[key] = room.ID
	return cloneRoom(room), true, nil
}

func (db *MemoryDB) GetRoomForMember(ctx context.Context, roomID, userID int) (*models.Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	room, ok := db.rooms[roomID]
	if !ok || !room.IsActive {
		return nil, ErrNotFound
	}
	if _, member := db.memberships[roomID][userID]; !member {
		return nil, ErrNotFound
	}
	return cloneRoom(room), nil
}

func (db *MemoryDB) ListRoomsForUser(ctx context.Context, userID int) ([]*models.Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rooms := []*models.Room{}
	for id, members := range db.memberships {
		if _, ok := members[userID]; !ok {
			continue
		}
		if room := db.rooms[id]; room.IsActive {
			rooms = append(rooms, cloneRoom(room))
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// SetRoomActive is not part of Database; rooms are deactivated out of band.
func (db *MemoryDB) SetRoomActive(roomID int, active bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if room, ok := db.rooms[roomID]; ok {
		room.IsActive = active
	}
}

// Membership Repository Implementation
func (db *MemoryDB) AddMembership(ctx context.Context, roomID, userID int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	members, ok := db.memberships[roomID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := db.users[userID]; !ok {
		return ErrNotFound
	}
	if _, dup := members[userID]; dup {
		return fmt.Errorf("%w: room_memberships_room_id_user_id_key", ErrDuplicate)
	}
	members[userID] = db.now()
	return nil
}

func (db *MemoryDB) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, ok := db.memberships[roomID][userID]
	return ok, nil
}

func (db *MemoryDB) GetRoomMembers(ctx context.Context, roomID int) ([]*models.Member, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	members := []*models.Member{}
	for uid, joined := range db.memberships[roomID] {
		members = append(members, &models.Member{ID: uid, Username: db.users[uid].Username, JoinedAt: joined})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Username < members[j].Username })
	return members, nil
}

// Message Repository Implementation
func (db *MemoryDB) CreateMessage(ctx context.Context, roomID, senderID int, content string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.rooms[roomID]; !ok {
		return nil, ErrNotFound
	}

	createdAt := db.now()
	if msgs := db.messages[roomID]; len(msgs) > 0 {
		if last := msgs[len(msgs)-1].CreatedAt; createdAt.Before(last) {
			createdAt = last
		}
	}

	db.nextMessageID++
	msg := &models.Message{
		ID:        db.nextMessageID,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: createdAt,
	}
	db.messages[roomID] = append(db.messages[roomID], msg)

	c := *msg
	return &c, nil
}

func (db *MemoryDB) ListMessages(ctx context.Context, roomID, limit, offset int) ([]*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	msgs := db.messages[roomID]
	out := []*models.Message{}
	for i := len(msgs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		c := *msgs[i]
		if u, ok := db.users[c.SenderID]; ok {
			c.Username = u.Username
		}
		out = append(out, &c)
	}
	return out, nil
}

// Stats Repository Implementation
func (db *MemoryDB) Stats(ctx context.Context) (*models.AdminStats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	s := &models.AdminStats{TotalUsers: len(db.users), TotalRooms: len(db.rooms)}
	for _, u := range db.users {
		if u.IsActive {
			s.ActiveUsers++
		}
		if u.IsAdmin {
			s.AdminUsers++
		}
	}
	for _, msgs := range db.messages {
		s.TotalMessages += len(msgs)
	}
	return s, nil
}
