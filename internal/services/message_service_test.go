package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"punch-chat/internal/database"
	"punch-chat/internal/models"
	"punch-chat/internal/moderation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*models.Message
	err  error
}

func (p *recordingPublisher) MessagePersisted(_ context.Context, m *models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type messageFixture struct {
	db    *database.MemoryDB
	svc   *MessageService
	pub   *recordingPublisher
	room  *models.Room
	users []*models.User
}

func newMessageFixture(t *testing.T, gate moderation.Gate) *messageFixture {
	t.Helper()
	db := database.NewMemoryDB()
	rooms := NewRoomService(db)
	users := newUsers(t, db, "alice", "bob", "mallory")

	room, err := rooms.CreateRoom(context.Background(), &models.CreateRoomRequest{
		Type: models.RoomTypeGroup, MemberIDs: []int{users[1].ID},
	}, users[0].ID)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	return &messageFixture{
		db:    db,
		svc:   NewMessageService(db, rooms, gate, 50*time.Millisecond, pub),
		pub:   pub,
		room:  room,
		users: users,
	}
}

func (f *messageFixture) count(t *testing.T) int {
	t.Helper()
	msgs, err := f.db.ListMessages(context.Background(), f.room.ID, 100, 0)
	require.NoError(t, err)
	return len(msgs)
}

func TestMessageService_PostPersists(t *testing.T) {
	f := newMessageFixture(t, moderation.AllowAll)

	res, err := f.svc.PostMessage(context.Background(), f.room.ID, f.users[0].ID, "hi")
	require.NoError(t, err)
	assert.False(t, res.Blocked)
	require.NotNil(t, res.Message)
	assert.Equal(t, "hi", res.Message.Content)
	assert.Equal(t, f.room.ID, res.Message.RoomID)
	assert.False(t, res.Message.CreatedAt.IsZero())

	assert.Equal(t, 1, f.count(t))
	require.Len(t, f.pub.msgs, 1)
	assert.Equal(t, res.Message.ID, f.pub.msgs[0].ID)
}

func TestMessageService_NonMember(t *testing.T) {
	f := newMessageFixture(t, moderation.AllowAll)

	_, err := f.svc.PostMessage(context.Background(), f.room.ID, f.users[2].ID, "let me in")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = f.svc.PostMessage(context.Background(), 999, f.users[0].ID, "hello?")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	assert.Zero(t, f.count(t))
}

func TestMessageService_BlockedWritesNothing(t *testing.T) {
	f := newMessageFixture(t, moderation.NewKeywordGate([]string{"spam"}))

	res, err := f.svc.PostMessage(context.Background(), f.room.ID, f.users[0].ID, "buy spam now")
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Nil(t, res.Message)
	assert.Equal(t, `contains blocked term "spam"`, res.Reason)

	assert.Zero(t, f.count(t))
	assert.Empty(t, f.pub.msgs)
}

func TestMessageService_GateFailureFailsOpen(t *testing.T) {
	broken := moderation.GateFunc(func(context.Context, string) (moderation.Decision, error) {
		return moderation.Decision{}, errors.New("classifier crashed")
	})
	f := newMessageFixture(t, broken)

	res, err := f.svc.PostMessage(context.Background(), f.room.ID, f.users[0].ID, "hi")
	require.NoError(t, err)
	assert.False(t, res.Blocked)
	assert.NotNil(t, res.Message)
}

func TestMessageService_GateTimeoutFailsOpen(t *testing.T) {
	slow := moderation.GateFunc(func(ctx context.Context, _ string) (moderation.Decision, error) {
		<-ctx.Done()
		return moderation.Decision{}, ctx.Err()
	})
	f := newMessageFixture(t, slow)

	res, err := f.svc.PostMessage(context.Background(), f.room.ID, f.users[0].ID, "hi")
	require.NoError(t, err)
	assert.NotNil(t, res.Message)
}

func TestMessageService_CancelledPostWritesNothing(t *testing.T) {
	slow := moderation.GateFunc(func(ctx context.Context, _ string) (moderation.Decision, error) {
		<-ctx.Done()
		return moderation.Decision{}, ctx.Err()
	})
	f := newMessageFixture(t, slow)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := f.svc.PostMessage(ctx, f.room.ID, f.users[0].ID, "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.count(t))
}

func TestMessageService_EmptyContent(t *testing.T) {
	f := newMessageFixture(t, moderation.AllowAll)

	_, err := f.svc.PostMessage(context.Background(), f.room.ID, f.users[0].ID, "  \t")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestMessageService_PublishFailureDoesNotFailSend(t *testing.T) {
	f := newMessageFixture(t, moderation.AllowAll)
	f.pub.err = errors.New("broker down")

	res, err := f.svc.PostMessage(context.Background(), f.room.ID, f.users[0].ID, "hi")
	require.NoError(t, err)
	assert.NotNil(t, res.Message)
}

func TestMessageService_History(t *testing.T) {
	f := newMessageFixture(t, moderation.AllowAll)
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c"} {
		_, err := f.svc.PostMessage(ctx, f.room.ID, f.users[0].ID, c)
		require.NoError(t, err)
	}

	msgs, err := f.svc.History(ctx, f.room.ID, f.users[1].ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "c", msgs[0].Content)
	assert.Equal(t, "alice", msgs[0].Username)

	msgs, err = f.svc.History(ctx, f.room.ID, f.users[1].ID, 1, -4)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", msgs[0].Content)

	_, err = f.svc.History(ctx, f.room.ID, f.users[2].ID, 10, 0)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestClampHistoryLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 50},
		{-3, 1},
		{1, 1},
		{75, 75},
		{1000, 100},
	}
	for _, tt := range tests {
		if got := ClampHistoryLimit(tt.in); got != tt.want {
			t.Errorf("ClampHistoryLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
