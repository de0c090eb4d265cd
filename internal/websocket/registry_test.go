package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	id   string
	user int

	mu   sync.Mutex
	got  []string
	fail bool
}

func newFakeSub(id string, user int) *fakeSub {
	return &fakeSub{id: id, user: user}
}

func (f *fakeSub) ID() string { return f.id }
func (f *fakeSub) UserID() int { return f.user }
func (f *fakeSub) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("gone")
	}
	f.got = append(f.got, string(p))
	return nil
}

func (f *fakeSub) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func TestRegistry_JoinLeave(t *testing.T) {
	reg := NewRegistry()
	a := newFakeSub("a", 1)

	assert.True(t, reg.Join(7, a))
	assert.False(t, reg.Join(7, a), "second join is a no-op")
	assert.Equal(t, 1, reg.Size(7))
	assert.Equal(t, 1, reg.Rooms())

	assert.True(t, reg.Leave(7, a))
	assert.False(t, reg.Leave(7, a), "second leave is a no-op")
	assert.Zero(t, reg.Size(7))
	assert.Zero(t, reg.Rooms(), "empty room set is dropped")

	assert.False(t, reg.Leave(99, a))
}

func TestRegistry_BroadcastExceptSender(t *testing.T) {
	reg := NewRegistry()
	a, b, c := newFakeSub("a", 1), newFakeSub("b", 2), newFakeSub("c", 1)
	other := newFakeSub("x", 3)
	reg.Join(1, a)
	reg.Join(1, b)
	reg.Join(1, c)
	reg.Join(2, other)

	n := reg.Broadcast(1, []byte("hi"), "a")
	assert.Equal(t, 2, n)

	assert.Empty(t, a.received())
	assert.Equal(t, []string{"hi"}, b.received())
	assert.Equal(t, []string{"hi"}, c.received(), "other connections of the sender's user still receive")
	assert.Empty(t, other.received(), "rooms are isolated")
}

func TestRegistry_BroadcastEmptyRoom(t *testing.T) {
	reg := NewRegistry()
	assert.Zero(t, reg.Broadcast(42, []byte("hi"), ""))
	assert.Zero(t, reg.Rooms())
}

func TestRegistry_BroadcastPrunesFailedSubscribers(t *testing.T) {
	reg := NewRegistry()
	good, bad := newFakeSub("good", 1), newFakeSub("bad", 2)
	bad.fail = true
	reg.Join(1, good)
	reg.Join(1, bad)

	assert.Equal(t, 1, reg.Broadcast(1, []byte("m1"), ""))
	assert.Equal(t, 1, reg.Size(1))

	assert.Equal(t, 1, reg.Broadcast(1, []byte("m2"), ""))
	assert.Equal(t, []string{"m1", "m2"}, good.received())
}

func TestRegistry_PruningLastSubscriberDropsRoom(t *testing.T) {
	reg := NewRegistry()
	bad := newFakeSub("bad", 2)
	bad.fail = true
	reg.Join(1, bad)

	assert.Zero(t, reg.Broadcast(1, []byte("m"), ""))
	assert.Zero(t, reg.Rooms())

	// The room comes back on the next join.
	ok := newFakeSub("ok", 3)
	reg.Join(1, ok)
	assert.Equal(t, 1, reg.Broadcast(1, []byte("again"), ""))
}

func TestRegistry_PreservesOrderPerSubscriber(t *testing.T) {
	reg := NewRegistry()
	b := newFakeSub("b", 2)
	reg.Join(1, b)

	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprintf("m%d", i)
		reg.Broadcast(1, []byte(want[i]), "")
	}
	assert.Equal(t, want, b.received())
}

func TestRegistry_Online(t *testing.T) {
	reg := NewRegistry()
	reg.Join(1, newFakeSub("a1", 5))
	reg.Join(1, newFakeSub("a2", 5))
	reg.Join(1, newFakeSub("b", 3))

	assert.Equal(t, []int{3, 5}, reg.Online(1))
	assert.Equal(t, []int{}, reg.Online(2))
}

func TestRegistry_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	reg := NewRegistry()
	const rooms, perRoom = 4, 25

	var wg sync.WaitGroup
	for r := 0; r < rooms; r++ {
		for i := 0; i < perRoom; i++ {
			wg.Add(1)
			go func(room, i int) {
				defer wg.Done()
				sub := newFakeSub(fmt.Sprintf("%d-%d", room, i), i)
				for k := 0; k < 20; k++ {
					reg.Join(room, sub)
					reg.Broadcast(room, []byte("x"), sub.ID())
					reg.Leave(room, sub)
				}
			}(r, i)
		}
	}
	wg.Wait()

	assert.Zero(t, reg.Rooms())
	for r := 0; r < rooms; r++ {
		assert.Zero(t, reg.Size(r))
	}
}

func TestRegistry_JoinAfterConcurrentEmptying(t *testing.T) {
	reg := NewRegistry()
	keeper := newFakeSub("keeper", 1)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s := newFakeSub(fmt.Sprintf("t%d", i), 2)
			reg.Join(1, s)
			reg.Leave(1, s)
		}(i)
		go func() {
			defer wg.Done()
			reg.Join(1, keeper)
		}()
	}
	wg.Wait()

	// keeper must be reachable, never stranded in a dropped set.
	require.Equal(t, 1, reg.Size(1))
	assert.Equal(t, 1, reg.Broadcast(1, []byte("ping"), ""))
}

func TestLocalHub(t *testing.T) {
	hub := NewLocalHub(NewRegistry())
	ctx := context.Background()
	a, b := newFakeSub("a", 1), newFakeSub("b", 2)

	hub.Join(ctx, 3, a)
	hub.Join(ctx, 3, b)
	hub.Publish(ctx, 3, []byte("hello"), "a")

	online, err := hub.Online(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, online)
	assert.Equal(t, []string{"hello"}, b.received())

	hub.Leave(ctx, 3, a)
	hub.Leave(ctx, 3, b)
	online, err = hub.Online(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, online)
}
