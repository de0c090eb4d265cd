package websocket

import (
	"context"
	"sort"
	"sync"

	"punch-chat/internal/metrics"
	"punch-chat/pkg/logger"
)

// Subscriber is one live connection bound to a room.
type Subscriber interface {
	ID() string
	UserID() int
	// Send must not block. An error means the subscriber is gone.
	Send(payload []byte) error
}

// Hub is what a session needs for fan-out. Registry serves a single process;
// RedisRelay spans instances.
type Hub interface {
	Join(ctx context.Context, roomID int, sub Subscriber)
	Leave(ctx context.Context, roomID int, sub Subscriber)
	Publish(ctx context.Context, roomID int, payload []byte, exceptID string)
	Online(ctx context.Context, roomID int) ([]int, error)
}

// roomSet is locked independently of every other room. A set is marked dead
// under its lock when it empties, and a dead set is never reused.
type roomSet struct {
	mu   sync.Mutex
	subs map[string]Subscriber
	dead bool
}

// Registry maps room ids to their live subscribers.
type Registry struct {
	rooms sync.Map // int -> *roomSet
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Join adds sub to the room, creating the set on first use. It reports
// whether sub was newly added.
func (r *Registry) Join(roomID int, sub Subscriber) bool {
	for {
		set := r.loadOrCreate(roomID)

		set.mu.Lock()
		if set.dead {
			// Lost a race with the last Leave; retry with a fresh set.
			set.mu.Unlock()
			continue
		}
		_, exists := set.subs[sub.ID()]
		set.subs[sub.ID()] = sub
		set.mu.Unlock()
		return !exists
	}
}

func (r *Registry) loadOrCreate(roomID int) *roomSet {
	if v, ok := r.rooms.Load(roomID); ok {
		return v.(*roomSet)
	}
	v, loaded := r.rooms.LoadOrStore(roomID, &roomSet{subs: make(map[string]Subscriber)})
	if !loaded {
		metrics.RoomsActive.Inc()
	}
	return v.(*roomSet)
}

// Leave removes sub from the room and drops the set once empty. It reports
// whether sub was a member.
func (r *Registry) Leave(roomID int, sub Subscriber) bool {
	v, ok := r.rooms.Load(roomID)
	if !ok {
		return false
	}
	set := v.(*roomSet)

	set.mu.Lock()
	defer set.mu.Unlock()

	if _, ok := set.subs[sub.ID()]; !ok {
		return false
	}
	delete(set.subs, sub.ID())
	r.dropIfEmptyLocked(roomID, set)
	return true
}

// Broadcast hands payload to every subscriber of the room except exceptID.
// Subscribers whose Send fails are removed. It returns the delivery count.
func (r *Registry) Broadcast(roomID int, payload []byte, exceptID string) int {
	v, ok := r.rooms.Load(roomID)
	if !ok {
		return 0
	}
	set := v.(*roomSet)

	set.mu.Lock()
	defer set.mu.Unlock()

	delivered := 0
	for id, sub := range set.subs {
		if id == exceptID {
			continue
		}
		if err := sub.Send(payload); err != nil {
			delete(set.subs, id)
			metrics.BroadcastDrops.Inc()
			logger.Warn("registry.subscriber_dropped", "room_id", roomID, "conn_id", id, "user_id", sub.UserID(), "err", err)
			continue
		}
		delivered++
	}
	metrics.BroadcastDeliveries.Add(float64(delivered))

	r.dropIfEmptyLocked(roomID, set)
	return delivered
}

func (r *Registry) dropIfEmptyLocked(roomID int, set *roomSet) {
	if len(set.subs) > 0 || set.dead {
		return
	}
	set.dead = true
	r.rooms.CompareAndDelete(roomID, set)
	metrics.RoomsActive.Dec()
}

// Online returns the distinct user ids with a live connection in the room.
func (r *Registry) Online(roomID int) []int {
	v, ok := r.rooms.Load(roomID)
	if !ok {
		return []int{}
	}
	set := v.(*roomSet)

	set.mu.Lock()
	seen := make(map[int]bool, len(set.subs))
	for _, sub := range set.subs {
		seen[sub.UserID()] = true
	}
	set.mu.Unlock()

	users := make([]int, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Ints(users)
	return users
}

// Size is the number of subscribers in the room.
func (r *Registry) Size(roomID int) int {
	v, ok := r.rooms.Load(roomID)
	if !ok {
		return 0
	}
	set := v.(*roomSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.subs)
}

// Rooms is the number of rooms with at least one subscriber.
func (r *Registry) Rooms() int {
	n := 0
	r.rooms.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// LocalHub adapts a Registry to Hub for single-instance deployments.
type LocalHub struct {
	reg *Registry
}

func NewLocalHub(reg *Registry) *LocalHub {
	return &LocalHub{reg: reg}
}

func (h *LocalHub) Join(_ context.Context, roomID int, sub Subscriber) {
	h.reg.Join(roomID, sub)
}

func (h *LocalHub) Leave(_ context.Context, roomID int, sub Subscriber) {
	h.reg.Leave(roomID, sub)
}

func (h *LocalHub) Publish(_ context.Context, roomID int, payload []byte, exceptID string) {
	h.reg.Broadcast(roomID, payload, exceptID)
}

func (h *LocalHub) Online(_ context.Context, roomID int) ([]int, error) {
	return h.reg.Online(roomID), nil
}
