package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"punch-chat/internal/config"
	"punch-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "chat:"

// leaveScript decrements a user's connection count and drops the field at zero.
var leaveScript = redis.NewScript(`
	local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
	if n <= 0 then
		redis.call('HDEL', KEYS[1], ARGV[1])
	end
	return n
`)

type envelope struct {
	Origin  string `json:"origin"`
	RoomID  int    `json:"room_id"`
	Except  string `json:"except,omitempty"`
	Payload []byte `json:"payload"`
}

type joined struct {
	roomID int
	userID int
}

// RedisRelay fans frames out across instances over Redis pub/sub and keeps
// cluster-wide presence in one hash per room. Local subscribers are served
// straight from the Registry; remote instances pick frames up in Run.
type RedisRelay struct {
	rdb      *redis.Client
	reg      *Registry
	prefix   string
	instance string

	conns sync.Map // conn id -> joined
	ready chan struct{}
	once  sync.Once
}

// NewRedisRelay connects to redis and verifies connectivity.
func NewRedisRelay(ctx context.Context, cfg config.RedisConfig, reg *Registry) (*RedisRelay, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisRelay(rdb, reg, defaultKeyPrefix), nil
}

func newRedisRelay(rdb *redis.Client, reg *Registry, prefix string) *RedisRelay {
	return &RedisRelay{
		rdb:      rdb,
		reg:      reg,
		prefix:   prefix,
		instance: uuid.NewString(),
		ready:    make(chan struct{}),
	}
}

func (r *RedisRelay) roomChannel(roomID string) string { return r.prefix + "room:" + roomID }

func (r *RedisRelay) presenceKey(roomID int) string {
	return r.prefix + "presence:" + strconv.Itoa(roomID)
}

func (r *RedisRelay) Join(ctx context.Context, roomID int, sub Subscriber) {
	r.reg.Join(roomID, sub)
	if _, loaded := r.conns.LoadOrStore(sub.ID(), joined{roomID: roomID, userID: sub.UserID()}); loaded {
		return
	}
	if err := r.rdb.HIncrBy(ctx, r.presenceKey(roomID), strconv.Itoa(sub.UserID()), 1).Err(); err != nil {
		logger.Warn("relay.presence_join_failed", "room_id", roomID, "user_id", sub.UserID(), "err", err)
	}
}

// Leave releases presence even if a failed broadcast already pruned sub from
// the local registry.
func (r *RedisRelay) Leave(ctx context.Context, roomID int, sub Subscriber) {
	r.reg.Leave(roomID, sub)
	v, ok := r.conns.LoadAndDelete(sub.ID())
	if !ok {
		return
	}
	j := v.(joined)
	if err := leaveScript.Run(ctx, r.rdb, []string{r.presenceKey(j.roomID)}, strconv.Itoa(j.userID)).Err(); err != nil {
		logger.Warn("relay.presence_leave_failed", "room_id", j.roomID, "user_id", j.userID, "err", err)
	}
}

// Publish delivers locally first, so a Redis outage degrades to
// single-instance delivery.
func (r *RedisRelay) Publish(ctx context.Context, roomID int, payload []byte, exceptID string) {
	r.reg.Broadcast(roomID, payload, exceptID)

	raw, err := json.Marshal(envelope{
		Origin:  r.instance,
		RoomID:  roomID,
		Except:  exceptID,
		Payload: payload,
	})
	if err != nil {
		return
	}
	if err := r.rdb.Publish(ctx, r.roomChannel(strconv.Itoa(roomID)), raw).Err(); err != nil {
		logger.Warn("relay.publish_failed", "room_id", roomID, "err", err)
	}
}

func (r *RedisRelay) Online(ctx context.Context, roomID int) ([]int, error) {
	counts, err := r.rdb.HGetAll(ctx, r.presenceKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}
	users := make([]int, 0, len(counts))
	for field, n := range counts {
		id, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		if c, _ := strconv.Atoi(n); c > 0 {
			users = append(users, id)
		}
	}
	sort.Ints(users)
	return users, nil
}

// Ready is closed once Run's subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Run listens on every room channel and hands frames from other instances to
// the local registry until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.rdb.PSubscribe(ctx, r.roomChannel("*"))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	r.once.Do(func() { close(r.ready) })
	logger.Info("relay.subscribed", "instance", r.instance)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(msg)
		}
	}
}

func (r *RedisRelay) deliver(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		logger.Warn("relay.bad_envelope", "channel", msg.Channel, "err", err)
		return
	}
	if env.Origin == r.instance {
		return
	}
	r.reg.Broadcast(env.RoomID, env.Payload, env.Except)
}

func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
