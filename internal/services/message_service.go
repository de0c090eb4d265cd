package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"punch-chat/internal/database"
	"punch-chat/internal/events"
	"punch-chat/internal/metrics"
	"punch-chat/internal/models"
	"punch-chat/internal/moderation"
	"punch-chat/pkg/logger"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100

	eventPublishTimeout = 2 * time.Second
)

// PostResult is either a persisted message or a block with its reason.
type PostResult struct {
	Message *models.Message
	Blocked bool
	Reason  string
}

type MessageService struct {
	db     database.MessageRepository
	rooms  *RoomService
	gate   moderation.Gate
	events events.Publisher
}

// NewMessageService wraps gate so a failing or slow moderator never blocks
// a post.
func NewMessageService(db database.MessageRepository, rooms *RoomService, gate moderation.Gate, moderationTimeout time.Duration, pub events.Publisher) *MessageService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &MessageService{
		db:     db,
		rooms:  rooms,
		gate:   moderation.FailOpen(gate, moderationTimeout, metrics.ModerationFailed),
		events: pub,
	}
}

// PostMessage is shared by the WebSocket and HTTP send paths. A returned
// error means nothing was persisted; a block is reported in the result.
func (s *MessageService) PostMessage(ctx context.Context, roomID, senderID int, text string) (PostResult, error) {
	if strings.TrimSpace(text) == "" {
		return PostResult{}, ErrEmptyMessage
	}

	if _, err := s.rooms.GetRoomForUser(ctx, roomID, senderID); err != nil {
		return PostResult{}, err
	}

	decision, err := s.gate.Moderate(ctx, text)
	if err != nil {
		metrics.MessagesPosted.WithLabelValues("failed").Inc()
		return PostResult{}, err
	}
	if !decision.Allowed {
		metrics.MessagesPosted.WithLabelValues("blocked").Inc()
		logger.Warn("message.blocked", "room_id", roomID, "sender_id", senderID, "reason", decision.Reason)
		return PostResult{Blocked: true, Reason: decision.Reason}, nil
	}

	msg, err := s.db.CreateMessage(ctx, roomID, senderID, text)
	if err != nil {
		metrics.MessagesPosted.WithLabelValues("failed").Inc()
		return PostResult{}, fmt.Errorf("persist message: %w", err)
	}
	metrics.MessagesPosted.WithLabelValues("persisted").Inc()
	logger.Debug("message.persisted", "id", msg.ID, "room_id", roomID, "sender_id", senderID)

	s.publishEvent(ctx, msg)
	return PostResult{Message: msg}, nil
}

// publishEvent outlives the caller's cancellation; the row is already committed.
func (s *MessageService) publishEvent(ctx context.Context, msg *models.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()

	if err := s.events.MessagePersisted(ctx, msg); err != nil {
		metrics.EventPublishFailures.Inc()
		logger.Error("message.event_failed", "id", msg.ID, "room_id", msg.RoomID, "err", err)
	}
}

// History is newest first. limit is clamped to 1..MaxHistoryLimit, 0 meaning
// the default.
func (s *MessageService) History(ctx context.Context, roomID, userID, limit, offset int) ([]*models.Message, error) {
	if _, err := s.rooms.GetRoomForUser(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.db.ListMessages(ctx, roomID, ClampHistoryLimit(limit), max(offset, 0))
}

func ClampHistoryLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultHistoryLimit
	case limit < 1:
		return 1
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
