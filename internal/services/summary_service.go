package services

import (
	"context"
	"fmt"

	"punch-chat/internal/database"
	"punch-chat/internal/models"
	"punch-chat/internal/summary"
)

const (
	DefaultSummaryMessages = 100
	MaxSummaryMessages     = 500
)

type SummaryService struct {
	db         database.MessageRepository
	rooms      *RoomService
	summarizer summary.Summarizer
}

func NewSummaryService(db database.MessageRepository, rooms *RoomService, s summary.Summarizer) *SummaryService {
	return &SummaryService{db: db, rooms: rooms, summarizer: s}
}

func (s *SummaryService) SummarizeRoom(ctx context.Context, roomID, userID, maxMessages int, style string) (*models.SummaryResponse, error) {
	if _, err := s.rooms.GetRoomForUser(ctx, roomID, userID); err != nil {
		return nil, err
	}

	n := min(max(maxMessages, 1), MaxSummaryMessages)
	msgs, err := s.db.ListMessages(ctx, roomID, n, 0)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	// ListMessages is newest first; the transcript reads oldest first.
	lines := make([]models.TranscriptLine, len(msgs))
	for i, m := range msgs {
		lines[len(msgs)-1-i] = models.TranscriptLine{Username: m.Username, Content: m.Content}
	}

	if style != summary.StyleDetailed {
		style = summary.StyleShort
	}

	text, err := s.summarizer.Summarize(ctx, lines, style)
	if err != nil {
		return nil, fmt.Errorf("summarize room %d: %w", roomID, err)
	}

	return &models.SummaryResponse{RoomID: roomID, Summary: text, UsedMessages: len(msgs)}, nil
}
