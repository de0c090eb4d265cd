package models

import "time"

type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

func (t RoomType) Valid() bool {
	return t == RoomTypeDirect || t == RoomTypeGroup
}

type Room struct {
	ID        int       `json:"id"`
	Name      *string   `json:"name"`
	Type      RoomType  `json:"room_type"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Membership struct {
	RoomID    int       `json:"room_id"`
	UserID    int       `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is immutable once persisted. Username is filled only by queries
// that join the sender.
type Message struct {
	ID        int       `json:"id"`
	RoomID    int       `json:"room_id"`
	SenderID  int       `json:"sender_id"`
	Content   string    `json:"content"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateRoomRequest struct {
	Name      *string  `json:"name"`
	Type      RoomType `json:"room_type"`
	MemberIDs []int    `json:"member_ids"`
}

type AddMemberRequest struct {
	Username string `json:"username"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type Member struct {
	ID       int       `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}

type OnlineUsers struct {
	RoomID  int   `json:"room_id"`
	UserIDs []int `json:"user_ids"`
}

// TranscriptLine is one chronological entry handed to a summarizer.
type TranscriptLine struct {
	Username string
	Content  string
}

type SummaryRequest struct {
	MaxMessages int    `json:"max_messages"`
	Style       string `json:"style"`
}

type SummaryResponse struct {
	RoomID       int    `json:"room_id"`
	Summary      string `json:"summary"`
	UsedMessages int    `json:"used_messages"`
}
