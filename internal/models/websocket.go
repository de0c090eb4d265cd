package models

import "time"

// InboundFrame is what a client sends on a joined session.
type InboundFrame struct {
	Content string `json:"content"`
}

// MessageFrame is broadcast to the room for every persisted message.
type MessageFrame struct {
	ID        int    `json:"id"`
	RoomID    int    `json:"room_id"`
	SenderID  int    `json:"sender_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func NewMessageFrame(m *Message) MessageFrame {
	return MessageFrame{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ErrorFrame is sent only to the connection that caused it.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorFrame(msg string) ErrorFrame {
	return ErrorFrame{Type: "error", Message: msg}
}
