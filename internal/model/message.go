package model

import (
	"strings"
	"time"

	"github.com/sakif/nearby/internal/apperror"
)

// Message is a private, directed message between two accounts.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate checks a message before it is stored. Content is trimmed in place.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.SenderID) == "" {
		return apperror.ValidationFailed("senderId", "sender is required")
	}
	if strings.TrimSpace(m.ReceiverID) == "" {
		return apperror.ValidationFailed("receiverId", "receiver is required")
	}
	if m.SenderID == m.ReceiverID {
		return apperror.ValidationFailed("receiverId", "cannot send a message to yourself")
	}
	content, err := validateContent(m.Content)
	if err != nil {
		return err
	}
	m.Content = content
	return nil
}
