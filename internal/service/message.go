package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
	"github.com/sakif/nearby/internal/session"
)

// MessageService sends and lists private messages between two accounts.
type MessageService struct {
	repo   repository.MessageRepository
	logger *slog.Logger
}

func NewMessageService(repo repository.MessageRepository, logger *slog.Logger) *MessageService {
	return &MessageService{repo: repo, logger: logger}
}

// Send delivers content from the session's account to receiverID.
func (s *MessageService) Send(ctx context.Context, sess *session.Session, receiverID, content string) (*model.Message, error) {
	if sess == nil {
		return nil, apperror.Unauthorized("authentication required")
	}

	msg := &model.Message{
		SenderID:   sess.AccountID,
		ReceiverID: strings.TrimSpace(receiverID),
		Content:    content,
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.logger.Debug("message sent",
		slog.String("id", msg.ID),
		slog.String("sender_id", msg.SenderID),
		slog.String("receiver_id", msg.ReceiverID),
	)
	return msg, nil
}

// Conversation returns every message between the session's account and
// otherID, oldest first.
func (s *MessageService) Conversation(ctx context.Context, sess *session.Session, otherID string) ([]model.Message, error) {
	if sess == nil {
		return nil, apperror.Unauthorized("authentication required")
	}
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return nil, apperror.ValidationFailed("otherId", "the other account id is required")
	}
	return s.repo.ListConversation(ctx, sess.AccountID, otherID)
}
