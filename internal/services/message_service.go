package services

import (
	"context"
	"fmt"

	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/repository"
)

// MessageService ingests mirrored SMS entries reported by the phone and fans
// them out to companion devices. The phone is authoritative, so ingestion is
// append-only and conflict-free.
type MessageService struct {
	messageRepo repository.MessageRepo
	notifier    *ChangeNotifier
}

// NewMessageService creates a new MessageService
func NewMessageService(messageRepo repository.MessageRepo, notifier *ChangeNotifier) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		notifier:    notifier,
	}
}

// Report stores one mirrored message and broadcasts it on the messages
// channel. The reporting device is excluded from delivery.
func (s *MessageService) Report(ctx context.Context, userID, deviceID string, write models.MessageWrite) (*models.Message, error) {
	message, err := models.NewMessage(userID, deviceID, write)
	if err != nil {
		return nil, err
	}
	if err := s.messageRepo.Add(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	s.notifier.Publish(ctx, models.ChangeEvent{
		Table:     "messages",
		Operation: models.OpCreated,
		UserID:    userID,
		EntityID:  message.ID,
		Payload:   message,
	}, deviceID)
	return message, nil
}

// Recent returns the newest messages for a user, the pull path a reconnecting
// companion uses to catch up.
func (s *MessageService) Recent(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.messageRepo.GetRecentForUser(ctx, userID, limit)
}
