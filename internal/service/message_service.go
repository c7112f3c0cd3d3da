package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/busfleet/backend/internal/domain"
	"github.com/busfleet/backend/internal/sse"
)

// MessageService logs operator messages and pushes them to connected
// tablets. Messages addressed to one device reach only subscribers that
// attached with that deviceId filter.
type MessageService struct {
	messages  domain.MessageRepository
	broadcast Broadcaster
	log       zerolog.Logger
	now       func() time.Time
}

// NewMessageService creates a new message service.
func NewMessageService(messages domain.MessageRepository, broadcast Broadcaster, log zerolog.Logger) *MessageService {
	return &MessageService{
		messages:  messages,
		broadcast: broadcast,
		log:       log.With().Str("component", "message").Logger(),
		now:       time.Now,
	}
}

// Send persists the message and broadcasts a message_created event.
func (s *MessageService) Send(ctx context.Context, m domain.Message) (domain.Message, error) {
	m.CreatedAt = s.now()
	saved, err := s.messages.SaveMessage(ctx, m)
	if err != nil {
		return domain.Message{}, fmt.Errorf("message: save: %w", err)
	}

	if saved.DeviceID != "" {
		s.broadcast.BroadcastDevice(saved.DeviceID, sse.EventMessageCreated, saved)
	} else {
		s.broadcast.Broadcast(sse.EventMessageCreated, saved)
	}
	return saved, nil
}

// List returns recent messages, optionally scoped to one device.
func (s *MessageService) List(ctx context.Context, deviceID string, limit int) ([]domain.Message, error) {
	return s.messages.ListMessages(ctx, deviceID, limit)
}
