package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/retailops/stocksync/internal/db/models"
	"github.com/retailops/stocksync/internal/db/repos"
	"github.com/retailops/stocksync/internal/logger"
	"github.com/retailops/stocksync/internal/syncer"
	"github.com/retailops/stocksync/internal/vend"
)

// ErrBadSignature is returned when a webhook's HMAC does not match
var ErrBadSignature = errors.New("webhook signature mismatch")

// ErrNoConsignmentRef is returned when an event payload carries no
// consignment id; retrying cannot fix it
var ErrNoConsignmentRef = errors.New("webhook event has no consignment reference")

// WebhookEnvelope is the inbound notification body
type WebhookEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WebhookService ingests platform notifications. Ingestion persists and
// acknowledges; the actual processing happens later on the queue so a slow
// downstream never forces the platform to redeliver.
type WebhookService struct {
	events *repos.WebhookEventRepository
	queue  *QueueService
	engine *syncer.Engine
	client vend.Client
	secret []byte
}

// NewWebhookService creates a new instance of WebhookService
func NewWebhookService(events *repos.WebhookEventRepository, queue *QueueService, engine *syncer.Engine, client vend.Client, secret string) *WebhookService {
	return &WebhookService{
		events: events,
		queue:  queue,
		engine: engine,
		client: client,
		secret: []byte(secret),
	}
}

// VerifySignature checks the hex HMAC-SHA256 of the raw body against the
// signature header using a constant-time compare.
func (s *WebhookService) VerifySignature(body []byte, signature string) error {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Ingest persists an inbound event and schedules its processing. A replayed
// event id is acknowledged without a second job.
func (s *WebhookService) Ingest(ctx context.Context, envelope *WebhookEnvelope) (duplicate bool, err error) {
	event := &models.WebhookEvent{
		EventID:   envelope.ID,
		EventType: envelope.Type,
		Payload:   envelope.Payload,
	}
	if err := s.events.Create(ctx, event); err != nil {
		if errors.Is(err, repos.ErrDuplicateEvent) {
			logger.Debugf("webhook event %s already received", envelope.ID)
			return true, nil
		}
		return false, err
	}

	if _, err := s.queue.EnqueueWebhookProcess(ctx, envelope.ID); err != nil {
		return false, fmt.Errorf("failed to enqueue webhook processing: %w", err)
	}
	return false, nil
}

// consignmentRef is the part of a webhook payload the processor needs
type consignmentRef struct {
	ID string `json:"id"`
}

// Process handles a persisted event: it re-fetches the referenced
// consignment from the platform, refreshes the shadow row, and projects the
// change into the operational tables. Fetching instead of trusting the
// pushed payload keeps processing correct under out-of-order delivery.
func (s *WebhookService) Process(ctx context.Context, eventID string) error {
	event, err := s.events.GetByEventID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("webhook event %s not found: %w", eventID, err)
	}
	if event.Status == models.WebhookStatusProcessed {
		return nil
	}

	var ref consignmentRef
	if err := json.Unmarshal(event.Payload, &ref); err != nil || ref.ID == "" {
		if markErr := s.events.UpdateStatus(ctx, eventID, models.WebhookStatusFailed); markErr != nil {
			logger.Errorf("failed to mark event %s failed: %v", eventID, markErr)
		}
		return fmt.Errorf("webhook event %s: %w", eventID, ErrNoConsignmentRef)
	}

	remote, err := s.client.GetConsignment(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch consignment %s: %w", ref.ID, err)
	}

	if err := s.engine.ApplyRemote(ctx, remote); err != nil {
		return err
	}

	return s.events.UpdateStatus(ctx, eventID, models.WebhookStatusProcessed)
}
