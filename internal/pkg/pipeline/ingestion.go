package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/qwikcal/qwikcal/app/models"
	"github.com/qwikcal/qwikcal/app/repository"
	"github.com/qwikcal/qwikcal/internal/pkg/blobstore"
	"github.com/qwikcal/qwikcal/internal/pkg/calendar"
	"github.com/qwikcal/qwikcal/internal/pkg/entitlements"
	"github.com/qwikcal/qwikcal/internal/pkg/notify"
	"github.com/qwikcal/qwikcal/internal/pkg/upload"
)

// TextSubmission is a fully-specified event submitted as structured text.
type TextSubmission struct {
	Title       string
	StartTime   time.Time
	EndTime     *time.Time
	Location    string
	Description string
}

// Ingestor is the pipeline entry point. Text submissions complete
// synchronously: the calendar artifact exists before the record does. Image
// submissions are accepted, stored and handed to the extraction stage.
type Ingestor struct {
	events        repository.EventRepository
	store         blobstore.Store
	builder       *calendar.Builder
	gate          *entitlements.Gate
	notifications *notify.Topic
}

// NewIngestor wires the ingestion entry point.
func NewIngestor(events repository.EventRepository, store blobstore.Store, builder *calendar.Builder, gate *entitlements.Gate, notifications *notify.Topic) *Ingestor {
	return &Ingestor{
		events:        events,
		store:         store,
		builder:       builder,
		gate:          gate,
		notifications: notifications,
	}
}

// SubmitText ingests a structured text submission. The artifact is built
// first so a stored record never references a missing calendar file.
func (in *Ingestor) SubmitText(ctx context.Context, ownerID string, sub TextSubmission) (*models.Event, error) {
	if strings.TrimSpace(sub.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidSubmission)
	}
	if sub.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: start time is required", ErrInvalidSubmission)
	}
	if sub.EndTime != nil && sub.EndTime.Before(sub.StartTime) {
		return nil, fmt.Errorf("%w: end time before start time", ErrInvalidSubmission)
	}

	icsKey, err := in.builder.Build(ctx, calendar.EventData{
		Title:       sub.Title,
		StartTime:   sub.StartTime,
		EndTime:     sub.EndTime,
		Location:    sub.Location,
		Description: sub.Description,
	})
	if err != nil {
		return nil, err
	}

	event := &models.Event{
		EventID:     uuid.New().String(),
		OwnerID:     ownerID,
		Title:       sub.Title,
		StartTime:   &sub.StartTime,
		EndTime:     sub.EndTime,
		Location:    sub.Location,
		Description: sub.Description,
		Status:      models.EventStatusCompleted,
		IcsKey:      icsKey,
	}
	if err := in.events.Create(event); err != nil {
		return nil, fmt.Errorf("failed to store event record: %w", err)
	}

	in.publishCreated(ctx, event)
	log.Infof("[Ingestion] Text event %s completed for owner %s", event.EventID, ownerID)
	return event, nil
}

// SubmitImage accepts an image for asynchronous extraction. Premium only;
// the gate decides before any side effect happens. The stored image is keyed
// under the owner so listings and cleanup stay per-owner.
func (in *Ingestor) SubmitImage(ctx context.Context, ownerID string, image []byte) (*models.Event, error) {
	if !in.gate.IsEntitled(ownerID) {
		return nil, ErrEntitlementRequired
	}

	contentType, err := upload.SniffImage(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	eventID := uuid.New().String()
	imageKey := fmt.Sprintf("uploads/%s/%s.jpg", ownerID, eventID)

	if err := in.store.Put(ctx, imageKey, image, contentType); err != nil {
		return nil, err
	}

	event := &models.Event{
		EventID:  eventID,
		OwnerID:  ownerID,
		Status:   models.EventStatusProcessing,
		ImageKey: imageKey,
	}
	if err := in.events.Create(event); err != nil {
		return nil, fmt.Errorf("failed to store event record: %w", err)
	}

	body, err := json.Marshal(ImageUploadedMessage{
		Type:     TypeImageUploaded,
		EventID:  eventID,
		OwnerID:  ownerID,
		ImageKey: imageKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload message: %w", err)
	}

	// A lost publish would strand the record in processing, so the error
	// surfaces to the caller for a retried submission.
	attrs := map[string]string{AttrEventType: string(TypeImageUploaded)}
	if err := in.notifications.Publish(ctx, body, attrs); err != nil {
		return nil, fmt.Errorf("failed to publish upload notification: %w", err)
	}

	log.Infof("[Ingestion] Image event %s accepted for owner %s", eventID, ownerID)
	return event, nil
}

// publishCreated announces a completed text ingestion. A failed announcement
// is logged only: the event and artifact already exist, the submission
// succeeded.
func (in *Ingestor) publishCreated(ctx context.Context, event *models.Event) {
	notice := EventNotification{
		Type:    TypeEventCreated,
		EventID: event.EventID,
		OwnerID: event.OwnerID,
		Status:  event.Status,
		IcsKey:  event.IcsKey,
		Title:   event.Title,
	}
	if event.StartTime != nil {
		notice.StartTime = event.StartTime.Format(time.RFC3339)
	}
	if event.EndTime != nil {
		notice.EndTime = event.EndTime.Format(time.RFC3339)
	}

	body, err := json.Marshal(notice)
	if err != nil {
		log.Errorf("[Ingestion] Failed to marshal created notice for %s: %v", event.EventID, err)
		return
	}
	attrs := map[string]string{AttrEventType: string(TypeEventCreated)}
	if err := in.notifications.Publish(ctx, body, attrs); err != nil {
		log.Errorf("[Ingestion] Failed to publish created notice for %s: %v", event.EventID, err)
	}
}
