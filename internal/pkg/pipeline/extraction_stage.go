package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/qwikcal/qwikcal/app/models"
	"github.com/qwikcal/qwikcal/app/repository"
	"github.com/qwikcal/qwikcal/internal/pkg/blobstore"
	"github.com/qwikcal/qwikcal/internal/pkg/calendar"
	"github.com/qwikcal/qwikcal/internal/pkg/extraction"
	"github.com/qwikcal/qwikcal/internal/pkg/notify"
	"github.com/qwikcal/qwikcal/internal/pkg/queue"
)

// ExtractionFilter is the subscription filter binding the extraction queue
// to the notification topic.
func ExtractionFilter() notify.Filter {
	return notify.Filter{AttrEventType: {string(TypeImageUploaded)}}
}

// ExtractionStage turns uploaded images into structured events with calendar
// artifacts. It consumes image.uploaded messages one at a time; failures are
// redelivered by the queue and dead-lettered past the attempt threshold.
type ExtractionStage struct {
	events        repository.EventRepository
	store         blobstore.Store
	builder       *calendar.Builder
	extractor     extraction.Extractor
	notifications *notify.Topic
	maxReceives   int
}

// NewExtractionStage wires the extraction consumer. maxReceives mirrors the
// queue's dead-letter threshold so the stage can mark the record as errored
// on the final attempt.
func NewExtractionStage(events repository.EventRepository, store blobstore.Store, builder *calendar.Builder, extractor extraction.Extractor, notifications *notify.Topic, maxReceives int) *ExtractionStage {
	if maxReceives <= 0 {
		maxReceives = queue.DefaultMaxReceives
	}
	return &ExtractionStage{
		events:        events,
		store:         store,
		builder:       builder,
		extractor:     extractor,
		notifications: notifications,
		maxReceives:   maxReceives,
	}
}

// HandleBatch processes each message independently and returns the IDs that
// should be redelivered.
func (s *ExtractionStage) HandleBatch(ctx context.Context, msgs []*queue.Message) []string {
	var failed []string
	for _, msg := range msgs {
		var payload ImageUploadedMessage
		if err := decodeAs(msg.Body, TypeImageUploaded, &payload); err != nil {
			// Malformed payloads never become valid; drop instead of retrying
			log.Errorf("[Extraction] Dropping malformed message %s: %v", msg.ID, err)
			continue
		}

		if err := s.process(ctx, payload); err != nil {
			log.Errorf("[Extraction] Event %s attempt %d failed: %v", payload.EventID, msg.ReceiveCount, err)
			if msg.ReceiveCount >= s.maxReceives {
				s.markErrored(payload, err)
			}
			failed = append(failed, msg.ID)
		}
	}
	return failed
}

func (s *ExtractionStage) process(ctx context.Context, payload ImageUploadedMessage) error {
	event, err := s.events.GetByID(payload.EventID, payload.OwnerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Record write may still be in flight; redelivery will find it
		log.Warnf("[Extraction] No record yet for event %s", payload.EventID)
		return err
	}
	if err != nil {
		return err
	}
	if event.HasArtifact() {
		// Redelivered message for an already-processed event
		log.Infof("[Extraction] Event %s already processed, skipping", payload.EventID)
		return nil
	}

	image, err := s.store.Get(ctx, payload.ImageKey)
	if err != nil {
		return err
	}

	fields, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return err
	}

	icsKey, err := s.builder.Build(ctx, calendar.EventData{
		Title:       fields.Title,
		StartTime:   fields.StartTime,
		EndTime:     fields.EndTime,
		Location:    fields.Location,
		Description: fields.Description,
	})
	if err != nil {
		return err
	}

	raw, _ := json.Marshal(fields)
	result := repository.ExtractionResult{
		Title:          fields.Title,
		StartTime:      &fields.StartTime,
		EndTime:        fields.EndTime,
		Location:       fields.Location,
		Description:    fields.Description,
		IcsKey:         icsKey,
		ProcessingData: string(raw),
	}
	if err := s.events.ApplyExtraction(payload.EventID, payload.OwnerID, result); err != nil {
		return err
	}

	s.publishProcessed(ctx, payload, result)
	log.Infof("[Extraction] Event %s processed for owner %s", payload.EventID, payload.OwnerID)
	return nil
}

// markErrored records a terminal failure so the owner sees the event leave
// processing. Runs on the final delivery attempt, right before the queue
// dead-letters the message.
func (s *ExtractionStage) markErrored(payload ImageUploadedMessage, cause error) {
	if err := s.events.UpdateStatus(payload.EventID, payload.OwnerID, models.EventStatusError, time.Now(), cause.Error()); err != nil {
		log.Errorf("[Extraction] Failed to mark event %s as errored: %v", payload.EventID, err)
	}
}

func (s *ExtractionStage) publishProcessed(ctx context.Context, payload ImageUploadedMessage, result repository.ExtractionResult) {
	notice := EventNotification{
		Type:        TypeEventProcessed,
		EventID:     payload.EventID,
		OwnerID:     payload.OwnerID,
		Status:      models.EventStatusProcessed,
		IcsKey:      result.IcsKey,
		Title:       result.Title,
		Location:    result.Location,
		Description: result.Description,
	}
	if result.StartTime != nil {
		notice.StartTime = result.StartTime.Format(time.RFC3339)
	}
	if result.EndTime != nil {
		notice.EndTime = result.EndTime.Format(time.RFC3339)
	}

	body, err := json.Marshal(notice)
	if err != nil {
		log.Errorf("[Extraction] Failed to marshal processed notice for %s: %v", payload.EventID, err)
		return
	}
	attrs := map[string]string{AttrEventType: string(TypeEventProcessed)}
	if err := s.notifications.Publish(ctx, body, attrs); err != nil {
		log.Errorf("[Extraction] Failed to publish processed notice for %s: %v", payload.EventID, err)
	}
}
