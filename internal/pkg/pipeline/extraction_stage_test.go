package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwikcal/qwikcal/app/models"
	"github.com/qwikcal/qwikcal/internal/pkg/calendar"
	"github.com/qwikcal/qwikcal/internal/pkg/extraction"
	"github.com/qwikcal/qwikcal/internal/pkg/queue"
)

func uploadedMessage(t *testing.T, id, eventID, ownerID, imageKey string, receiveCount int) *queue.Message {
	t.Helper()
	body, err := json.Marshal(ImageUploadedMessage{
		Type:     TypeImageUploaded,
		EventID:  eventID,
		OwnerID:  ownerID,
		ImageKey: imageKey,
	})
	require.NoError(t, err)
	return &queue.Message{ID: id, Body: body, ReceiveCount: receiveCount}
}

func seedProcessingEvent(repo *fakeEventRepo, eventID, ownerID, imageKey string) {
	repo.Create(&models.Event{
		EventID:  eventID,
		OwnerID:  ownerID,
		Status:   models.EventStatusProcessing,
		ImageKey: imageKey,
	})
}

func TestExtractionStageProcessesImage(t *testing.T) {
	events := newFakeEventRepo()
	store := newFakeStore()
	topic, captured := captureTopic("notifications")

	start := time.Date(2026, 10, 2, 9, 30, 0, 0, time.UTC)
	extractor := &fakeExtractor{fields: &extraction.Fields{
		Title:     "Doctor Appointment",
		StartTime: start,
		Location:  "Clinic",
	}}

	stage := NewExtractionStage(events, store, calendar.NewBuilder(store), extractor, topic, 3)

	seedProcessingEvent(events, "ev-1", "owner-1", "uploads/owner-1/ev-1.jpg")
	require.NoError(t, store.Put(context.Background(), "uploads/owner-1/ev-1.jpg", pngImage, "image/png"))

	msg := uploadedMessage(t, "m1", "ev-1", "owner-1", "uploads/owner-1/ev-1.jpg", 1)
	failed := stage.HandleBatch(context.Background(), []*queue.Message{msg})
	assert.Empty(t, failed)

	stored, err := events.GetByID("ev-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, stored.Status)
	assert.Equal(t, "Doctor Appointment", stored.Title)
	assert.NotEmpty(t, stored.IcsKey)
	require.NotNil(t, stored.StartTime)
	assert.True(t, stored.StartTime.Equal(start))

	// The artifact the record references exists
	_, err = store.Get(context.Background(), stored.IcsKey)
	assert.NoError(t, err)

	notices := captured.byType(TypeEventProcessed)
	require.Len(t, notices, 1)
}

func TestExtractionStageSkipsAlreadyProcessedEvent(t *testing.T) {
	events := newFakeEventRepo()
	store := newFakeStore()
	topic, captured := captureTopic("notifications")
	extractor := &fakeExtractor{err: errors.New("must not be called")}

	stage := NewExtractionStage(events, store, calendar.NewBuilder(store), extractor, topic, 3)

	events.Create(&models.Event{
		EventID: "ev-1",
		OwnerID: "owner-1",
		Status:  models.EventStatusProcessed,
		IcsKey:  "ics/existing.ics",
	})

	msg := uploadedMessage(t, "m1", "ev-1", "owner-1", "uploads/owner-1/ev-1.jpg", 2)
	failed := stage.HandleBatch(context.Background(), []*queue.Message{msg})

	// Redelivery of a finished event acks without re-extracting
	assert.Empty(t, failed)
	assert.Empty(t, captured.all())
}

func TestExtractionStageFailsRetryableErrors(t *testing.T) {
	events := newFakeEventRepo()
	store := newFakeStore()
	topic, _ := captureTopic("notifications")
	extractor := &fakeExtractor{err: extraction.ErrExtractionFailed}

	stage := NewExtractionStage(events, store, calendar.NewBuilder(store), extractor, topic, 3)

	seedProcessingEvent(events, "ev-1", "owner-1", "uploads/owner-1/ev-1.jpg")
	require.NoError(t, store.Put(context.Background(), "uploads/owner-1/ev-1.jpg", pngImage, "image/png"))

	msg := uploadedMessage(t, "m1", "ev-1", "owner-1", "uploads/owner-1/ev-1.jpg", 1)
	failed := stage.HandleBatch(context.Background(), []*queue.Message{msg})
	assert.Equal(t, []string{"m1"}, failed)

	// Not the final attempt: record still processing
	stored, err := events.GetByID("ev-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessing, stored.Status)
}

func TestExtractionStageMarksErrorOnFinalAttempt(t *testing.T) {
	events := newFakeEventRepo()
	store := newFakeStore()
	topic, _ := captureTopic("notifications")
	extractor := &fakeExtractor{err: extraction.ErrExtractionFailed}

	stage := NewExtractionStage(events, store, calendar.NewBuilder(store), extractor, topic, 3)

	seedProcessingEvent(events, "ev-1", "owner-1", "uploads/owner-1/ev-1.jpg")
	require.NoError(t, store.Put(context.Background(), "uploads/owner-1/ev-1.jpg", pngImage, "image/png"))

	msg := uploadedMessage(t, "m1", "ev-1", "owner-1", "uploads/owner-1/ev-1.jpg", 3)
	failed := stage.HandleBatch(context.Background(), []*queue.Message{msg})
	assert.Equal(t, []string{"m1"}, failed)

	stored, err := events.GetByID("ev-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusError, stored.Status)
	assert.NotEmpty(t, stored.ProcessingData)
}

func TestExtractionStageDropsMalformedMessages(t *testing.T) {
	events := newFakeEventRepo()
	store := newFakeStore()
	topic, _ := captureTopic("notifications")
	stage := NewExtractionStage(events, store, calendar.NewBuilder(store), &fakeExtractor{}, topic, 3)

	msgs := []*queue.Message{
		{ID: "m1", Body: []byte(`{"no":"type"}`), ReceiveCount: 1},
		{ID: "m2", Body: []byte(`{"type":"delivery.requested"}`), ReceiveCount: 1},
		{ID: "m3", Body: []byte(`not json`), ReceiveCount: 1},
	}
	failed := stage.HandleBatch(context.Background(), msgs)

	// Malformed payloads are acked, not retried
	assert.Empty(t, failed)
}
