package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwikcal/qwikcal/app/models"
	"github.com/qwikcal/qwikcal/internal/pkg/queue"
)

func statusMessage(t *testing.T, id, eventID, ownerID, status string) *queue.Message {
	t.Helper()
	body, err := json.Marshal(StatusUpdateMessage{
		Type:    TypeEventStatus,
		EventID: eventID,
		OwnerID: ownerID,
		Status:  status,
	})
	require.NoError(t, err)
	return &queue.Message{ID: id, Body: body, ReceiveCount: 1}
}

func TestMutationStageAppliesBatch(t *testing.T) {
	events := newFakeEventRepo()
	topic, captured := captureTopic("notifications")
	stage := NewEventMutationStage(events, topic)

	for i := 0; i < 3; i++ {
		events.Create(&models.Event{
			EventID: fmt.Sprintf("ev-%d", i),
			OwnerID: "owner-1",
			Status:  models.EventStatusProcessing,
		})
	}

	var msgs []*queue.Message
	for i := 0; i < 3; i++ {
		msgs = append(msgs, statusMessage(t, fmt.Sprintf("m-%d", i), fmt.Sprintf("ev-%d", i), "owner-1", models.EventStatusCompleted))
	}

	failed := stage.HandleBatch(context.Background(), msgs)
	assert.Empty(t, failed)

	for i := 0; i < 3; i++ {
		stored, err := events.GetByID(fmt.Sprintf("ev-%d", i), "owner-1")
		require.NoError(t, err)
		assert.Equal(t, models.EventStatusCompleted, stored.Status)
	}
	assert.Len(t, captured.byType(TypeEventUpdated), 3)
}

func TestMutationStagePartialBatchFailure(t *testing.T) {
	events := newFakeEventRepo()
	topic, _ := captureTopic("notifications")
	stage := NewEventMutationStage(events, topic)

	// Nine records exist; the tenth update targets a missing one
	var msgs []*queue.Message
	for i := 0; i < 10; i++ {
		eventID := fmt.Sprintf("ev-%d", i)
		if i != 7 {
			events.Create(&models.Event{EventID: eventID, OwnerID: "owner-1", Status: models.EventStatusProcessing})
		}
		msgs = append(msgs, statusMessage(t, fmt.Sprintf("m-%d", i), eventID, "owner-1", models.EventStatusCompleted))
	}

	failed := stage.HandleBatch(context.Background(), msgs)

	// Only the failing message is redelivered; its batchmates are done
	assert.Equal(t, []string{"m-7"}, failed)
	for i := 0; i < 10; i++ {
		if i == 7 {
			continue
		}
		stored, err := events.GetByID(fmt.Sprintf("ev-%d", i), "owner-1")
		require.NoError(t, err)
		assert.Equal(t, models.EventStatusCompleted, stored.Status)
	}
}

func TestMutationStageDropsMalformedMessage(t *testing.T) {
	events := newFakeEventRepo()
	topic, _ := captureTopic("notifications")
	stage := NewEventMutationStage(events, topic)

	failed := stage.HandleBatch(context.Background(), []*queue.Message{
		{ID: "m1", Body: []byte(`{"type":"image.uploaded"}`), ReceiveCount: 1},
	})
	assert.Empty(t, failed)
}
