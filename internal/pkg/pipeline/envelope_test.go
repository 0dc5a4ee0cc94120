package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekType(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    MessageType
		wantErr bool
	}{
		{"event created", `{"type":"event.created","eventId":"e1"}`, TypeEventCreated, false},
		{"unknown fields tolerated", `{"type":"image.uploaded","future":"field"}`, TypeImageUploaded, false},
		{"missing type", `{"eventId":"e1"}`, "", true},
		{"empty type", `{"type":""}`, "", true},
		{"not json", `garbage`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PeekType([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadEnvelope)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeAsRejectsMismatchedType(t *testing.T) {
	payload := []byte(`{"type":"event.status","eventId":"e1","userId":"o1","status":"completed"}`)

	var wrong ImageUploadedMessage
	err := decodeAs(payload, TypeImageUploaded, &wrong)
	assert.ErrorIs(t, err, ErrBadEnvelope)

	var right StatusUpdateMessage
	require.NoError(t, decodeAs(payload, TypeEventStatus, &right))
	assert.Equal(t, "e1", right.EventID)
	assert.Equal(t, "o1", right.OwnerID)
	assert.Equal(t, "completed", right.Status)
}

func TestSubscriptionMessageTimes(t *testing.T) {
	end := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	at := time.Date(2026, 11, 1, 10, 30, 0, 0, time.UTC)

	msg := SubscriptionMessage{EndDate: end.UnixMilli(), EventAt: at.UnixMilli()}
	require.NotNil(t, msg.EndTime())
	assert.True(t, msg.EndTime().Equal(end))
	assert.True(t, msg.EventTime().Equal(at))

	assert.Nil(t, SubscriptionMessage{}.EndTime())
}
