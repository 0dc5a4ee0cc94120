package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		attrs  map[string]string
		want   bool
	}{
		{
			name:   "empty filter matches everything",
			filter: nil,
			attrs:  map[string]string{"eventType": "event.created"},
			want:   true,
		},
		{
			name:   "single value match",
			filter: Filter{"eventType": {"event.created"}},
			attrs:  map[string]string{"eventType": "event.created"},
			want:   true,
		},
		{
			name:   "value not allowed",
			filter: Filter{"eventType": {"event.created"}},
			attrs:  map[string]string{"eventType": "event.processed"},
			want:   false,
		},
		{
			name:   "missing attribute never matches",
			filter: Filter{"deliveryMethod": {"email"}},
			attrs:  map[string]string{"eventType": "delivery.requested"},
			want:   false,
		},
		{
			name:   "all listed attributes must hold",
			filter: Filter{"eventType": {"delivery.requested"}, "deliveryMethod": {"email"}},
			attrs:  map[string]string{"eventType": "delivery.requested", "deliveryMethod": "sms"},
			want:   false,
		},
		{
			name:   "multiple allowed values",
			filter: Filter{"eventType": {"subscription.created", "subscription.updated"}},
			attrs:  map[string]string{"eventType": "subscription.updated"},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.attrs))
		})
	}
}

func TestPublishFansOutToMatchingSubscribers(t *testing.T) {
	topic := NewTopic("test")

	var created, processed, all []Message
	topic.Subscribe("created-only", Filter{"eventType": {"event.created"}}, func(_ context.Context, msg Message) error {
		created = append(created, msg)
		return nil
	})
	topic.Subscribe("processed-only", Filter{"eventType": {"event.processed"}}, func(_ context.Context, msg Message) error {
		processed = append(processed, msg)
		return nil
	})
	topic.Subscribe("firehose", nil, func(_ context.Context, msg Message) error {
		all = append(all, msg)
		return nil
	})

	require.NoError(t, topic.Publish(context.Background(), []byte(`{"a":1}`), map[string]string{"eventType": "event.created"}))
	require.NoError(t, topic.Publish(context.Background(), []byte(`{"b":2}`), map[string]string{"eventType": "event.processed"}))

	assert.Len(t, created, 1)
	assert.Len(t, processed, 1)
	assert.Len(t, all, 2)
	assert.Equal(t, []byte(`{"a":1}`), created[0].Body)
}

func TestPublishToleratesHandlerErrors(t *testing.T) {
	topic := NewTopic("test")

	var delivered int
	topic.Subscribe("broken", nil, func(context.Context, Message) error {
		return errors.New("handler exploded")
	})
	topic.Subscribe("healthy", nil, func(context.Context, Message) error {
		delivered++
		return nil
	})

	// A failing handler does not fail the publish or starve later subscribers
	err := topic.Publish(context.Background(), []byte(`{}`), nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, delivered)
}

func TestFIFOTopicPreservesPublishOrder(t *testing.T) {
	topic := NewFIFOTopic("billing")
	assert.True(t, topic.FIFO())

	var got []string
	topic.Subscribe("ordered", nil, func(_ context.Context, msg Message) error {
		got = append(got, string(msg.Body))
		return nil
	})

	for _, payload := range []string{"first", "second", "third"} {
		require.NoError(t, topic.PublishToGroup(context.Background(), []byte(payload), nil, "owner-1"))
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestPublishToGroupCarriesGroupID(t *testing.T) {
	topic := NewFIFOTopic("billing")

	var groups []string
	topic.Subscribe("capture", nil, func(_ context.Context, msg Message) error {
		groups = append(groups, msg.GroupID)
		return nil
	})

	require.NoError(t, topic.PublishToGroup(context.Background(), []byte(`{}`), nil, "owner-9"))
	assert.Equal(t, []string{"owner-9"}, groups)
}
