package calendar

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwikcal/qwikcal/internal/pkg/blobstore"
)

// memStore is an in-memory blobstore.Store for tests.
type memStore struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return data, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func TestBuildValidation(t *testing.T) {
	builder := NewBuilder(newMemStore())
	start := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		data EventData
	}{
		{"missing title", EventData{StartTime: start}},
		{"blank title", EventData{Title: "   ", StartTime: start}},
		{"missing start time", EventData{Title: "Team dinner"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := builder.Build(context.Background(), tt.data)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestBuildStoresDecodableICS(t *testing.T) {
	store := newMemStore()
	builder := NewBuilder(store)

	start := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	key, err := builder.Build(context.Background(), EventData{
		Title:       "Team Dinner",
		StartTime:   start,
		EndTime:     &end,
		Location:    "Luigi's",
		Description: "Quarterly team dinner",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "ics/"))
	assert.True(t, strings.HasSuffix(key, ".ics"))
	assert.Contains(t, key, "team-dinner")
	assert.Equal(t, "text/calendar", store.types[key])

	cal, err := ical.NewDecoder(strings.NewReader(string(store.objects[key]))).Decode()
	require.NoError(t, err)

	var event *ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			event = child
		}
	}
	require.NotNil(t, event, "calendar must contain a VEVENT")

	summary, err := event.Props.Get(ical.PropSummary).Text()
	require.NoError(t, err)
	assert.Equal(t, "Team Dinner", summary)

	location, err := event.Props.Get(ical.PropLocation).Text()
	require.NoError(t, err)
	assert.Equal(t, "Luigi's", location)

	dtstart, err := event.Props.Get(ical.PropDateTimeStart).DateTime(time.UTC)
	require.NoError(t, err)
	assert.True(t, dtstart.Equal(start))
}

func TestBuildKeysDoNotCollide(t *testing.T) {
	store := newMemStore()
	builder := NewBuilder(store)
	start := time.Now().Add(time.Hour)

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		key, err := builder.Build(context.Background(), EventData{Title: "Same Title", StartTime: start})
		require.NoError(t, err)
		_, dup := seen[key]
		assert.False(t, dup, "duplicate artifact key %s", key)
		seen[key] = struct{}{}
	}
}

func TestBuildReturnsNoKeyOnStorageFailure(t *testing.T) {
	store := newMemStore()
	store.putErr = errors.New("bucket unavailable")
	builder := NewBuilder(store)

	key, err := builder.Build(context.Background(), EventData{
		Title:     "Team Dinner",
		StartTime: time.Now().Add(time.Hour),
	})
	assert.Error(t, err)
	assert.Empty(t, key)
	assert.Empty(t, store.objects)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Team Dinner", "team-dinner"},
		{"  Läuft: Q&A Session!  ", "luft-qa-session"},
		{"###", "event"},
		{strings.Repeat("a", 60), strings.Repeat("a", 48)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slugify(tt.in))
	}
}
