package calendar

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/qwikcal/qwikcal/internal/pkg/blobstore"
)

const contentTypeICS = "text/calendar"

// ErrValidation marks event data that cannot become a calendar file.
var ErrValidation = errors.New("invalid event data")

// EventData is the structured input for a calendar file.
type EventData struct {
	Title       string
	StartTime   time.Time
	EndTime     *time.Time
	Location    string
	Description string
}

// Builder turns event data into an ICS artifact stored in blob storage.
type Builder struct {
	store blobstore.Store
}

// NewBuilder creates a builder writing to the given blob store.
func NewBuilder(store blobstore.Store) *Builder {
	return &Builder{store: store}
}

// Build serializes the event to ICS, writes it to blob storage and returns
// the artifact key. The key carries a random suffix so that two builds of
// the same title within the same millisecond cannot collide.
func (b *Builder) Build(ctx context.Context, data EventData) (string, error) {
	if strings.TrimSpace(data.Title) == "" {
		return "", fmt.Errorf("%w: title is required", ErrValidation)
	}
	if data.StartTime.IsZero() {
		return "", fmt.Errorf("%w: start time is required", ErrValidation)
	}

	content, err := encodeICS(data)
	if err != nil {
		return "", err
	}

	key := artifactKey(data.Title)
	if err := b.store.Put(ctx, key, content, contentTypeICS); err != nil {
		// No record may reference a key that was never written.
		return "", err
	}

	log.Debugf("[Calendar] Built artifact %s for %q", key, data.Title)
	return key, nil
}

// encodeICS renders the VCALENDAR byte stream.
func encodeICS(data EventData) ([]byte, error) {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uuid.New().String())
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, data.StartTime.UTC())
	event.Props.SetText(ical.PropSummary, data.Title)
	if data.EndTime != nil {
		event.Props.SetDateTime(ical.PropDateTimeEnd, data.EndTime.UTC())
	}
	if data.Location != "" {
		event.Props.SetText(ical.PropLocation, data.Location)
	}
	if data.Description != "" {
		event.Props.SetText(ical.PropDescription, data.Description)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//QwikCal//Event Calendar//EN")
	cal.Children = append(cal.Children, event.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return buf.Bytes(), nil
}

// artifactKey builds "ics/<unix-ms>-<slug>-<token>.ics". Millisecond
// timestamps alone can collide for concurrent same-title builds, hence the
// random token.
func artifactKey(title string) string {
	return fmt.Sprintf("ics/%d-%s-%s.ics", time.Now().UnixMilli(), slugify(title), randomToken())
}

// slugify normalizes a title into a key-safe fragment.
func slugify(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteByte('-')
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if len(slug) > 48 {
		slug = slug[:48]
	}
	if slug == "" {
		slug = "event"
	}
	return slug
}

func randomToken() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// Extremely unlikely; fall back to a UUID fragment
		return uuid.New().String()[:8]
	}
	return hex.EncodeToString(buf)
}
