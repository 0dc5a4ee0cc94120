package extraction

import (
	"context"
	"errors"
	"time"
)

// ErrExtractionFailed marks a failed attempt to pull event fields out of an
// image. The surrounding queue's retry policy governs redelivery.
var ErrExtractionFailed = errors.New("event extraction failed")

// Fields is the structured event data pulled from an image.
type Fields struct {
	Title       string
	StartTime   time.Time
	EndTime     *time.Time
	Location    string
	Description string
}

// Extractor is the inference collaborator contract.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (*Fields, error)
}
