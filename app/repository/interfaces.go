package repository

import (
	"time"

	"github.com/qwikcal/qwikcal/app/models"
)

// ExtractionResult carries the fields written by the extraction stage when an
// image has been turned into structured event data.
type ExtractionResult struct {
	Title          string
	StartTime      *time.Time
	EndTime        *time.Time
	Location       string
	Description    string
	IcsKey         string
	ProcessingData string
}

// EventRepository defines the database operations for event records. All
// mutations are keyed by the full (eventID, ownerID) identity and expressed
// as conditional writes so re-applying the same update under queue
// redelivery is safe.
type EventRepository interface {
	Create(event *models.Event) error
	GetByID(eventID, ownerID string) (*models.Event, error)
	ListByOwner(ownerID string, offset, limit int) ([]models.Event, error)
	CountByOwner(ownerID string) (int64, error)
	// UpdateFields overwrites the semantic fields of an event. Used by the
	// owner-facing update path.
	UpdateFields(eventID, ownerID string, fields ExtractionResult) error
	// ApplyExtraction writes extracted fields, artifact key and the
	// processed status in one conditional update. Idempotent overwrite.
	ApplyExtraction(eventID, ownerID string, result ExtractionResult) error
	// UpdateStatus applies a status transition plus processing metadata.
	UpdateStatus(eventID, ownerID, status string, processedAt time.Time, data string) error
	Delete(eventID, ownerID string) error
}

// AccountRepository defines the database operations for account records.
type AccountRepository interface {
	GetByOwnerID(ownerID string) (*models.Account, error)
	GetOrCreate(ownerID, email string) (*models.Account, error)
	// ApplySubscriptionState sets the subscription fields only when eventAt
	// is newer than the stored billing event timestamp. Returns true when
	// the write was applied, false when it was a no-op (stale or duplicate
	// event).
	ApplySubscriptionState(ownerID, status, customerID, subscriptionID string, subscriptionEnd *time.Time, eventAt time.Time) (bool, error)
}
