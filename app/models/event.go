package models

import (
	"time"
)

// Event lifecycle statuses
const (
	EventStatusPending    = "pending"
	EventStatusProcessing = "processing"
	EventStatusProcessed  = "processed"
	EventStatusCompleted  = "completed"
	EventStatusError      = "error"
)

// Event is a calendar event record. Identity is the (EventID, OwnerID)
// composite; an event is only ever mutated through that full key so one
// owner can never touch another owner's records.
type Event struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	EventID        string     `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex:idx_event_owner;not null" json:"event_id"`
	OwnerID        string     `gorm:"type:varchar(128);uniqueIndex:idx_event_owner;index:idx_owner_created,priority:1;not null" json:"owner_id"`
	Title          string     `gorm:"type:varchar(255)" json:"title"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Location       string     `gorm:"type:varchar(255)" json:"location,omitempty"`
	Description    string     `gorm:"type:text" json:"description,omitempty"`
	Status         string     `gorm:"type:varchar(20);default:pending;index" json:"status"`
	ImageKey       string     `gorm:"type:varchar(255)" json:"image_key,omitempty"`
	IcsKey         string     `gorm:"type:varchar(255)" json:"ics_key,omitempty"`
	ProcessingData string     `gorm:"type:text" json:"processing_data,omitempty"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"index:idx_owner_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasArtifact reports whether the calendar file for this event has been
// generated and stored.
func (e *Event) HasArtifact() bool {
	return e.IcsKey != ""
}

// IsTerminal reports whether the event has reached a final pipeline state.
func (e *Event) IsTerminal() bool {
	switch e.Status {
	case EventStatusProcessed, EventStatusCompleted, EventStatusError:
		return true
	}
	return false
}
