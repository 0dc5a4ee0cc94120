package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qwikcal/qwikcal/app/models"
)

// eventRepository implements the EventRepository interface
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new event repository instance
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Create creates a new event record
func (r *eventRepository) Create(event *models.Event) error {
	return r.db.Create(event).Error
}

// GetByID retrieves an event by its composite identity
func (r *eventRepository) GetByID(eventID, ownerID string) (*models.Event, error) {
	var event models.Event
	err := r.db.Where("event_id = ? AND owner_id = ?", eventID, ownerID).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListByOwner returns an owner's events ordered by creation time, newest first
func (r *eventRepository) ListByOwner(ownerID string, offset, limit int) ([]models.Event, error) {
	var events []models.Event
	err := r.db.Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&events).Error
	return events, err
}

// CountByOwner returns the number of events an owner has created
func (r *eventRepository) CountByOwner(ownerID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Event{}).Where("owner_id = ?", ownerID).Count(&count).Error
	return count, err
}

// UpdateFields overwrites the semantic event fields and artifact key.
func (r *eventRepository) UpdateFields(eventID, ownerID string, fields ExtractionResult) error {
	updates := map[string]interface{}{
		"title":       fields.Title,
		"start_time":  fields.StartTime,
		"end_time":    fields.EndTime,
		"location":    fields.Location,
		"description": fields.Description,
		"ics_key":     fields.IcsKey,
		"updated_at":  time.Now(),
	}
	res := r.db.Model(&models.Event{}).
		Where("event_id = ? AND owner_id = ?", eventID, ownerID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ApplyExtraction writes the extraction outcome in a single conditional
// update. Re-applying the same result under redelivery yields the same row.
func (r *eventRepository) ApplyExtraction(eventID, ownerID string, result ExtractionResult) error {
	now := time.Now()
	updates := map[string]interface{}{
		"title":           result.Title,
		"start_time":      result.StartTime,
		"end_time":        result.EndTime,
		"location":        result.Location,
		"description":     result.Description,
		"ics_key":         result.IcsKey,
		"processing_data": result.ProcessingData,
		"status":          models.EventStatusProcessed,
		"processed_at":    &now,
		"updated_at":      now,
	}
	res := r.db.Model(&models.Event{}).
		Where("event_id = ? AND owner_id = ?", eventID, ownerID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateStatus applies a status transition with processing metadata.
func (r *eventRepository) UpdateStatus(eventID, ownerID, status string, processedAt time.Time, data string) error {
	updates := map[string]interface{}{
		"status":          status,
		"processed_at":    &processedAt,
		"processing_data": data,
		"updated_at":      time.Now(),
	}
	res := r.db.Model(&models.Event{}).
		Where("event_id = ? AND owner_id = ?", eventID, ownerID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes an event record. Deleting an already absent record is not
// an error, matching the idempotent owner-delete contract.
func (r *eventRepository) Delete(eventID, ownerID string) error {
	return r.db.Where("event_id = ? AND owner_id = ?", eventID, ownerID).
		Delete(&models.Event{}).Error
}
