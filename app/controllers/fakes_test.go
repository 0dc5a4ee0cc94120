package controllers

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/qwikcal/qwikcal/app/models"
	"github.com/qwikcal/qwikcal/app/repository"
	"github.com/qwikcal/qwikcal/internal/pkg/blobstore"
)

type memEventRepo struct {
	mu     sync.Mutex
	events map[string]*models.Event
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{events: map[string]*models.Event{}}
}

func key(eventID, ownerID string) string { return eventID + "|" + ownerID }

func (m *memEventRepo) Create(event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *event
	m.events[key(event.EventID, event.OwnerID)] = &copied
	return nil
}

func (m *memEventRepo) GetByID(eventID, ownerID string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[key(eventID, ownerID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *event
	return &copied, nil
}

func (m *memEventRepo) ListByOwner(ownerID string, offset, limit int) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Event
	for _, e := range m.events {
		if e.OwnerID == ownerID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memEventRepo) CountByOwner(ownerID string) (int64, error) {
	list, _ := m.ListByOwner(ownerID, 0, 0)
	return int64(len(list)), nil
}

func (m *memEventRepo) UpdateFields(eventID, ownerID string, fields repository.ExtractionResult) error {
	return m.ApplyExtraction(eventID, ownerID, fields)
}

func (m *memEventRepo) ApplyExtraction(eventID, ownerID string, result repository.ExtractionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[key(eventID, ownerID)]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	event.Title = result.Title
	event.StartTime = result.StartTime
	event.EndTime = result.EndTime
	event.Location = result.Location
	event.Description = result.Description
	event.IcsKey = result.IcsKey
	return nil
}

func (m *memEventRepo) UpdateStatus(eventID, ownerID, status string, processedAt time.Time, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[key(eventID, ownerID)]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	event.Status = status
	return nil
}

func (m *memEventRepo) Delete(eventID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, key(eventID, ownerID))
	return nil
}

type memAccountRepo struct {
	premium bool
}

func (m *memAccountRepo) GetByOwnerID(ownerID string) (*models.Account, error) {
	status := models.SubscriptionFree
	if m.premium {
		status = models.SubscriptionPremium
	}
	return &models.Account{OwnerID: ownerID, SubscriptionStatus: status}, nil
}

func (m *memAccountRepo) GetOrCreate(ownerID, email string) (*models.Account, error) {
	return m.GetByOwnerID(ownerID)
}

func (m *memAccountRepo) ApplySubscriptionState(string, string, string, string, *time.Time, time.Time) (bool, error) {
	return true, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return data, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
