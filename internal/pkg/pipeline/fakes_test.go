package pipeline

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/qwikcal/qwikcal/app/models"
	"github.com/qwikcal/qwikcal/app/repository"
	"github.com/qwikcal/qwikcal/internal/pkg/blobstore"
	"github.com/qwikcal/qwikcal/internal/pkg/extraction"
	"github.com/qwikcal/qwikcal/internal/pkg/notify"
)

type fakeEventRepo struct {
	mu        sync.Mutex
	events    map[string]*models.Event
	createErr error
	updateErr error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: map[string]*models.Event{}}
}

func eventKey(eventID, ownerID string) string {
	return eventID + "|" + ownerID
}

func (f *fakeEventRepo) Create(event *models.Event) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *event
	f.events[eventKey(event.EventID, event.OwnerID)] = &copied
	return nil
}

func (f *fakeEventRepo) GetByID(eventID, ownerID string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventKey(eventID, ownerID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *event
	return &copied, nil
}

func (f *fakeEventRepo) ListByOwner(ownerID string, offset, limit int) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Event
	for _, e := range f.events {
		if e.OwnerID == ownerID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEventRepo) CountByOwner(ownerID string) (int64, error) {
	list, _ := f.ListByOwner(ownerID, 0, 0)
	return int64(len(list)), nil
}

func (f *fakeEventRepo) UpdateFields(eventID, ownerID string, fields repository.ExtractionResult) error {
	return f.ApplyExtraction(eventID, ownerID, fields)
}

func (f *fakeEventRepo) ApplyExtraction(eventID, ownerID string, result repository.ExtractionResult) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventKey(eventID, ownerID)]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	event.Title = result.Title
	event.StartTime = result.StartTime
	event.EndTime = result.EndTime
	event.Location = result.Location
	event.Description = result.Description
	event.IcsKey = result.IcsKey
	event.ProcessingData = result.ProcessingData
	event.Status = models.EventStatusProcessed
	now := time.Now()
	event.ProcessedAt = &now
	return nil
}

func (f *fakeEventRepo) UpdateStatus(eventID, ownerID, status string, processedAt time.Time, data string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventKey(eventID, ownerID)]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	event.Status = status
	event.ProcessedAt = &processedAt
	event.ProcessingData = data
	return nil
}

func (f *fakeEventRepo) Delete(eventID, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, eventKey(eventID, ownerID))
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Put(_ context.Context, key string, data []byte, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return data, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type fakeAccountRepo struct {
	premium bool
}

func (f *fakeAccountRepo) GetByOwnerID(ownerID string) (*models.Account, error) {
	status := models.SubscriptionFree
	if f.premium {
		status = models.SubscriptionPremium
	}
	return &models.Account{OwnerID: ownerID, SubscriptionStatus: status}, nil
}

func (f *fakeAccountRepo) GetOrCreate(ownerID, email string) (*models.Account, error) {
	return f.GetByOwnerID(ownerID)
}

func (f *fakeAccountRepo) ApplySubscriptionState(string, string, string, string, *time.Time, time.Time) (bool, error) {
	return true, nil
}

type fakeExtractor struct {
	fields *extraction.Fields
	err    error
}

func (f *fakeExtractor) Extract(context.Context, []byte) (*extraction.Fields, error) {
	return f.fields, f.err
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

// captureTopic returns a topic plus a sink recording everything published
// on it.
func captureTopic(name string) (*notify.Topic, *capturedMessages) {
	topic := notify.NewTopic(name)
	captured := &capturedMessages{}
	topic.Subscribe("capture", nil, func(_ context.Context, msg notify.Message) error {
		captured.mu.Lock()
		defer captured.mu.Unlock()
		captured.msgs = append(captured.msgs, msg)
		return nil
	})
	return topic, captured
}

type capturedMessages struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (c *capturedMessages) all() []notify.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Message(nil), c.msgs...)
}

func (c *capturedMessages) byType(want MessageType) []notify.Message {
	var out []notify.Message
	for _, msg := range c.all() {
		if msg.Attributes[AttrEventType] == string(want) {
			out = append(out, msg)
		}
	}
	return out
}
