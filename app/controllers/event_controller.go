package controllers

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/qwikcal/qwikcal/app/repository"
	"github.com/qwikcal/qwikcal/internal/pkg/blobstore"
	"github.com/qwikcal/qwikcal/internal/pkg/calendar"
	"github.com/qwikcal/qwikcal/internal/pkg/entitlements"
	"github.com/qwikcal/qwikcal/internal/pkg/middleware"
	"github.com/qwikcal/qwikcal/internal/pkg/notify"
	"github.com/qwikcal/qwikcal/internal/pkg/pipeline"
)

// maxUploadSize bounds accepted event images.
const maxUploadSize = 10 << 20 // 10 MiB

// EventController serves the event CRUD and ingestion endpoints.
type EventController struct {
	ingestor      *pipeline.Ingestor
	events        repository.EventRepository
	store         blobstore.Store
	builder       *calendar.Builder
	gate          *entitlements.Gate
	notifications *notify.Topic
	validate      *validator.Validate
}

// NewEventController wires the event endpoints.
func NewEventController(ingestor *pipeline.Ingestor, events repository.EventRepository, store blobstore.Store, builder *calendar.Builder, gate *entitlements.Gate, notifications *notify.Topic) *EventController {
	return &EventController{
		ingestor:      ingestor,
		events:        events,
		store:         store,
		builder:       builder,
		gate:          gate,
		notifications: notifications,
		validate:      validator.New(),
	}
}

// eventRequest is the JSON body for text submissions and updates.
type eventRequest struct {
	Title       string `json:"title" validate:"required,max=255"`
	StartTime   string `json:"startTime" validate:"required"`
	EndTime     string `json:"endTime,omitempty"`
	Location    string `json:"location,omitempty" validate:"max=255"`
	Description string `json:"description,omitempty"`
}

// submission parses and validates the request into a pipeline submission.
func (r eventRequest) submission() (pipeline.TextSubmission, error) {
	start, err := time.Parse(time.RFC3339, r.StartTime)
	if err != nil {
		return pipeline.TextSubmission{}, fmt.Errorf("%w: invalid startTime: %v", pipeline.ErrInvalidSubmission, err)
	}

	var end *time.Time
	if r.EndTime != "" {
		t, err := time.Parse(time.RFC3339, r.EndTime)
		if err != nil {
			return pipeline.TextSubmission{}, fmt.Errorf("%w: invalid endTime: %v", pipeline.ErrInvalidSubmission, err)
		}
		end = &t
	}

	return pipeline.TextSubmission{
		Title:       r.Title,
		StartTime:   start,
		EndTime:     end,
		Location:    r.Location,
		Description: r.Description,
	}, nil
}

// Create handles POST /events: a text submission completing synchronously.
func (ec *EventController) Create(c *fiber.Ctx) error {
	var req eventRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", "Invalid request body")
	}
	if err := ec.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", err.Error())
	}

	sub, err := req.submission()
	if err != nil {
		return errorResponse(c, err)
	}

	event, err := ec.ingestor.SubmitText(c.UserContext(), middleware.GetOwnerID(c), sub)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(event)
}

// Upload handles POST /events/upload: an image submission processed
// asynchronously. Premium only.
func (ec *EventController) Upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", "Missing image file")
	}
	if fileHeader.Size > maxUploadSize {
		return jsonError(c, fiber.StatusRequestEntityTooLarge, "invalid_submission", "Image too large")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", "Unreadable image file")
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", "Unreadable image file")
	}

	event, err := ec.ingestor.SubmitImage(c.UserContext(), middleware.GetOwnerID(c), image)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(event)
}

// Get handles GET /events/:id.
func (ec *EventController) Get(c *fiber.Ctx) error {
	event, err := ec.events.GetByID(c.Params("id"), middleware.GetOwnerID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(event)
}

// List handles GET /events with page/limit pagination.
func (ec *EventController) List(c *fiber.Ctx) error {
	ownerID := middleware.GetOwnerID(c)

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	events, err := ec.events.ListByOwner(ownerID, (page-1)*limit, limit)
	if err != nil {
		return errorResponse(c, err)
	}
	total, err := ec.events.CountByOwner(ownerID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"events": events,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// Update handles PUT /events/:id: the owner overwrites the semantic fields.
// The calendar artifact is rebuilt so downloads always match the record.
func (ec *EventController) Update(c *fiber.Ctx) error {
	ownerID := middleware.GetOwnerID(c)
	eventID := c.Params("id")

	if _, err := ec.events.GetByID(eventID, ownerID); err != nil {
		return errorResponse(c, err)
	}

	var req eventRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", "Invalid request body")
	}
	if err := ec.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", err.Error())
	}
	sub, err := req.submission()
	if err != nil {
		return errorResponse(c, err)
	}

	icsKey, err := ec.builder.Build(c.UserContext(), calendar.EventData{
		Title:       sub.Title,
		StartTime:   sub.StartTime,
		EndTime:     sub.EndTime,
		Location:    sub.Location,
		Description: sub.Description,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	fields := repository.ExtractionResult{
		Title:       sub.Title,
		StartTime:   &sub.StartTime,
		EndTime:     sub.EndTime,
		Location:    sub.Location,
		Description: sub.Description,
		IcsKey:      icsKey,
	}
	if err := ec.events.UpdateFields(eventID, ownerID, fields); err != nil {
		return errorResponse(c, err)
	}

	event, err := ec.events.GetByID(eventID, ownerID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(event)
}

// Delete handles DELETE /events/:id. Blob cleanup is best-effort; the
// record delete is what the client observes.
func (ec *EventController) Delete(c *fiber.Ctx) error {
	ownerID := middleware.GetOwnerID(c)
	eventID := c.Params("id")

	event, err := ec.events.GetByID(eventID, ownerID)
	if err != nil {
		return errorResponse(c, err)
	}

	for _, key := range []string{event.ImageKey, event.IcsKey} {
		if key == "" {
			continue
		}
		if err := ec.store.Delete(c.UserContext(), key); err != nil {
			log.Warnf("[Events] Failed to delete blob %s: %v", key, err)
		}
	}

	if err := ec.events.Delete(eventID, ownerID); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DownloadCalendar handles GET /events/:id/calendar, streaming the stored
// ICS artifact.
func (ec *EventController) DownloadCalendar(c *fiber.Ctx) error {
	event, err := ec.events.GetByID(c.Params("id"), middleware.GetOwnerID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	if !event.HasArtifact() {
		return jsonError(c, fiber.StatusConflict, "not_ready", "Calendar file is not ready yet")
	}

	content, err := ec.store.Get(c.UserContext(), event.IcsKey)
	if err != nil {
		return errorResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "event-"+event.EventID+".ics"))
	return c.Send(content)
}

// deliverRequest is the JSON body for delivery requests.
type deliverRequest struct {
	Recipient string `json:"recipient" validate:"required,email"`
	Method    string `json:"method,omitempty" validate:"omitempty,oneof=email"`
}

// Deliver handles POST /events/:id/deliver: publishes a delivery request
// the delivery stage picks up. Premium only.
func (ec *EventController) Deliver(c *fiber.Ctx) error {
	ownerID := middleware.GetOwnerID(c)
	eventID := c.Params("id")

	if !ec.gate.IsEntitled(ownerID) {
		return errorResponse(c, pipeline.ErrEntitlementRequired)
	}

	event, err := ec.events.GetByID(eventID, ownerID)
	if err != nil {
		return errorResponse(c, err)
	}
	if !event.HasArtifact() {
		return jsonError(c, fiber.StatusConflict, "not_ready", "Calendar file is not ready yet")
	}

	var req deliverRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", "Invalid request body")
	}
	if req.Method == "" {
		req.Method = "email"
	}
	if err := ec.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", err.Error())
	}

	body, err := json.Marshal(pipeline.DeliveryRequestMessage{
		Type:      pipeline.TypeDeliveryRequested,
		EventID:   eventID,
		OwnerID:   ownerID,
		Recipient: req.Recipient,
		Method:    req.Method,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	attrs := map[string]string{
		pipeline.AttrEventType:      string(pipeline.TypeDeliveryRequested),
		pipeline.AttrDeliveryMethod: req.Method,
	}
	if err := ec.notifications.Publish(c.UserContext(), body, attrs); err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Delivery requested",
	})
}
