package pipeline

import "errors"

// Error taxonomy for the event pipeline. Synchronous surfaces map these to
// HTTP responses; asynchronous stages never let them escape the stage
// boundary and instead convert failures into per-message failure reports for
// the queue's redelivery policy.
var (
	// ErrInvalidSubmission marks a submission that is neither usable text
	// nor a usable image. Permanent reject.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrEntitlementRequired marks a premium-only operation attempted by a
	// non-premium account. Permanent reject, user-correctable.
	ErrEntitlementRequired = errors.New("premium subscription required")

	// ErrNotFound marks a missing event record or artifact. The delivery
	// stage treats it as transient, since processing may still complete.
	ErrNotFound = errors.New("event not found")

	// ErrBadEnvelope marks a queue/topic message without a usable type
	// discriminator or required identity fields.
	ErrBadEnvelope = errors.New("malformed message envelope")
)
