package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/noah-isme/gema-grading/internal/events"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	maxCorrelationLen   = 128
	localCorrelationID  = "correlation_id"
)

// CorrelationID tags each request with an id that is echoed back, logged and stamped
// onto every grading event the request publishes. Caller-supplied ids are reused when sane.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(HeaderCorrelationID)
		if !acceptableCorrelationID(id) {
			id = c.Get(fiber.HeaderXRequestID)
		}
		if !acceptableCorrelationID(id) {
			id = uuid.NewString()
		}

		c.Locals(localCorrelationID, id)
		c.Set(HeaderCorrelationID, id)
		c.SetUserContext(events.WithCorrelation(c.UserContext(), id))

		return c.Next()
	}
}

// acceptableCorrelationID rejects empty, oversized and non-printable ids so they
// cannot be used to smuggle content into logs or event payloads.
func acceptableCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// GetCorrelationID returns the id bound to the request, or "" outside CorrelationID.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(localCorrelationID).(string); ok {
		return id
	}
	return events.CorrelationFrom(c.UserContext())
}
