package endpoints

import (
	"fmt"
	"net/url"

	"github.com/marcelsud/webhook-outbox/delivery/payload"
)

/* Endpoint represents a webhook subscriber configuration
 * Maps webhook_id to target URL with signing and filtering settings
 */
type Endpoint struct {
	WebhookID   string
	URL         string
	Secret      string            // HMAC signing secret, empty for unsigned endpoints
	HTTPMethod  string            // Defaults to POST
	Headers     map[string]string // Custom headers, system headers always win
	Active      bool
	MaxAttempts int      // 0 means the scheduler default
	EventTypes  []string // Event types to filter (e.g., ["user.created", "user.*"])
}

// Validate checks if the endpoint configuration is valid
func (e *Endpoint) Validate() error {
	if e.WebhookID == "" {
		return fmt.Errorf("webhook_id cannot be empty")
	}
	if e.URL == "" {
		return fmt.Errorf("url cannot be empty for endpoint %s", e.WebhookID)
	}
	u, err := url.ParseRequestURI(e.URL)
	if err != nil {
		return fmt.Errorf("invalid url for endpoint %s: %w", e.WebhookID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https for endpoint %s (got %s)", e.WebhookID, u.Scheme)
	}
	if e.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts cannot be negative for endpoint %s", e.WebhookID)
	}
	for _, eventType := range e.EventTypes {
		if err := payload.ValidateEventType(eventType); err != nil {
			return fmt.Errorf("invalid event_type '%s' for endpoint %s: %w", eventType, e.WebhookID, err)
		}
	}
	return nil
}

// Accepts reports whether this endpoint subscribes to the event type.
// An endpoint with no filter accepts every event.
func (e *Endpoint) Accepts(eventType string) bool {
	return e.Active && payload.Matches(eventType, e.EventTypes)
}
