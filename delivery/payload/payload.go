package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// eventTypePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// Envelope is the body sent to webhook receivers. It is serialized
// exactly once at schedule time; the resulting bytes are what gets
// signed and what every retry re-sends.
type Envelope struct {
	// EventType is a full-stop delimited type associated with the event
	// Examples: "user.created", "invoice.paid", "order.shipped"
	EventType string `json:"event_type"`

	// Timestamp is the ISO 8601 formatted timestamp of when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Data is the actual event data associated with the event
	Data json.RawMessage `json:"data"`
}

// Validate validates the envelope structure
func (e Envelope) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}

	if !eventTypePattern.MatchString(e.EventType) {
		return fmt.Errorf("event_type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", e.EventType)
	}

	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if len(e.Data) == 0 {
		return fmt.Errorf("data is required")
	}

	// Validate that data is valid JSON
	if !json.Valid(e.Data) {
		return fmt.Errorf("data must be valid JSON")
	}

	return nil
}

// MarshalJSON returns the JSON encoding of the envelope
func (e Envelope) MarshalJSON() ([]byte, error) {
	type Alias Envelope
	return json.Marshal(&struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Alias:     (*Alias)(&e),
	})
}

// UnmarshalJSON parses the JSON-encoded data and stores the result
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type Alias Envelope
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("unmarshaling envelope: %w", err)
	}

	// Parse timestamp
	timestamp, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		// Try RFC3339 without nano precision
		timestamp, err = time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parsing timestamp: %w", err)
		}
	}
	e.Timestamp = timestamp

	return nil
}

// New creates a new Envelope with the given type, occurrence time and data
func New(eventType string, at time.Time, data interface{}) (Envelope, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling data: %w", err)
	}

	env := Envelope{
		EventType: eventType,
		Timestamp: at.UTC(),
		Data:      dataBytes,
	}

	if err := env.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("validating envelope: %w", err)
	}

	return env, nil
}

// Parse parses a JSON body into an Envelope
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	if err := env.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("validating envelope: %w", err)
	}

	return env, nil
}

// Bytes returns the JSON-encoded envelope as bytes
// The returned bytes are minified (no extra whitespace)
func (e Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// MatchesEventType checks if the envelope's type matches any of the given event types
// Supports exact matching and prefix matching (e.g., "user.*" matches "user.created")
func (e Envelope) MatchesEventType(eventTypes []string) bool {
	return Matches(e.EventType, eventTypes)
}

// Matches checks a raw event type against a filter list. An empty list
// accepts all event types.
func Matches(eventType string, eventTypes []string) bool {
	if len(eventTypes) == 0 {
		return true
	}

	for _, candidate := range eventTypes {
		// Exact match
		if eventType == candidate {
			return true
		}

		// Prefix match (e.g., "user.*" matches "user.created", "user.updated")
		if len(candidate) > 2 && candidate[len(candidate)-2:] == ".*" {
			prefix := candidate[:len(candidate)-2]
			if len(eventType) > len(prefix) && eventType[:len(prefix)] == prefix && eventType[len(prefix)] == '.' {
				return true
			}
		}
	}

	return false
}

// ValidateEventType validates an event type format
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	// Allow wildcard suffix for filtering
	if len(eventType) > 2 && eventType[len(eventType)-2:] == ".*" {
		eventType = eventType[:len(eventType)-2]
	}

	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("event type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", eventType)
	}

	return nil
}
