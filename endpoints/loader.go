package endpoints

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

/* Loader manages endpoint configuration from endpoints.yaml
 * Provides in-memory lookup for fast access
 */

// Config represents the structure of endpoints.yaml
type Config struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig represents a single endpoint in the YAML file
type EndpointConfig struct {
	WebhookID   string            `yaml:"webhook_id"`
	URL         string            `yaml:"url"`
	Secret      string            `yaml:"secret"`
	HTTPMethod  string            `yaml:"http_method"`
	Headers     map[string]string `yaml:"headers"`
	Active      *bool             `yaml:"active"` // Default: true
	MaxAttempts int               `yaml:"max_attempts"`
	EventTypes  []string          `yaml:"event_types"`
}

// Loader holds the loaded endpoints
type Loader struct {
	endpoints map[string]*Endpoint
}

// NewLoader creates a new endpoint loader
func NewLoader() *Loader {
	return &Loader{
		endpoints: make(map[string]*Endpoint),
	}
}

// Load reads and parses the endpoints.yaml file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading endpoints file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing endpoints YAML: %w", err)
	}

	for _, ec := range config.Endpoints {
		// Endpoints are active unless explicitly disabled
		active := true
		if ec.Active != nil {
			active = *ec.Active
		}

		method := ec.HTTPMethod
		if method == "" {
			method = "POST"
		}

		endpoint := &Endpoint{
			WebhookID:   ec.WebhookID,
			URL:         ec.URL,
			Secret:      ec.Secret,
			HTTPMethod:  method,
			Headers:     ec.Headers,
			Active:      active,
			MaxAttempts: ec.MaxAttempts,
			EventTypes:  ec.EventTypes,
		}

		if err := endpoint.Validate(); err != nil {
			return fmt.Errorf("validating endpoint: %w", err)
		}

		l.endpoints[endpoint.WebhookID] = endpoint
	}

	return nil
}

// Get retrieves an endpoint by its webhook id
func (l *Loader) Get(webhookID string) (*Endpoint, error) {
	endpoint, exists := l.endpoints[webhookID]
	if !exists {
		return nil, fmt.Errorf("endpoint not found: %s", webhookID)
	}
	return endpoint, nil
}

// List returns all loaded endpoints
func (l *Loader) List() []*Endpoint {
	endpoints := make([]*Endpoint, 0, len(l.endpoints))
	for _, endpoint := range l.endpoints {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

// Exists checks if a webhook id exists
func (l *Loader) Exists(webhookID string) bool {
	_, exists := l.endpoints[webhookID]
	return exists
}

// ForEvent returns the active endpoints subscribed to an event type
func (l *Loader) ForEvent(eventType string) []*Endpoint {
	matched := make([]*Endpoint, 0)
	for _, endpoint := range l.endpoints {
		if endpoint.Accepts(eventType) {
			matched = append(matched, endpoint)
		}
	}
	return matched
}
