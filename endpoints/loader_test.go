package endpoints_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-outbox/endpoints"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "endpoints-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	tmpFile.Close()

	return tmpFile.Name()
}

func TestLoader_Load(t *testing.T) {
	t.Run("success - valid endpoints file", func(t *testing.T) {
		content := `
endpoints:
  - webhook_id: "billing"
    url: "https://billing.example.com/hook"
    secret: "whsec-billing"
    max_attempts: 3
    event_types: ["invoice.paid", "invoice.*"]
    headers:
      X-Team: "billing"
  - webhook_id: "analytics"
    url: "https://analytics.example.com/hook"
    http_method: "PUT"
`
		loader := endpoints.NewLoader()
		err := loader.Load(writeTempFile(t, content))

		require.NoError(t, err)

		all := loader.List()
		assert.Len(t, all, 2)

		ep, err := loader.Get("billing")
		require.NoError(t, err)
		assert.Equal(t, "https://billing.example.com/hook", ep.URL)
		assert.Equal(t, "whsec-billing", ep.Secret)
		assert.Equal(t, "POST", ep.HTTPMethod)
		assert.Equal(t, 3, ep.MaxAttempts)
		assert.True(t, ep.Active)
		assert.Equal(t, "billing", ep.Headers["X-Team"])

		ep, err = loader.Get("analytics")
		require.NoError(t, err)
		assert.Equal(t, "PUT", ep.HTTPMethod)
		assert.Empty(t, ep.EventTypes)
	})

	t.Run("error - file not found", func(t *testing.T) {
		loader := endpoints.NewLoader()
		err := loader.Load("nonexistent.yaml")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading endpoints file")
	})

	t.Run("error - invalid YAML", func(t *testing.T) {
		loader := endpoints.NewLoader()
		err := loader.Load(writeTempFile(t, `invalid yaml content: [[[`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing endpoints YAML")
	})

	t.Run("error - missing url", func(t *testing.T) {
		content := `
endpoints:
  - webhook_id: "broken"
`
		loader := endpoints.NewLoader()
		err := loader.Load(writeTempFile(t, content))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "url cannot be empty")
	})

	t.Run("error - non-http url", func(t *testing.T) {
		content := `
endpoints:
  - webhook_id: "broken"
    url: "ftp://example.com/hook"
`
		loader := endpoints.NewLoader()
		err := loader.Load(writeTempFile(t, content))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be http or https")
	})

	t.Run("error - invalid event type", func(t *testing.T) {
		content := `
endpoints:
  - webhook_id: "broken"
    url: "https://example.com/hook"
    event_types: ["not a type!"]
`
		loader := endpoints.NewLoader()
		err := loader.Load(writeTempFile(t, content))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid event_type")
	})
}

func TestLoader_ForEvent(t *testing.T) {
	content := `
endpoints:
  - webhook_id: "billing"
    url: "https://billing.example.com/hook"
    event_types: ["invoice.*"]
  - webhook_id: "firehose"
    url: "https://firehose.example.com/hook"
  - webhook_id: "disabled"
    url: "https://disabled.example.com/hook"
    active: false
`
	loader := endpoints.NewLoader()
	require.NoError(t, loader.Load(writeTempFile(t, content)))

	t.Run("matches filters and wildcards", func(t *testing.T) {
		matched := loader.ForEvent("invoice.paid")

		ids := make([]string, 0, len(matched))
		for _, ep := range matched {
			ids = append(ids, ep.WebhookID)
		}
		assert.ElementsMatch(t, []string{"billing", "firehose"}, ids)
	})

	t.Run("unmatched event goes to unfiltered endpoints only", func(t *testing.T) {
		matched := loader.ForEvent("user.created")

		require.Len(t, matched, 1)
		assert.Equal(t, "firehose", matched[0].WebhookID)
	})

	t.Run("inactive endpoints never match", func(t *testing.T) {
		for _, ep := range loader.ForEvent("invoice.paid") {
			assert.NotEqual(t, "disabled", ep.WebhookID)
		}
	})
}

func TestLoader_Exists(t *testing.T) {
	content := `
endpoints:
  - webhook_id: "known"
    url: "https://example.com/hook"
`
	loader := endpoints.NewLoader()
	require.NoError(t, loader.Load(writeTempFile(t, content)))

	assert.True(t, loader.Exists("known"))
	assert.False(t, loader.Exists("unknown"))
}
