package payload_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-outbox/delivery/payload"
)

func TestNew(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		env, err := payload.New("user.created", now, map[string]interface{}{"id": 123})

		require.NoError(t, err)
		assert.Equal(t, "user.created", env.EventType)
		assert.Equal(t, now, env.Timestamp)
		assert.JSONEq(t, `{"id":123}`, string(env.Data))
	})

	t.Run("invalid event type", func(t *testing.T) {
		_, err := payload.New("user created!", now, map[string]interface{}{})
		require.Error(t, err)
	})

	t.Run("unmarshalable data", func(t *testing.T) {
		_, err := payload.New("user.created", now, make(chan int))
		require.Error(t, err)
	})
}

func TestEnvelope_Bytes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("serializes with snake_case keys", func(t *testing.T) {
		env, err := payload.New("order.shipped", now, map[string]interface{}{"order_id": 42})
		require.NoError(t, err)

		body, err := env.Bytes()
		require.NoError(t, err)

		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Contains(t, decoded, "event_type")
		assert.Contains(t, decoded, "timestamp")
		assert.Contains(t, decoded, "data")
	})

	t.Run("serialization is stable", func(t *testing.T) {
		env, err := payload.New("order.shipped", now, map[string]interface{}{"order_id": 42})
		require.NoError(t, err)

		first, err := env.Bytes()
		require.NoError(t, err)
		second, err := env.Bytes()
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("round trips through Parse", func(t *testing.T) {
		env, err := payload.New("user.created", now, map[string]interface{}{"id": 1})
		require.NoError(t, err)

		body, err := env.Bytes()
		require.NoError(t, err)

		parsed, err := payload.Parse(body)
		require.NoError(t, err)
		assert.Equal(t, env.EventType, parsed.EventType)
		assert.True(t, env.Timestamp.Equal(parsed.Timestamp))
		assert.JSONEq(t, string(env.Data), string(parsed.Data))
	})
}

func TestEnvelope_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		env     payload.Envelope
		wantErr string
	}{
		{
			name:    "missing event type",
			env:     payload.Envelope{Timestamp: now, Data: json.RawMessage(`{}`)},
			wantErr: "event_type is required",
		},
		{
			name:    "invalid event type",
			env:     payload.Envelope{EventType: "user created", Timestamp: now, Data: json.RawMessage(`{}`)},
			wantErr: "must be hierarchical",
		},
		{
			name:    "missing timestamp",
			env:     payload.Envelope{EventType: "user.created", Data: json.RawMessage(`{}`)},
			wantErr: "timestamp is required",
		},
		{
			name:    "missing data",
			env:     payload.Envelope{EventType: "user.created", Timestamp: now},
			wantErr: "data is required",
		},
		{
			name:    "invalid JSON data",
			env:     payload.Envelope{EventType: "user.created", Timestamp: now, Data: json.RawMessage(`{bad`)},
			wantErr: "data must be valid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("valid envelope", func(t *testing.T) {
		env := payload.Envelope{EventType: "user.created", Timestamp: now, Data: json.RawMessage(`{"a":1}`)}
		require.NoError(t, env.Validate())
	})
}

func TestMatches(t *testing.T) {
	t.Run("empty filter accepts all", func(t *testing.T) {
		assert.True(t, payload.Matches("user.created", nil))
		assert.True(t, payload.Matches("anything.else", []string{}))
	})

	t.Run("exact match", func(t *testing.T) {
		assert.True(t, payload.Matches("user.created", []string{"user.created"}))
		assert.False(t, payload.Matches("user.deleted", []string{"user.created"}))
	})

	t.Run("wildcard prefix match", func(t *testing.T) {
		assert.True(t, payload.Matches("user.created", []string{"user.*"}))
		assert.True(t, payload.Matches("user.profile.updated", []string{"user.*"}))
		assert.False(t, payload.Matches("invoice.paid", []string{"user.*"}))
		assert.False(t, payload.Matches("user", []string{"user.*"}))
	})

	t.Run("multiple filters", func(t *testing.T) {
		filters := []string{"invoice.paid", "user.*"}
		assert.True(t, payload.Matches("invoice.paid", filters))
		assert.True(t, payload.Matches("user.created", filters))
		assert.False(t, payload.Matches("order.shipped", filters))
	})
}

func TestValidateEventType(t *testing.T) {
	require.NoError(t, payload.ValidateEventType("user.created"))
	require.NoError(t, payload.ValidateEventType("user"))
	require.NoError(t, payload.ValidateEventType("user.*"))
	require.NoError(t, payload.ValidateEventType("a_b.c_d.e1"))

	require.Error(t, payload.ValidateEventType(""))
	require.Error(t, payload.ValidateEventType("user created"))
	require.Error(t, payload.ValidateEventType(".user"))
	require.Error(t, payload.ValidateEventType("user."))
}
