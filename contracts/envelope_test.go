package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	t.Run("lifts the envelope fields out of the payload", func(t *testing.T) {
		data := []byte(`{"id":"m1","action":"created","body":{"title":"Practice"},"metadata":{"publishedAt":"2026-09-01T10:00:00Z"}}`)

		env, err := ParseEnvelope(data)
		require.NoError(t, err)
		assert.Equal(t, "m1", env.ID)
		assert.Equal(t, "created", env.Action)
		assert.Equal(t, "2026-09-01T10:00:00Z", env.Metadata["publishedAt"])

		inner, ok := MapField(env.Body, "body")
		require.True(t, ok)
		assert.Equal(t, "Practice", inner["title"])
		assert.NotContains(t, env.Body, "id")
		assert.NotContains(t, env.Body, "metadata")
	})

	t.Run("keeps sibling keys next to a nested body", func(t *testing.T) {
		data := []byte(`{"body":{"title":"Practice"},"description":"desc"}`)

		env, err := ParseEnvelope(data)
		require.NoError(t, err)
		assert.Equal(t, "desc", env.Body["description"])
		inner, ok := MapField(env.Body, "body")
		require.True(t, ok)
		assert.Equal(t, "Practice", inner["title"])

		data = []byte(`{"notification":{"title":"T"}}`)
		env, err = ParseEnvelope(data)
		require.NoError(t, err)
		_, ok = env.Body["notification"]
		assert.True(t, ok)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		_, err := ParseEnvelope([]byte("not json at all"))
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("rejects non-object payloads", func(t *testing.T) {
		_, err := ParseEnvelope([]byte(`"just a string"`))
		assert.ErrorIs(t, err, ErrMalformedEnvelope)

		_, err = ParseEnvelope([]byte(`[1,2,3]`))
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})
}

func TestEnvelopeMarshalShape(t *testing.T) {
	env := Envelope{
		ID:     "m1",
		Action: "created",
		Body:   map[string]interface{}{"title": "Practice"},
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "m1", raw["id"])
	assert.Equal(t, "created", raw["action"])
	assert.Contains(t, raw, "body")
	assert.NotContains(t, raw, "metadata")
}

func TestFieldHelpers(t *testing.T) {
	m := map[string]interface{}{
		"title": "T",
		"body":  map[string]interface{}{"inner": true},
		"empty": "",
		"num":   3.0,
	}

	s, ok := StringField(m, "title")
	assert.True(t, ok)
	assert.Equal(t, "T", s)

	_, ok = StringField(m, "empty")
	assert.False(t, ok)
	_, ok = StringField(m, "num")
	assert.False(t, ok)
	_, ok = StringField(nil, "title")
	assert.False(t, ok)

	inner, ok := MapField(m, "body")
	assert.True(t, ok)
	assert.Equal(t, true, inner["inner"])

	_, ok = MapField(m, "title")
	assert.False(t, ok)
}

func TestFailedTickets(t *testing.T) {
	tickets := []DeliveryTicket{
		{Token: "a", Status: DeliverySuccess},
		{Token: "b", Status: DeliveryFailed, Detail: "device not registered"},
		{Token: "c", Status: DeliverySuccess},
	}

	failed := FailedTickets(tickets)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].Token)
	assert.True(t, failed[0].Failed())
}
