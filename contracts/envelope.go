package contracts

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire shape of every notification message. The queue and
// exchange layers treat it as opaque bytes; only the dispatcher and the
// delivery strategies interpret it.
type Envelope struct {
	ID       string                 `json:"id,omitempty"`
	Action   string                 `json:"action,omitempty"`
	Body     map[string]interface{} `json:"body"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ParseEnvelope decodes a message body. Bytes that are not valid JSON, or
// that decode to anything but an object, are a permanent failure;
// redelivery cannot fix them. The id, action, and metadata keys are lifted
// into their fields; everything else, including any nested "body" object,
// stays in Body. Publishers send bare payload maps, so Body is the whole
// payload rather than one reserved key.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedEnvelope)
	}

	env := &Envelope{Body: raw}
	if id, ok := raw["id"].(string); ok {
		env.ID = id
		delete(raw, "id")
	}
	if action, ok := raw["action"].(string); ok {
		env.Action = action
		delete(raw, "action")
	}
	if metadata, ok := raw["metadata"].(map[string]interface{}); ok {
		env.Metadata = metadata
		delete(raw, "metadata")
	}

	return env, nil
}

// StringField returns m[key] when it holds a non-empty string.
func StringField(m map[string]interface{}, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// MapField returns m[key] when it holds an object.
func MapField(m map[string]interface{}, key string) (map[string]interface{}, bool) {
	if m == nil {
		return nil, false
	}
	inner, ok := m[key].(map[string]interface{})
	return inner, ok
}
