package reliability

import (
	"sync"
	"time"
)

// ParkedMessage is a dead-lettered message that exhausted its retry budget.
type ParkedMessage struct {
	MessageID  string
	RoutingKey string
	Body       []byte
	Deaths     int64
	ParkedAt   time.Time
}

// ParkedMessageStore keeps exhausted messages in memory for inspection.
// It is bounded; the oldest entry is evicted when full.
type ParkedMessageStore struct {
	mu       sync.RWMutex
	messages []ParkedMessage
	capacity int
}

// NewParkedMessageStore creates a store holding at most capacity messages.
func NewParkedMessageStore(capacity int) *ParkedMessageStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &ParkedMessageStore{capacity: capacity}
}

// Park records a message, evicting the oldest when at capacity.
func (s *ParkedMessageStore) Park(msg ParkedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) >= s.capacity {
		s.messages = s.messages[1:]
	}
	s.messages = append(s.messages, msg)
}

// List returns a snapshot of parked messages, oldest first.
func (s *ParkedMessageStore) List() []ParkedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ParkedMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Take removes and returns a parked message by ID, for manual replay.
func (s *ParkedMessageStore) Take(messageID string) (ParkedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, msg := range s.messages {
		if msg.MessageID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return msg, nil
		}
	}
	return ParkedMessage{}, ErrParkedMessageNotFound
}

// Len returns the number of parked messages.
func (s *ParkedMessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
