package gobtcmini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const maxEventTypeLength = 64

// Event is one analytics event reported by the UI.
type Event struct {
	ID        int64           `json:"id"`
	Type      string          `json:"event_type"`
	UserID    string          `json:"user_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"ts"`
}

// EventCount is the number of events recorded for one type.
type EventCount struct {
	Type  string `json:"event_type"`
	Count int64  `json:"n"`
}

// EventStore records analytics events and aggregates them.
type EventStore interface {
	Record(ctx context.Context, event Event) (int64, error)
	CountsByType(ctx context.Context) ([]EventCount, error)
}

// normalizeEvent trims the event and defaults a missing payload to an empty
// object. The payload must be a JSON object.
func normalizeEvent(event Event) (Event, error) {
	event.Type = strings.TrimSpace(event.Type)
	event.UserID = strings.TrimSpace(event.UserID)
	if event.Type == "" {
		return Event{}, fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	}
	if len(event.Type) > maxEventTypeLength {
		return Event{}, fmt.Errorf("%w: event_type longer than %d characters", ErrInvalidEvent, maxEventTypeLength)
	}

	payload := bytes.TrimSpace(event.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = []byte("{}")
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(payload, &object); err != nil {
		return Event{}, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidEvent)
	}
	event.Payload = append(json.RawMessage(nil), payload...)
	return event, nil
}

// sortEventCounts orders by count descending, then type.
func sortEventCounts(counts []EventCount) {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Type < counts[j].Type
	})
}

// MemoryEventStore keeps analytics events in process memory.
type MemoryEventStore struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) Record(_ context.Context, event Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = int64(len(s.events)) + 1
	s.events = append(s.events, event)
	return event.ID, nil
}

func (s *MemoryEventStore) CountsByType(_ context.Context) ([]EventCount, error) {
	s.mu.Lock()
	byType := make(map[string]int64)
	for _, event := range s.events {
		byType[event.Type]++
	}
	s.mu.Unlock()

	counts := make([]EventCount, 0, len(byType))
	for eventType, n := range byType {
		counts = append(counts, EventCount{Type: eventType, Count: n})
	}
	sortEventCounts(counts)
	return counts, nil
}
