// Package stream fan-outs meeting activity events to SSE subscribers.
// Events carry only public facts: no secret tokens, no message bodies.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds published on meeting mutations.
const (
	KindJoined       = "joined"
	KindCommented    = "commented"
	KindDateProposed = "date_proposed"
	KindVoted        = "voted"
)

// Event describes one observable change to a meeting.
type Event struct {
	Kind          string    `json:"kind"`
	MeetingID     uuid.UUID `json:"meeting_id"`
	ParticipantID uuid.UUID `json:"participant_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type subscriber struct {
	meetingID uuid.UUID
	ch        chan Event
}

// Stream delivers events to all subscribers of the event's meeting.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for one meeting and returns a channel
// which will receive its events. The channel is closed when the provided
// context ends.
func (s *Stream) Subscribe(ctx context.Context, meetingID uuid.UUID) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{meetingID: meetingID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to subscribers of its meeting.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.meetingID != evt.MeetingID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking mutations.
		}
	}
}
