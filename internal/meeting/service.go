package meeting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quorum.org/internal/identity"
)

// DefaultTTL is how long a meeting stays readable after creation.
const DefaultTTL = 14 * 24 * time.Hour

// Service defines meeting-coordination operations. Every mutating operation
// on one meeting is linearized with the others; operations on different
// meetings do not contend. Authorization happens inside the mutation, before
// any state change.
type Service interface {
	Create(ctx context.Context, name string, description *string, creatorName string) (Meeting, error)
	Get(ctx context.Context, id uuid.UUID) (Meeting, error)
	Join(ctx context.Context, meetingID uuid.UUID, name string) (Participant, error)
	Authorize(ctx context.Context, meetingID uuid.UUID, cred identity.Credential) (Participant, error)
	AddComment(ctx context.Context, meetingID uuid.UUID, cred identity.Credential, message string) (Comment, error)
	AddProposedDate(ctx context.Context, meetingID uuid.UUID, cred identity.Credential, date Date) (ProposedDate, error)
	AddVote(ctx context.Context, meetingID uuid.UUID, cred identity.Credential, dateID uuid.UUID, value VoteValue, comment *string) (Vote, error)
	ListSummaries(ctx context.Context, limit, offset int) ([]Summary, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// InMemory implements Service with one mutex per meeting. The map-level
// RWMutex only guards lookup and insertion, so unrelated meetings proceed
// fully in parallel.
type InMemory struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	meetings map[uuid.UUID]*meetingState
}

type meetingState struct {
	mu sync.Mutex
	m  Meeting
}

// Option configures InMemory.
type Option func(*InMemory)

// WithTTL overrides the meeting lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *InMemory) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewInMemory creates an empty repository.
func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{
		ttl:      DefaultTTL,
		now:      time.Now,
		meetings: make(map[uuid.UUID]*meetingState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrValidation)
	}
	return nil
}

func validateDescription(description *string) error {
	if description != nil && *description == "" {
		return fmt.Errorf("%w: description is set to empty string", ErrValidation)
	}
	return nil
}

func (s *InMemory) Create(ctx context.Context, name string, description *string, creatorName string) (Meeting, error) {
	if err := validateName(name); err != nil {
		return Meeting{}, err
	}
	if err := validateDescription(description); err != nil {
		return Meeting{}, err
	}
	if err := validateName(creatorName); err != nil {
		return Meeting{}, fmt.Errorf("%w: creator name is empty", ErrValidation)
	}

	cred := identity.Issue()
	now := s.now().UTC()
	m := Meeting{
		ID:          uuid.New(),
		Name:        name,
		Description: cloneString(description),
		CreatedBy:   cred.ParticipantID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		Participants: []Participant{{
			ID:          cred.ParticipantID,
			Name:        creatorName,
			SecretToken: cred.SecretToken,
		}},
	}

	s.mu.Lock()
	s.meetings[m.ID] = &meetingState{m: m}
	s.mu.Unlock()

	return snapshot(m), nil
}

func (s *InMemory) Get(ctx context.Context, id uuid.UUID) (Meeting, error) {
	st, err := s.lookup(id)
	if err != nil {
		return Meeting{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if s.expired(st.m) {
		return Meeting{}, ErrNotFound
	}
	return snapshot(st.m), nil
}

func (s *InMemory) Join(ctx context.Context, meetingID uuid.UUID, name string) (Participant, error) {
	st, err := s.lookup(meetingID)
	if err != nil {
		return Participant{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s.expired(st.m) {
		return Participant{}, ErrNotFound
	}
	cred := identity.Issue()
	p := Participant{
		ID:          cred.ParticipantID,
		Name:        name,
		SecretToken: cred.SecretToken,
	}
	st.m.Participants = append(st.m.Participants, p)
	return p, nil
}

func (s *InMemory) Authorize(ctx context.Context, meetingID uuid.UUID, cred identity.Credential) (Participant, error) {
	st, err := s.lookup(meetingID)
	if err != nil {
		return Participant{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if s.expired(st.m) {
		return Participant{}, ErrNotFound
	}
	return authorize(st.m, cred)
}

func (s *InMemory) AddComment(ctx context.Context, meetingID uuid.UUID, cred identity.Credential, message string) (Comment, error) {
	st, err := s.lookup(meetingID)
	if err != nil {
		return Comment{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s.expired(st.m) {
		return Comment{}, ErrNotFound
	}
	p, err := authorize(st.m, cred)
	if err != nil {
		return Comment{}, err
	}
	c := Comment{
		Message:   message,
		WrittenBy: p.ID,
		PostedAt:  s.now().UTC(),
	}
	st.m.Comments = append(st.m.Comments, c)
	return c, nil
}

func (s *InMemory) AddProposedDate(ctx context.Context, meetingID uuid.UUID, cred identity.Credential, date Date) (ProposedDate, error) {
	st, err := s.lookup(meetingID)
	if err != nil {
		return ProposedDate{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s.expired(st.m) {
		return ProposedDate{}, ErrNotFound
	}
	if _, err := authorize(st.m, cred); err != nil {
		return ProposedDate{}, err
	}
	// Proposing an already-listed date yields the existing entry.
	for _, d := range st.m.ProposedDates {
		if d.Date.Equal(date) {
			return d, nil
		}
	}
	d := ProposedDate{ID: uuid.New(), Date: date}
	st.m.ProposedDates = append(st.m.ProposedDates, d)
	return d, nil
}

func (s *InMemory) AddVote(ctx context.Context, meetingID uuid.UUID, cred identity.Credential, dateID uuid.UUID, value VoteValue, comment *string) (Vote, error) {
	st, err := s.lookup(meetingID)
	if err != nil {
		return Vote{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s.expired(st.m) {
		return Vote{}, ErrNotFound
	}
	p, err := authorize(st.m, cred)
	if err != nil {
		return Vote{}, err
	}
	known := false
	for _, d := range st.m.ProposedDates {
		if d.ID == dateID {
			known = true
			break
		}
	}
	if !known {
		return Vote{}, ErrUnknownDate
	}

	v := Vote{
		ParticipantID: p.ID,
		DateID:        dateID,
		Value:         value,
		Comment:       cloneString(comment),
	}
	// (participant, date) is a natural key: re-voting replaces in place.
	for i, existing := range st.m.Votes {
		if existing.ParticipantID == p.ID && existing.DateID == dateID {
			st.m.Votes[i] = v
			return v, nil
		}
	}
	st.m.Votes = append(st.m.Votes, v)
	return v, nil
}

func (s *InMemory) ListSummaries(ctx context.Context, limit, offset int) ([]Summary, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	states := make([]*meetingState, 0, len(s.meetings))
	for _, st := range s.meetings {
		states = append(states, st)
	}
	s.mu.RUnlock()

	all := make([]Summary, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if !s.expired(st.m) {
			all = append(all, Summary{
				ID:            st.m.ID,
				Name:          st.m.Name,
				CreatedAt:     st.m.CreatedAt,
				ExpiresAt:     st.m.ExpiresAt,
				Participants:  len(st.m.Participants),
				Comments:      len(st.m.Comments),
				ProposedDates: len(st.m.ProposedDates),
				Votes:         len(st.m.Votes),
			})
		}
		st.mu.Unlock()
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return strings.Compare(all[i].ID.String(), all[j].ID.String()) < 0
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []Summary{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *InMemory) PurgeExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, st := range s.meetings {
		st.mu.Lock()
		gone := s.expired(st.m)
		st.mu.Unlock()
		if gone {
			delete(s.meetings, id)
			purged++
		}
	}
	return purged, nil
}

func (s *InMemory) lookup(id uuid.UUID) (*meetingState, error) {
	s.mu.RLock()
	st, ok := s.meetings[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

func (s *InMemory) expired(m Meeting) bool {
	return !s.now().UTC().Before(m.ExpiresAt)
}

// authorize resolves membership then credential for a meeting already known
// to exist. Callers hold the meeting lock.
func authorize(m Meeting, cred identity.Credential) (Participant, error) {
	for _, p := range m.Participants {
		if p.ID == cred.ParticipantID {
			if !identity.Match(p.SecretToken, cred.SecretToken) {
				return Participant{}, ErrBadToken
			}
			return p, nil
		}
	}
	return Participant{}, ErrUnknownParticipant
}

// snapshot deep-copies a meeting so callers never alias repository state.
func snapshot(m Meeting) Meeting {
	out := m
	out.Description = cloneString(m.Description)
	out.Comments = append([]Comment(nil), m.Comments...)
	out.Participants = append([]Participant(nil), m.Participants...)
	out.ProposedDates = append([]ProposedDate(nil), m.ProposedDates...)
	out.Votes = make([]Vote, len(m.Votes))
	for i, v := range m.Votes {
		v.Comment = cloneString(v.Comment)
		out.Votes[i] = v
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
