package meeting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VoteValue is a participant's stance on a proposed date.
type VoteValue string

const (
	VoteNo    VoteValue = "no"
	VoteMaybe VoteValue = "maybe"
	VoteYes   VoteValue = "yes"
)

// ParseVoteValue validates the wire representation of a vote.
func ParseVoteValue(s string) (VoteValue, error) {
	switch VoteValue(s) {
	case VoteNo, VoteMaybe, VoteYes:
		return VoteValue(s), nil
	default:
		return "", fmt.Errorf("%w: vote must be one of no, maybe, yes", ErrValidation)
	}
}

// Date is a calendar date without a time component.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date must be formatted YYYY-MM-DD", ErrValidation)
	}
	return Date{t: t}, nil
}

// DateOf builds a Date from components.
func DateOf(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string { return d.t.Format(dateLayout) }

// Equal reports calendar equality.
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Participant is a member of exactly one meeting. SecretToken is a
// capability known only to the bearer; serialized views must omit it.
type Participant struct {
	ID          uuid.UUID
	Name        string
	SecretToken uuid.UUID
}

// Comment is an immutable message posted by a participant.
type Comment struct {
	Message   string
	WrittenBy uuid.UUID
	PostedAt  time.Time
}

// ProposedDate is a candidate date participants vote on.
type ProposedDate struct {
	ID   uuid.UUID
	Date Date
}

// Vote records a participant's stance on one proposed date. At most one
// vote exists per (participant, date) pair; re-voting replaces it.
type Vote struct {
	ParticipantID uuid.UUID
	DateID        uuid.UUID
	Value         VoteValue
	Comment       *string
}

// Meeting is the aggregate root. All collections are insertion ordered and
// the creator is always the first participant.
type Meeting struct {
	ID            uuid.UUID
	Name          string
	Description   *string
	CreatedBy     uuid.UUID
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Comments      []Comment
	Participants  []Participant
	ProposedDates []ProposedDate
	Votes         []Vote
}

// Summary is the operator-facing view of a meeting.
type Summary struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Participants  int       `json:"participants"`
	Comments      int       `json:"comments"`
	ProposedDates int       `json:"proposed_dates"`
	Votes         int       `json:"votes"`
}
