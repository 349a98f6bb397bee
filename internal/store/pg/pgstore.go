// Package pg persists meetings in PostgreSQL. It mirrors the in-memory
// repository semantics: per-meeting row locks replace the per-meeting mutex,
// and expired meetings are invisible to every query.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"quorum.org/internal/identity"
	"quorum.org/internal/meeting"
)

type Store struct {
	db  *sql.DB
	ttl time.Duration
}

var _ meeting.Service = (*Store)(nil)

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if ttl <= 0 {
		ttl = meeting.DefaultTTL
	}
	return &Store{db: db, ttl: ttl}, nil
}

// NewWithDB wraps an existing connection pool (used by tests).
func NewWithDB(db *sql.DB, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = meeting.DefaultTTL
	}
	return &Store{db: db, ttl: ttl}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Create(ctx context.Context, name string, description *string, creatorName string) (meeting.Meeting, error) {
	if name == "" {
		return meeting.Meeting{}, fmt.Errorf("%w: name is empty", meeting.ErrValidation)
	}
	if description != nil && *description == "" {
		return meeting.Meeting{}, fmt.Errorf("%w: description is set to empty string", meeting.ErrValidation)
	}
	if creatorName == "" {
		return meeting.Meeting{}, fmt.Errorf("%w: creator name is empty", meeting.ErrValidation)
	}

	cred := identity.Issue()
	id := uuid.New()
	now := time.Now().UTC()
	expires := now.Add(s.ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return meeting.Meeting{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into meetings(id, name, description, created_by, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6)
	`, id, name, description, cred.ParticipantID, now, expires); err != nil {
		return meeting.Meeting{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into participants(id, meeting_id, name, secret_token)
		values ($1,$2,$3,$4)
	`, cred.ParticipantID, id, creatorName, cred.SecretToken); err != nil {
		return meeting.Meeting{}, err
	}
	if err := tx.Commit(); err != nil {
		return meeting.Meeting{}, err
	}

	return meeting.Meeting{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedBy:   cred.ParticipantID,
		CreatedAt:   now,
		ExpiresAt:   expires,
		Participants: []meeting.Participant{{
			ID:          cred.ParticipantID,
			Name:        creatorName,
			SecretToken: cred.SecretToken,
		}},
	}, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (meeting.Meeting, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return meeting.Meeting{}, err
	}
	defer func() { _ = tx.Rollback() }()

	m, err := loadMeeting(ctx, tx, id)
	if err != nil {
		return meeting.Meeting{}, err
	}
	if err := tx.Commit(); err != nil {
		return meeting.Meeting{}, err
	}
	return m, nil
}

func (s *Store) Join(ctx context.Context, meetingID uuid.UUID, name string) (meeting.Participant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return meeting.Participant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockMeeting(ctx, tx, meetingID); err != nil {
		return meeting.Participant{}, err
	}

	cred := identity.Issue()
	if _, err := tx.ExecContext(ctx, `
		insert into participants(id, meeting_id, name, secret_token)
		values ($1,$2,$3,$4)
	`, cred.ParticipantID, meetingID, name, cred.SecretToken); err != nil {
		return meeting.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return meeting.Participant{}, err
	}

	return meeting.Participant{
		ID:          cred.ParticipantID,
		Name:        name,
		SecretToken: cred.SecretToken,
	}, nil
}

func (s *Store) Authorize(ctx context.Context, meetingID uuid.UUID, cred identity.Credential) (meeting.Participant, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return meeting.Participant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := meetingExists(ctx, tx, meetingID); err != nil {
		return meeting.Participant{}, err
	}
	p, err := authorize(ctx, tx, meetingID, cred)
	if err != nil {
		return meeting.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return meeting.Participant{}, err
	}
	return p, nil
}

func (s *Store) AddComment(ctx context.Context, meetingID uuid.UUID, cred identity.Credential, message string) (meeting.Comment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return meeting.Comment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockMeeting(ctx, tx, meetingID); err != nil {
		return meeting.Comment{}, err
	}
	p, err := authorize(ctx, tx, meetingID, cred)
	if err != nil {
		return meeting.Comment{}, err
	}

	postedAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		insert into meeting_comments(meeting_id, written_by, message, posted_at)
		values ($1,$2,$3,$4)
	`, meetingID, p.ID, message, postedAt); err != nil {
		return meeting.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return meeting.Comment{}, err
	}

	return meeting.Comment{Message: message, WrittenBy: p.ID, PostedAt: postedAt}, nil
}

func (s *Store) AddProposedDate(ctx context.Context, meetingID uuid.UUID, cred identity.Credential, date meeting.Date) (meeting.ProposedDate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return meeting.ProposedDate{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockMeeting(ctx, tx, meetingID); err != nil {
		return meeting.ProposedDate{}, err
	}
	if _, err := authorize(ctx, tx, meetingID, cred); err != nil {
		return meeting.ProposedDate{}, err
	}

	// Proposing an already-listed date yields the existing entry.
	var id uuid.UUID
	err = tx.QueryRowContext(ctx, `
		insert into proposed_dates(id, meeting_id, date)
		values ($1,$2,$3)
		on conflict (meeting_id, date) do update set date = excluded.date
		returning id
	`, uuid.New(), meetingID, date.String()).Scan(&id)
	if err != nil {
		return meeting.ProposedDate{}, err
	}
	if err := tx.Commit(); err != nil {
		return meeting.ProposedDate{}, err
	}

	return meeting.ProposedDate{ID: id, Date: date}, nil
}

func (s *Store) AddVote(ctx context.Context, meetingID uuid.UUID, cred identity.Credential, dateID uuid.UUID, value meeting.VoteValue, comment *string) (meeting.Vote, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return meeting.Vote{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockMeeting(ctx, tx, meetingID); err != nil {
		return meeting.Vote{}, err
	}
	p, err := authorize(ctx, tx, meetingID, cred)
	if err != nil {
		return meeting.Vote{}, err
	}

	var dummy int
	err = tx.QueryRowContext(ctx, `
		select 1 from proposed_dates where id=$1 and meeting_id=$2
	`, dateID, meetingID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return meeting.Vote{}, meeting.ErrUnknownDate
	}
	if err != nil {
		return meeting.Vote{}, err
	}

	// (participant, date) is a natural key: re-voting replaces in place.
	if _, err := tx.ExecContext(ctx, `
		insert into votes(participant_id, date_id, vote, comment)
		values ($1,$2,$3,$4)
		on conflict (participant_id, date_id) do update
		set vote = excluded.vote, comment = excluded.comment
	`, p.ID, dateID, string(value), comment); err != nil {
		return meeting.Vote{}, err
	}
	if err := tx.Commit(); err != nil {
		return meeting.Vote{}, err
	}

	return meeting.Vote{ParticipantID: p.ID, DateID: dateID, Value: value, Comment: comment}, nil
}

func (s *Store) ListSummaries(ctx context.Context, limit, offset int) ([]meeting.Summary, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		select m.id, m.name, m.created_at, m.expires_at,
		       (select count(*) from participants p where p.meeting_id = m.id),
		       (select count(*) from meeting_comments c where c.meeting_id = m.id),
		       (select count(*) from proposed_dates d where d.meeting_id = m.id),
		       (select count(*) from votes v join proposed_dates d on d.id = v.date_id where d.meeting_id = m.id)
		from meetings m
		where m.expires_at > now()
		order by m.created_at asc, m.id asc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]meeting.Summary, 0, limit)
	for rows.Next() {
		var sm meeting.Summary
		if err := rows.Scan(&sm.ID, &sm.Name, &sm.CreatedAt, &sm.ExpiresAt,
			&sm.Participants, &sm.Comments, &sm.ProposedDates, &sm.Votes); err != nil {
			return nil, err
		}
		res = append(res, sm)
	}
	return res, rows.Err()
}

func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from meetings where expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// --- helpers ---

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// lockMeeting takes the meeting's row lock, which linearizes all mutations of
// one meeting the way the in-memory mutex does. Expired rows read as absent.
func lockMeeting(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	var dummy int
	err := tx.QueryRowContext(ctx, `
		select 1 from meetings where id=$1 and expires_at > now() for update
	`, id).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return meeting.ErrNotFound
	}
	return err
}

func meetingExists(ctx context.Context, q querier, id uuid.UUID) error {
	var dummy int
	err := q.QueryRowContext(ctx, `
		select 1 from meetings where id=$1 and expires_at > now()
	`, id).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return meeting.ErrNotFound
	}
	return err
}

// authorize resolves membership then credential, in that order, for a meeting
// already known to exist.
func authorize(ctx context.Context, q querier, meetingID uuid.UUID, cred identity.Credential) (meeting.Participant, error) {
	var p meeting.Participant
	err := q.QueryRowContext(ctx, `
		select id, name, secret_token from participants
		where meeting_id=$1 and id=$2
	`, meetingID, cred.ParticipantID).Scan(&p.ID, &p.Name, &p.SecretToken)
	if errors.Is(err, sql.ErrNoRows) {
		return meeting.Participant{}, meeting.ErrUnknownParticipant
	}
	if err != nil {
		return meeting.Participant{}, err
	}
	if !identity.Match(p.SecretToken, cred.SecretToken) {
		return meeting.Participant{}, meeting.ErrBadToken
	}
	return p, nil
}

func loadMeeting(ctx context.Context, q querier, id uuid.UUID) (meeting.Meeting, error) {
	var m meeting.Meeting
	err := q.QueryRowContext(ctx, `
		select id, name, description, created_by, created_at, expires_at
		from meetings where id=$1 and expires_at > now()
	`, id).Scan(&m.ID, &m.Name, &m.Description, &m.CreatedBy, &m.CreatedAt, &m.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return meeting.Meeting{}, meeting.ErrNotFound
	}
	if err != nil {
		return meeting.Meeting{}, err
	}

	m.Participants = []meeting.Participant{}
	rows, err := q.QueryContext(ctx, `
		select id, name, secret_token from participants
		where meeting_id=$1 order by seq asc
	`, id)
	if err != nil {
		return meeting.Meeting{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p meeting.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.SecretToken); err != nil {
			return meeting.Meeting{}, err
		}
		m.Participants = append(m.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return meeting.Meeting{}, err
	}

	m.Comments = []meeting.Comment{}
	rows, err = q.QueryContext(ctx, `
		select written_by, message, posted_at from meeting_comments
		where meeting_id=$1 order by seq asc
	`, id)
	if err != nil {
		return meeting.Meeting{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c meeting.Comment
		if err := rows.Scan(&c.WrittenBy, &c.Message, &c.PostedAt); err != nil {
			return meeting.Meeting{}, err
		}
		m.Comments = append(m.Comments, c)
	}
	if err := rows.Err(); err != nil {
		return meeting.Meeting{}, err
	}

	m.ProposedDates = []meeting.ProposedDate{}
	rows, err = q.QueryContext(ctx, `
		select id, date from proposed_dates
		where meeting_id=$1 order by seq asc
	`, id)
	if err != nil {
		return meeting.Meeting{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var d meeting.ProposedDate
		var day time.Time
		if err := rows.Scan(&d.ID, &day); err != nil {
			return meeting.Meeting{}, err
		}
		d.Date = meeting.DateOf(day.Year(), day.Month(), day.Day())
		m.ProposedDates = append(m.ProposedDates, d)
	}
	if err := rows.Err(); err != nil {
		return meeting.Meeting{}, err
	}

	m.Votes = []meeting.Vote{}
	rows, err = q.QueryContext(ctx, `
		select v.participant_id, v.date_id, v.vote, v.comment
		from votes v join proposed_dates d on d.id = v.date_id
		where d.meeting_id=$1 order by v.seq asc
	`, id)
	if err != nil {
		return meeting.Meeting{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var v meeting.Vote
		var value string
		if err := rows.Scan(&v.ParticipantID, &v.DateID, &value, &v.Comment); err != nil {
			return meeting.Meeting{}, err
		}
		v.Value = meeting.VoteValue(value)
		m.Votes = append(m.Votes, v)
	}
	return m, rows.Err()
}
