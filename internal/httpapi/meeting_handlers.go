package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"quorum.org/internal/audit"
	"quorum.org/internal/identity"
	"quorum.org/internal/meeting"
	"quorum.org/internal/stream"
)

// Request shapes follow the wire contract exactly; unknown fields are
// rejected by the strict decoder.

type createMeetingRequest struct {
	MeetingName        string  `json:"meeting_name"`
	MeetingDescription *string `json:"meeting_description"`
	UserName           string  `json:"user_name"`
}

type createMeetingResponse struct {
	UserID          uuid.UUID `json:"user_id"`
	UserSecretToken uuid.UUID `json:"user_secret_token"`
	MeetingID       uuid.UUID `json:"meeting_id"`
}

type joinMeetingRequest struct {
	Name string `json:"name"`
}

type joinMeetingResponse struct {
	ID          uuid.UUID `json:"id"`
	SecretToken uuid.UUID `json:"secret_token"`
}

type commentRequest struct {
	UserID          uuid.UUID `json:"user_id"`
	UserSecretToken uuid.UUID `json:"user_secret_token"`
	Message         string    `json:"message"`
}

type proposeDateRequest struct {
	UserID          uuid.UUID    `json:"user_id"`
	UserSecretToken uuid.UUID    `json:"user_secret_token"`
	Date            meeting.Date `json:"date"`
}

type proposeDateResponse struct {
	ID uuid.UUID `json:"id"`
}

type voteRequest struct {
	UserID          uuid.UUID `json:"user_id"`
	UserSecretToken uuid.UUID `json:"user_secret_token"`
	DateID          uuid.UUID `json:"date_id"`
	Vote            string    `json:"vote"`
	Comment         *string   `json:"comment"`
}

// Response views structurally omit secret tokens: there is no field to leak.

type commentView struct {
	Message   string    `json:"message"`
	WrittenBy uuid.UUID `json:"written_by"`
	PostedAt  time.Time `json:"posted_at"`
}

type participantView struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type proposedDateView struct {
	ID   uuid.UUID    `json:"id"`
	Date meeting.Date `json:"date"`
}

type voteView struct {
	ParticipantID uuid.UUID         `json:"participant_id"`
	DateID        uuid.UUID         `json:"date_id"`
	Vote          meeting.VoteValue `json:"vote"`
	Comment       *string           `json:"comment"`
}

type meetingView struct {
	Name          string             `json:"name"`
	Description   *string            `json:"description"`
	CreatedBy     uuid.UUID          `json:"created_by"`
	CreatedAt     time.Time          `json:"created_at"`
	Comments      []commentView      `json:"comments"`
	Participants  []participantView  `json:"participants"`
	ProposedDates []proposedDateView `json:"proposed_dates"`
	Votes         []voteView         `json:"votes"`
}

func viewOf(m meeting.Meeting) meetingView {
	v := meetingView{
		Name:          m.Name,
		Description:   m.Description,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt,
		Comments:      make([]commentView, 0, len(m.Comments)),
		Participants:  make([]participantView, 0, len(m.Participants)),
		ProposedDates: make([]proposedDateView, 0, len(m.ProposedDates)),
		Votes:         make([]voteView, 0, len(m.Votes)),
	}
	for _, c := range m.Comments {
		v.Comments = append(v.Comments, commentView{Message: c.Message, WrittenBy: c.WrittenBy, PostedAt: c.PostedAt})
	}
	for _, p := range m.Participants {
		v.Participants = append(v.Participants, participantView{ID: p.ID, Name: p.Name})
	}
	for _, d := range m.ProposedDates {
		v.ProposedDates = append(v.ProposedDates, proposedDateView{ID: d.ID, Date: d.Date})
	}
	for _, vote := range m.Votes {
		v.Votes = append(v.Votes, voteView{ParticipantID: vote.ParticipantID, DateID: vote.DateID, Vote: vote.Value, Comment: vote.Comment})
	}
	return v
}

func (a *API) handleMeetingCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createMeeting(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleMeetingResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/meeting/")
	if path == "" || strings.Contains(strings.Trim(path, "/"), "//") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, action, _ := strings.Cut(strings.TrimSuffix(path, "/"), "/")
	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getMeeting(w, r, id)
	case "join":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.joinMeeting(w, r, id)
	case "comment":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.postComment(w, r, id)
	case "date":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.proposeDate(w, r, id)
	case "vote":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.castVote(w, r, id)
	case "events":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.meetingEvents(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createMeeting(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req createMeetingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	m, err := a.svc.Create(r.Context(), req.MeetingName, req.MeetingDescription, req.UserName)
	if err != nil {
		a.handleMeetingError(w, r, err)
		return
	}
	creator := m.Participants[0]

	a.auditEvent(r.Context(), "meeting.create", creator.ID.String(), map[string]any{
		"meeting_id": m.ID.String(),
	})

	w.Header().Set("Location", "/meeting/"+m.ID.String())
	writeJSON(w, http.StatusCreated, createMeetingResponse{
		UserID:          creator.ID,
		UserSecretToken: creator.SecretToken,
		MeetingID:       m.ID,
	})
}

func (a *API) getMeeting(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "meeting not found")
		return
	}
	m, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.handleMeetingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(m))
}

func (a *API) joinMeeting(w http.ResponseWriter, r *http.Request, rawID string) {
	if !requireJSON(w, r) {
		return
	}
	// Joining a nonexistent meeting is a client error, not a read miss.
	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown meeting id")
		return
	}
	var req joinMeetingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.svc.Join(r.Context(), id, req.Name)
	if err != nil {
		if errors.Is(err, meeting.ErrNotFound) {
			writeError(w, r, http.StatusBadRequest, "unknown meeting id")
			return
		}
		a.handleMeetingError(w, r, err)
		return
	}

	a.auditEvent(r.Context(), "meeting.join", p.ID.String(), map[string]any{
		"meeting_id": id.String(),
	})
	a.publish(stream.Event{Kind: stream.KindJoined, MeetingID: id, ParticipantID: p.ID})

	writeJSON(w, http.StatusCreated, joinMeetingResponse{
		ID:          p.ID,
		SecretToken: p.SecretToken,
	})
}

func (a *API) postComment(w http.ResponseWriter, r *http.Request, rawID string) {
	if !requireJSON(w, r) {
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "meeting not found")
		return
	}
	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, r, http.StatusBadRequest, "message is required")
		return
	}

	cred := identity.Credential{ParticipantID: req.UserID, SecretToken: req.UserSecretToken}
	c, err := a.svc.AddComment(r.Context(), id, cred, req.Message)
	if err != nil {
		a.handleMeetingError(w, r, err)
		return
	}

	a.auditEvent(r.Context(), "meeting.comment", c.WrittenBy.String(), map[string]any{
		"meeting_id": id.String(),
	})
	a.publish(stream.Event{Kind: stream.KindCommented, MeetingID: id, ParticipantID: c.WrittenBy})

	w.WriteHeader(http.StatusCreated)
}

func (a *API) proposeDate(w http.ResponseWriter, r *http.Request, rawID string) {
	if !requireJSON(w, r) {
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "meeting not found")
		return
	}
	var req proposeDateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cred := identity.Credential{ParticipantID: req.UserID, SecretToken: req.UserSecretToken}
	d, err := a.svc.AddProposedDate(r.Context(), id, cred, req.Date)
	if err != nil {
		a.handleMeetingError(w, r, err)
		return
	}

	a.auditEvent(r.Context(), "meeting.date.propose", req.UserID.String(), map[string]any{
		"meeting_id": id.String(),
		"date":       d.Date.String(),
	})
	a.publish(stream.Event{Kind: stream.KindDateProposed, MeetingID: id, ParticipantID: req.UserID})

	writeJSON(w, http.StatusCreated, proposeDateResponse{ID: d.ID})
}

func (a *API) castVote(w http.ResponseWriter, r *http.Request, rawID string) {
	if !requireJSON(w, r) {
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "meeting not found")
		return
	}
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	value, err := meeting.ParseVoteValue(req.Vote)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "vote must be one of no, maybe, yes")
		return
	}

	cred := identity.Credential{ParticipantID: req.UserID, SecretToken: req.UserSecretToken}
	v, err := a.svc.AddVote(r.Context(), id, cred, req.DateID, value, req.Comment)
	if err != nil {
		a.handleMeetingError(w, r, err)
		return
	}

	a.auditEvent(r.Context(), "meeting.vote.cast", v.ParticipantID.String(), map[string]any{
		"meeting_id": id.String(),
		"date_id":    v.DateID.String(),
		"vote":       string(v.Value),
	})
	a.publish(stream.Event{Kind: stream.KindVoted, MeetingID: id, ParticipantID: v.ParticipantID})

	w.WriteHeader(http.StatusCreated)
}

// handleMeetingError maps the domain taxonomy onto status codes. The
// 404/401/403 precedence mirrors the guard's resolution order.
func (a *API) handleMeetingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, meeting.ErrValidation), errors.Is(err, meeting.ErrUnknownDate):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, meeting.ErrUnknownParticipant):
		writeError(w, r, http.StatusUnauthorized, "unknown participant")
	case errors.Is(err, meeting.ErrBadToken):
		writeError(w, r, http.StatusForbidden, "invalid secret token")
	case errors.Is(err, meeting.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "meeting not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) auditEvent(ctx context.Context, event, actor string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, actor, fields)
}

func (a *API) publish(evt stream.Event) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(evt)
}
