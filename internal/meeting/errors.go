package meeting

import "errors"

// Sentinel errors returned by Service implementations. The authorization
// resolution order is existence (ErrNotFound), then membership
// (ErrUnknownParticipant), then credential (ErrBadToken); HTTP maps them to
// 404, 401 and 403 respectively.
var (
	ErrNotFound           = errors.New("meeting: not found")
	ErrValidation         = errors.New("meeting: invalid input")
	ErrUnknownParticipant = errors.New("meeting: unknown participant")
	ErrBadToken           = errors.New("meeting: invalid secret token")
	ErrUnknownDate        = errors.New("meeting: unknown proposed date")
)
