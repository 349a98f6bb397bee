// Package identity issues and validates per-participant capability
// credentials. A credential pairs a public participant id with a secret
// token; the token proves control of the identity and is shared only
// between the bearer and the server.
package identity

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// Credential is an issued (participant id, secret token) pair. Both values
// are version 4 UUIDs drawn from crypto/rand, so neither is guessable.
type Credential struct {
	ParticipantID uuid.UUID
	SecretToken   uuid.UUID
}

// Issue mints a fresh credential.
func Issue() Credential {
	return Credential{
		ParticipantID: uuid.New(),
		SecretToken:   uuid.New(),
	}
}

// Match reports whether a presented token equals the issued one. The
// comparison is constant time; the token is a capability, not an identifier,
// and must not leak through timing.
func Match(issued, presented uuid.UUID) bool {
	return subtle.ConstantTimeCompare(issued[:], presented[:]) == 1
}
