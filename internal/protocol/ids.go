package protocol

import "github.com/google/uuid"

// NewID mints a random identifier for a session, declaration or request.
func NewID() uuid.UUID {
	return uuid.New()
}

// ParseID parses the canonical text form of an identifier.
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, Malformed("uuid", "%v", err)
	}
	return id, nil
}
