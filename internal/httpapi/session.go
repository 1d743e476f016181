package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// SessionLookup returns the signed-in user for a request, or nil for a guest.
type SessionLookup interface {
	UserID(r *http.Request) *uuid.UUID
}

// HeaderSession trusts a user id header set by the authenticating proxy in
// front of this service. Anything that is not a UUID is treated as a guest.
type HeaderSession struct {
	Header string
}

func (s HeaderSession) UserID(r *http.Request) *uuid.UUID {
	raw := strings.TrimSpace(r.Header.Get(s.Header))
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return nil
	}
	return &id
}
