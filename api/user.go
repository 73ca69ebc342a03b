package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
)

// userIDHeader carries the authenticated caller's id, set by the
// authenticating reverse proxy in front of this service.
const userIDHeader = "X-User-ID"

var errMissingUser = errors.New("missing or malformed " + userIDHeader + " header")

// requestUser extracts the caller's id from the request.
func requestUser(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(userIDHeader)
	if raw == "" {
		return uuid.Nil, errMissingUser
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errMissingUser
	}
	return id, nil
}
