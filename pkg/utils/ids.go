package utils

import "github.com/google/uuid"

// NewLocalID returns a fresh client-assigned record id. Local ids are the
// natural key within a user's namespace, so they must be generated with
// enough entropy that independent devices never collide.
func NewLocalID() string {
	return uuid.NewString()
}

// NewServerID returns a server-assigned id for a record accepted for the
// first time. Kept distinct from NewLocalID so the two namespaces can
// diverge later without touching call sites.
func NewServerID() string {
	return "srv_" + uuid.NewString()
}
