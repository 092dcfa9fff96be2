package xid

import "github.com/google/uuid"

// New returns a random identifier prefixed with kind, e.g. "evt-<uuid>".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
