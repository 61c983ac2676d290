// Package identity generates the per-instance tag carried on every outbound
// signaling envelope.
package identity

import "github.com/google/uuid"

// ID is an opaque session identity. It is never persisted and never reused.
type ID string

// New returns a freshly generated identity.
func New() ID {
	return ID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Is reports whether tag names this identity. Envelopes whose tag matches
// the receiver's own identity are self-echoes.
func (id ID) Is(tag string) bool {
	return tag != "" && string(id) == tag
}

// Less reports whether id sorts lexicographically before other. It gives two
// peers a shared, deterministic ordering for resolving simultaneous offers.
func (id ID) Less(other string) bool {
	return string(id) < other
}
