// Package identity generates and enforces note identifiers. An id is minted
// once, stored in the note header, and never changes for the life of the
// note, across renames, moves and edits.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

// Prefix distinguishes note ids from titles in link targets.
const Prefix = "n-"

var idPattern = regexp.MustCompile(`^n-[0-9a-f]{8}$`)

// New returns a fresh identifier: the prefix plus 8 hex characters drawn
// from crypto/rand (32 bits of entropy).
func New() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("identity: " + err.Error())
	}
	return Prefix + hex.EncodeToString(b[:])
}

// Valid reports whether s has the canonical id shape.
func Valid(s string) bool {
	return idPattern.MatchString(s)
}

// Carrier is the header access Ensure needs from a parsed note.
type Carrier interface {
	ID() string
	SetID(id string)
}

// Ensure returns the note's id, minting and stamping one when the header has
// none. An existing id is returned untouched, whatever its shape.
func Ensure(c Carrier) (id string, generated bool) {
	if id := c.ID(); id != "" {
		return id, false
	}
	id = New()
	c.SetID(id)
	return id, true
}
