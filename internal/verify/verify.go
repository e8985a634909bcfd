// Package verify authenticates incoming batch submissions against the
// key registry.
package verify

import (
	"crypto/ed25519"
	"errors"
)

// ErrUnknownSource means the source id is not in the registry.
var ErrUnknownSource = errors.New("verify: unknown source")

// ErrBadSignature means the signature does not match the body.
var ErrBadSignature = errors.New("verify: signature mismatch")

// KeyStore resolves source ids to registered public keys.
type KeyStore interface {
	Lookup(source string) (ed25519.PublicKey, bool)
}

// Verifier checks submission signatures.
type Verifier struct {
	keys  KeyStore
	check func(pub ed25519.PublicKey, body []byte, sigB64 string) bool
}

// New builds a Verifier over a key store using check as the signature
// primitive.
func New(keys KeyStore, check func(ed25519.PublicKey, []byte, string) bool) *Verifier {
	return &Verifier{keys: keys, check: check}
}

// Check validates sigB64 over the exact body bytes for the claimed
// source. Both failure modes are deliberately collapsed into a 401 by
// the caller; the distinct errors exist for the audit trail.
func (v *Verifier) Check(source string, body []byte, sigB64 string) error {
	key, ok := v.keys.Lookup(source)
	if !ok {
		return ErrUnknownSource
	}
	if !v.check(key, body, sigB64) {
		return ErrBadSignature
	}
	return nil
}
