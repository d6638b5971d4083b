// Package identity derives the stable fingerprint that keys a wrapped
// command's on-disk state.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint computes the deterministic identity of a command line.
//
// The fingerprint is sha256 over the argv tokens joined with a NUL byte,
// hex-encoded. NUL cannot occur inside an argv token, so the encoding is
// injective: two command lines share a fingerprint only if they are
// byte-identical, token for token. No normalization is applied — "the same
// job" is defined syntactically.
func Fingerprint(tokens []string) string {
	h := sha256.New()
	for i, tok := range tokens {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(tok))
	}
	return hex.EncodeToString(h.Sum(nil))
}
