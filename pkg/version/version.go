// Package version provides the opaque project version token used as the
// cache-validity key. Tokens only support equality; there is no ordering.
package version

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
)

// digestSize is the number of sha256 bytes kept in a token
const digestSize = 16

// ErrInvalid is returned when a token cannot be decoded
var ErrInvalid = errors.New("invalid version token")

// Token is an opaque, equality-only project version. The zero value means
// "no version" and never equals a computed token.
type Token struct {
	digest string
}

// Of hashes the given parts into a token. Parts are length-prefixed so that
// ("ab", "c") and ("a", "bc") produce different tokens.
func Of(parts ...string) Token {
	h := sha256.New()
	var lenBuf [binary.MaxVarintLen64]byte
	for _, p := range parts {
		n := binary.PutUvarint(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:n])
		h.Write([]byte(p))
	}
	return Token{digest: string(h.Sum(nil)[:digestSize])}
}

// Combine derives a dependent version from a project's own version and the
// dependent versions of the projects it references. The order of deps does
// not matter.
func Combine(own Token, deps ...Token) Token {
	sorted := make([]string, 0, len(deps))
	for _, d := range deps {
		sorted = append(sorted, d.digest)
	}
	slices.Sort(sorted)
	parts := append([]string{"own", own.digest, "deps"}, sorted...)
	return Of(parts...)
}

// IsZero reports whether the token is the "no version" value
func (t Token) IsZero() bool {
	return t.digest == ""
}

// Equal reports whether two tokens denote the same version
func (t Token) Equal(other Token) bool {
	return t.digest == other.digest
}

func (t Token) String() string {
	if t.IsZero() {
		return "<none>"
	}
	return hex.EncodeToString([]byte(t.digest))
}

// AppendBinary appends the token to b as a uvarint length followed by the digest bytes
func (t Token) AppendBinary(b []byte) ([]byte, error) {
	b = binary.AppendUvarint(b, uint64(len(t.digest)))
	return append(b, t.digest...), nil
}

// Read decodes one token from the front of b and returns the number of bytes consumed
func Read(b []byte) (Token, int, error) {
	size, n := binary.Uvarint(b)
	if n <= 0 {
		return Token{}, 0, fmt.Errorf("%w: bad length prefix", ErrInvalid)
	}
	if size > sha256.Size {
		return Token{}, 0, fmt.Errorf("%w: digest length %d", ErrInvalid, size)
	}
	end := n + int(size)
	if end > len(b) {
		return Token{}, 0, fmt.Errorf("%w: truncated digest", ErrInvalid)
	}
	return Token{digest: string(b[n:end])}, end, nil
}
