package hash

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Digest is a fixed-length binary hash value. Its canonical string form is
// lowercase hex, which is also the key form used in metadata records and
// content-addressed block storage.
type Digest []byte

// Hex returns the canonical lowercase-hex form of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d)
}

// Equal reports whether two digests are byte-identical.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d, other)
}

// IsZero reports whether the digest is empty (unset).
func (d Digest) IsZero() bool {
	return len(d) == 0
}

func (d Digest) String() string {
	return d.Hex()
}

// ParseDigest decodes a lowercase-hex digest string.
func ParseDigest(s string) (Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode digest %q: %w", s, err)
	}
	return Digest(raw), nil
}
