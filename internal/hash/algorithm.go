package hash

import (
	"crypto/sha256"
	"fmt"
	stdhash "hash"

	"github.com/cespare/xxhash/v2"
)

// Algorithm identifies one of the supported digest algorithms. The set is
// closed: XXHash64 is the fast default used for change detection, SHA256 is
// the cryptographic alternate kept for interoperability with external tools.
type Algorithm string

const (
	// XXHash64 is the default algorithm. Non-cryptographic, but fast enough
	// to hash an entire kiln on every scan.
	XXHash64 Algorithm = "xxhash64"

	// SHA256 is the cryptographic alternate.
	SHA256 Algorithm = "sha256"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = XXHash64

// Valid reports whether a names a supported algorithm.
func (a Algorithm) Valid() bool {
	return a == XXHash64 || a == SHA256
}

// DigestSize returns the digest length in bytes. Each algorithm produces a
// fixed-length digest; the two algorithms differ in length.
func (a Algorithm) DigestSize() int {
	switch a {
	case XXHash64:
		return 8
	case SHA256:
		return sha256.Size
	default:
		return 0
	}
}

func (a Algorithm) String() string {
	return string(a)
}

// newDigest returns a fresh streaming hash state for the algorithm.
func (a Algorithm) newDigest() (stdhash.Hash, error) {
	switch a {
	case XXHash64:
		return xxhash.New(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", a)
	}
}

// ParseAlgorithm validates a user-supplied algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(name)
	if !a.Valid() {
		return "", fmt.Errorf("unsupported hash algorithm %q (supported: %s, %s)", name, XXHash64, SHA256)
	}
	return a, nil
}
