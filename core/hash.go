package core

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

// HashSize is the size in bytes of a Hash.
const HashSize = 32

const hashVersion = 0

// Hash is the digest used for addresses, message ids and module keys.
type Hash [HashSize]byte

// ComputeHash returns the blake2b-256 digest of data
func ComputeHash(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// Sha256 returns the sha256 digest of data.
func Sha256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// String returns the base58check form of the hash
func (h Hash) String() string {
	return base58.CheckEncode(h[:], hashVersion)
}

// ParseHash parses the base58check form of a hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, version, err := base58.CheckDecode(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if version != hashVersion || len(raw) != HashSize {
		return h, fmt.Errorf("invalid hash %q", s)
	}
	copy(h[:], raw)
	return h, nil
}
