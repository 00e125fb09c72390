package core

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

const (
	publicKeyPrefix  = "P"
	publicKeyVersion = 0
	signatureVersion = 0
)

// PublicKey is an ed25519 public key.
type PublicKey struct {
	key ed25519.PublicKey
}

// NewPublicKey wraps raw ed25519 public key bytes.
func NewPublicKey(raw []byte) (PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(raw))
	}
	return PublicKey{key: ed25519.PublicKey(append([]byte(nil), raw...))}, nil
}

// ParsePublicKey parses "P" + base58check(version || key).
func ParsePublicKey(s string) (PublicKey, error) {
	body, ok := strings.CutPrefix(s, publicKeyPrefix)
	if !ok {
		return PublicKey{}, fmt.Errorf("%w: missing prefix", ErrInvalidPublicKey)
	}
	raw, version, err := base58.CheckDecode(body)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if version != publicKeyVersion {
		return PublicKey{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidPublicKey, version)
	}
	return NewPublicKey(raw)
}

func (pk PublicKey) String() string {
	return publicKeyPrefix + base58.CheckEncode(pk.key, publicKeyVersion)
}

// Bytes returns the raw key
func (pk PublicKey) Bytes() []byte {
	return append([]byte(nil), pk.key...)
}

// Address returns the user address owned by this key.
func (pk PublicKey) Address() Address {
	return UserAddress(ComputeHash(pk.key))
}

// VerifyHash checks sig against the hash of the signed data.
func (pk PublicKey) VerifyHash(h Hash, sig Signature) bool {
	if len(pk.key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pk.key, h[:], sig[:])
}

// Signature is an ed25519 signature.
type Signature [ed25519.SignatureSize]byte

// ParseSignature parses base58check(version || signature).
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	raw, version, err := base58.CheckDecode(s)
	if err != nil {
		return sig, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if version != signatureVersion || len(raw) != len(sig) {
		return sig, fmt.Errorf("%w: bad version or length", ErrInvalidSignature)
	}
	copy(sig[:], raw)
	return sig, nil
}

func (s Signature) String() string {
	return base58.CheckEncode(s[:], signatureVersion)
}

// SignHash signs a hash with an ed25519 private key.
func SignHash(priv ed25519.PrivateKey, h Hash) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(priv, h[:]))
	return sig
}
