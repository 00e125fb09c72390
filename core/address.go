package core

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

const (
	addressPrefix    = 'A'
	userAddressTag   = 'U'
	scAddressTag     = 'S'
	userAddressVer   = 0
	addressKindBytes = 1
)

// AddressKind tells user addresses from smart contract addresses.
type AddressKind uint8

const (
	// UserAddressKind is derived from a public key
	UserAddressKind AddressKind = iota
	// SCAddressKind is derived from the creation slot and index
	SCAddressKind
)

func (k AddressKind) String() string {
	switch k {
	case UserAddressKind:
		return "user"
	case SCAddressKind:
		return "smart-contract"
	}
	return "unknown"
}

// Address identifies an account. It is immutable, comparable and usable as a
// map key; the zero value is not a valid address.
type Address struct {
	kind    AddressKind
	payload string
}

// SCOrigin holds what a smart contract address is derived from.
type SCOrigin struct {
	Slot    Slot   `json:"slot"`
	Index   uint64 `json:"index"`
	IsWrite bool   `json:"is_write"`
}

// UserAddress returns the user address of a public key hash
func UserAddress(h Hash) Address {
	return Address{kind: UserAddressKind, payload: string(h[:])}
}

// SCAddress returns the smart contract address created at slot with index.
func SCAddress(slot Slot, index uint64, isWrite bool) Address {
	return Address{kind: SCAddressKind, payload: string(encodeSCOrigin(SCOrigin{Slot: slot, Index: index, IsWrite: isWrite}))}
}

func encodeSCOrigin(o SCOrigin) []byte {
	buf := o.Slot.Bytes()
	buf = binary.AppendUvarint(buf, o.Index)
	if o.IsWrite {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func decodeSCOrigin(buf []byte) (SCOrigin, error) {
	slot, n, err := decodeSlot(buf)
	if err != nil {
		return SCOrigin{}, err
	}
	buf = buf[n:]
	index, n := binary.Uvarint(buf)
	if n <= 0 {
		return SCOrigin{}, fmt.Errorf("invalid index")
	}
	buf = buf[n:]
	if len(buf) != 1 {
		return SCOrigin{}, fmt.Errorf("invalid is_write flag length %d", len(buf))
	}
	if buf[0] > 1 {
		return SCOrigin{}, fmt.Errorf("invalid is_write flag %d", buf[0])
	}
	return SCOrigin{Slot: slot, Index: index, IsWrite: buf[0] == 1}, nil
}

// Kind returns the address kind
func (a Address) Kind() AddressKind {
	return a.kind
}

// IsZero reports whether a is the zero value.
func (a Address) IsZero() bool {
	return a.payload == ""
}

// IsSmartContract reports whether a is a smart contract address
func (a Address) IsSmartContract() bool {
	return a.kind == SCAddressKind && !a.IsZero()
}

// PublicKeyHash returns the hash behind a user address.
func (a Address) PublicKeyHash() (Hash, bool) {
	var h Hash
	if a.kind != UserAddressKind || len(a.payload) != len(h) {
		return h, false
	}
	copy(h[:], a.payload)
	return h, true
}

// Origin returns the creation data behind a smart contract address.
func (a Address) Origin() (SCOrigin, bool) {
	if a.kind != SCAddressKind {
		return SCOrigin{}, false
	}
	o, err := decodeSCOrigin([]byte(a.payload))
	if err != nil {
		return SCOrigin{}, false
	}
	return o, true
}

// Compare orders addresses by kind, then payload bytes.
func (a Address) Compare(b Address) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	return strings.Compare(a.payload, b.payload)
}

// String returns the human readable form: "AU..." or "AS...".
func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	switch a.kind {
	case UserAddressKind:
		return string([]byte{addressPrefix, userAddressTag}) + base58.CheckEncode([]byte(a.payload), userAddressVer)
	case SCAddressKind:
		return string([]byte{addressPrefix, scAddressTag}) + base58.Encode([]byte(a.payload))
	}
	return ""
}

// Bytes returns the kind byte followed by the payload.
func (a Address) Bytes() []byte {
	out := make([]byte, 0, addressKindBytes+len(a.payload))
	out = append(out, byte(a.kind))
	return append(out, a.payload...)
}

// AddressFromBytes is the inverse of Address.Bytes.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) < addressKindBytes+1 {
		return Address{}, fmt.Errorf("%w: short buffer", ErrAddressParse)
	}
	switch AddressKind(b[0]) {
	case UserAddressKind:
		if len(b)-addressKindBytes != HashSize {
			return Address{}, fmt.Errorf("%w: invalid user address length", ErrAddressParse)
		}
	case SCAddressKind:
		if _, err := decodeSCOrigin(b[addressKindBytes:]); err != nil {
			return Address{}, fmt.Errorf("%w: %v", ErrAddressParse, err)
		}
	default:
		return Address{}, fmt.Errorf("%w: unknown kind %d", ErrAddressParse, b[0])
	}
	return Address{kind: AddressKind(b[0]), payload: string(b[addressKindBytes:])}, nil
}

// ParseAddress parses the human readable form of an address.
func ParseAddress(s string) (Address, error) {
	if len(s) < 3 || s[0] != addressPrefix {
		return Address{}, fmt.Errorf("%w: %q", ErrAddressParse, s)
	}
	body := s[2:]
	switch s[1] {
	case userAddressTag:
		payload, version, err := base58.CheckDecode(body)
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q: %v", ErrAddressParse, s, err)
		}
		if version != userAddressVer {
			return Address{}, fmt.Errorf("%w: %q: unsupported version %d", ErrAddressParse, s, version)
		}
		if len(payload) != HashSize {
			return Address{}, fmt.Errorf("%w: %q: invalid hash length %d", ErrAddressParse, s, len(payload))
		}
		return Address{kind: UserAddressKind, payload: string(payload)}, nil
	case scAddressTag:
		payload := base58.Decode(body)
		if len(payload) == 0 {
			return Address{}, fmt.Errorf("%w: %q: invalid base58", ErrAddressParse, s)
		}
		if _, err := decodeSCOrigin(payload); err != nil {
			return Address{}, fmt.Errorf("%w: %q: %v", ErrAddressParse, s, err)
		}
		return Address{kind: SCAddressKind, payload: string(payload)}, nil
	}
	return Address{}, fmt.Errorf("%w: %q: unknown address kind", ErrAddressParse, s)
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// SortAddresses sorts addrs in place using Compare.
func SortAddresses(addrs []Address) {
	slices.SortFunc(addrs, func(a, b Address) int { return a.Compare(b) })
}
