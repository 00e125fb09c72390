// Package core provides the fundamental types shared by the execution sandbox:
// addresses, slots, amounts, hashes and the errors reported when untrusted
// code misuses them.
package core

import (
	"errors"
)

// Errors reported by the sandbox. They are always recoverable: a failing call
// aborts the contract call that triggered it, never the host.
var (
	ErrAddressParse          = errors.New("address parse error")
	ErrAddressNotFound       = errors.New("address not found")
	ErrAddressAlreadyExists  = errors.New("address already exists")
	ErrBytecodeNotFound      = errors.New("bytecode not found")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrAmountOverflow        = errors.New("amount overflow")
	ErrDataEntryNotFound     = errors.New("data entry not found")
	ErrDatastoreKeyTooLong   = errors.New("datastore key too long")
	ErrInvalidValidityWindow = errors.New("invalid validity window")
	ErrEmptyCallStack        = errors.New("empty call stack")
	ErrCallStackOverflow     = errors.New("call stack overflow")
	ErrNoWriteAccess         = errors.New("no write access")
	ErrNoOperationDatastore  = errors.New("no operation datastore")
	ErrModuleCompilation     = errors.New("module compilation error")
	ErrInvalidPublicKey      = errors.New("invalid public key")
	ErrInvalidSignature      = errors.New("invalid signature")
)
