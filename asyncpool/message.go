// Package asyncpool implements deferred cross-contract messages: the message
// model, the outgoing queue filled during one execution and the global pool
// messages wait in until their validity window opens.
package asyncpool

import (
	"encoding/binary"

	"github.com/govm-net/sandbox/core"
)

// Trigger makes a message wait until the given address, or one of its
// datastore keys, changes.
type Trigger struct {
	Address      core.Address `json:"address"`
	DatastoreKey []byte       `json:"datastore_key,omitempty"`
}

// MessageID orders messages: emission slot first, then emission index.
type MessageID struct {
	EmissionSlot  core.Slot `json:"emission_slot"`
	EmissionIndex uint64    `json:"emission_index"`
}

// Compare orders message ids
func (id MessageID) Compare(other MessageID) int {
	if c := id.EmissionSlot.Compare(other.EmissionSlot); c != 0 {
		return c
	}
	switch {
	case id.EmissionIndex < other.EmissionIndex:
		return -1
	case id.EmissionIndex > other.EmissionIndex:
		return 1
	}
	return 0
}

// Message is a deferred call with escrowed fee and coins.
type Message struct {
	EmissionSlot  core.Slot    `json:"emission_slot"`
	EmissionIndex uint64       `json:"emission_index"`
	Sender        core.Address `json:"sender"`
	Destination   core.Address `json:"destination"`
	Handler       string       `json:"handler"`
	MaxGas        uint64       `json:"max_gas"`
	Fee           core.Amount  `json:"fee"`
	Coins         core.Amount  `json:"coins"`
	ValidityStart core.Slot    `json:"validity_start"`
	ValidityEnd   core.Slot    `json:"validity_end"`
	Data          []byte       `json:"data"`
	Trigger       *Trigger     `json:"trigger,omitempty"`
	Hash          core.Hash    `json:"hash"`

	// CanBeExecuted is set once the trigger, if any, has fired.
	CanBeExecuted bool `json:"can_be_executed"`
}

// NewMessage builds a message and computes its hash.
func NewMessage(
	emissionSlot core.Slot,
	emissionIndex uint64,
	sender, destination core.Address,
	handler string,
	maxGas uint64,
	fee, coins core.Amount,
	validityStart, validityEnd core.Slot,
	data []byte,
	trigger *Trigger,
) *Message {
	m := &Message{
		EmissionSlot:  emissionSlot,
		EmissionIndex: emissionIndex,
		Sender:        sender,
		Destination:   destination,
		Handler:       handler,
		MaxGas:        maxGas,
		Fee:           fee,
		Coins:         coins,
		ValidityStart: validityStart,
		ValidityEnd:   validityEnd,
		Data:          append([]byte{}, data...),
		Trigger:       trigger,
		CanBeExecuted: trigger == nil,
	}
	m.Hash = core.ComputeHash(m.serialize())
	return m
}

// ID returns the ordering key of the message
func (m *Message) ID() MessageID {
	return MessageID{EmissionSlot: m.EmissionSlot, EmissionIndex: m.EmissionIndex}
}

// IsValidAt reports whether slot is inside [ValidityStart, ValidityEnd).
func (m *Message) IsValidAt(slot core.Slot) bool {
	return !slot.Before(m.ValidityStart) && slot.Before(m.ValidityEnd)
}

// IsExpiredAt reports whether the validity window ended before or at slot.
func (m *Message) IsExpiredAt(slot core.Slot) bool {
	return !slot.Before(m.ValidityEnd)
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func (m *Message) serialize() []byte {
	buf := m.EmissionSlot.Bytes()
	buf = binary.AppendUvarint(buf, m.EmissionIndex)
	buf = appendBytes(buf, m.Sender.Bytes())
	buf = appendBytes(buf, m.Destination.Bytes())
	buf = appendBytes(buf, []byte(m.Handler))
	buf = binary.AppendUvarint(buf, m.MaxGas)
	buf = binary.AppendUvarint(buf, m.Fee.Raw())
	buf = binary.AppendUvarint(buf, m.Coins.Raw())
	buf = append(buf, m.ValidityStart.Bytes()...)
	buf = append(buf, m.ValidityEnd.Bytes()...)
	buf = appendBytes(buf, m.Data)
	if m.Trigger == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = appendBytes(buf, m.Trigger.Address.Bytes())
	if m.Trigger.DatastoreKey == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return appendBytes(buf, m.Trigger.DatastoreKey)
}
