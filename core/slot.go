package core

import (
	"encoding/binary"
	"fmt"
)

// ThreadCount is the maximum number of block production threads.
const ThreadCount = 32

// Slot identifies a unit of block production time.
type Slot struct {
	Period uint64 `json:"period"`
	Thread uint8  `json:"thread"`
}

// NewSlot returns the slot at period and thread
func NewSlot(period uint64, thread uint8) Slot {
	return Slot{Period: period, Thread: thread}
}

// Compare orders slots by period, then thread.
func (s Slot) Compare(other Slot) int {
	switch {
	case s.Period < other.Period:
		return -1
	case s.Period > other.Period:
		return 1
	case s.Thread < other.Thread:
		return -1
	case s.Thread > other.Thread:
		return 1
	}
	return 0
}

// Before reports whether s comes strictly before other
func (s Slot) Before(other Slot) bool {
	return s.Compare(other) < 0
}

// Next returns the slot that follows s for the given thread count.
func (s Slot) Next(threadCount uint8) Slot {
	if s.Thread+1 >= threadCount {
		return Slot{Period: s.Period + 1, Thread: 0}
	}
	return Slot{Period: s.Period, Thread: s.Thread + 1}
}

func (s Slot) String() string {
	return fmt.Sprintf("(period: %d, thread: %d)", s.Period, s.Thread)
}

// Bytes returns the compact serialization: uvarint period followed by the thread byte.
func (s Slot) Bytes() []byte {
	buf := binary.AppendUvarint(nil, s.Period)
	return append(buf, s.Thread)
}

// KeyBytes returns a fixed size, order preserving key: big endian period then thread.
func (s Slot) KeyBytes() []byte {
	key := make([]byte, 9)
	binary.BigEndian.PutUint64(key, s.Period)
	key[8] = s.Thread
	return key
}

// decodeSlot reads a slot in its compact form and returns the number of bytes used.
func decodeSlot(buf []byte) (Slot, int, error) {
	period, n := binary.Uvarint(buf)
	if n <= 0 {
		return Slot{}, 0, fmt.Errorf("invalid slot period")
	}
	if len(buf) <= n {
		return Slot{}, 0, fmt.Errorf("missing slot thread")
	}
	thread := buf[n]
	if thread >= ThreadCount {
		return Slot{}, 0, fmt.Errorf("slot thread %d out of range", thread)
	}
	return Slot{Period: period, Thread: thread}, n + 1, nil
}

// SlotTimestamp returns the timestamp in milliseconds of a slot.
func SlotTimestamp(threadCount uint8, t0 uint64, genesisTimestamp uint64, slot Slot) (uint64, error) {
	if threadCount == 0 {
		return 0, fmt.Errorf("thread count is zero")
	}
	base := t0 / uint64(threadCount) * uint64(slot.Thread)
	periods := t0 * slot.Period
	if slot.Period != 0 && periods/slot.Period != t0 {
		return 0, fmt.Errorf("slot timestamp overflow")
	}
	ts := genesisTimestamp + periods + base
	if ts < genesisTimestamp {
		return 0, fmt.Errorf("slot timestamp overflow")
	}
	return ts, nil
}
