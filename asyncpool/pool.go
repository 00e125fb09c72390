package asyncpool

import (
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/ledger"
)

func compareIDs(a, b interface{}) int {
	return a.(MessageID).Compare(b.(MessageID))
}

// Pool holds pending messages ordered by MessageID. It is safe for
// concurrent use.
type Pool struct {
	mu        sync.Mutex
	maxLength int
	tree      *redblacktree.Tree
}

// NewPool creates a pool holding at most maxLength messages (0 means unbounded).
func NewPool(maxLength int) *Pool {
	return &Pool{
		maxLength: maxLength,
		tree:      redblacktree.NewWith(compareIDs),
	}
}

// Len returns the number of pending messages
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.Size()
}

// Get returns a pending message by id
func (p *Pool) Get(id MessageID) (*Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.tree.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Message), true
}

// Merge inserts messages and returns the ones evicted to respect the
// maximum length; the latest messages are evicted first.
func (p *Pool) Merge(msgs []*Message) []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		p.tree.Put(m.ID(), m)
	}
	var evicted []*Message
	for p.maxLength > 0 && p.tree.Size() > p.maxLength {
		node := p.tree.Right()
		evicted = append(evicted, node.Value.(*Message))
		p.tree.Remove(node.Key)
	}
	return evicted
}

// UpdateTriggers marks as executable the messages whose trigger is touched
// by changes.
func (p *Pool) UpdateTriggers(changes *ledger.Changes) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	fired := 0
	it := p.tree.Iterator()
	for it.Next() {
		m := it.Value().(*Message)
		if m.CanBeExecuted || m.Trigger == nil {
			continue
		}
		if changes.Touches(m.Trigger.Address, m.Trigger.DatastoreKey) {
			m.CanBeExecuted = true
			fired++
		}
	}
	return fired
}

// TakeReady removes and returns, in order, up to limit messages that are
// executable at slot (0 means no limit).
func (p *Pool) TakeReady(slot core.Slot, limit int) []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ready []*Message
	it := p.tree.Iterator()
	for it.Next() {
		if limit > 0 && len(ready) >= limit {
			break
		}
		m := it.Value().(*Message)
		if m.CanBeExecuted && m.IsValidAt(slot) {
			ready = append(ready, m)
		}
	}
	for _, m := range ready {
		p.tree.Remove(m.ID())
	}
	return ready
}

// PruneExpired removes and returns the messages whose window is over at slot.
func (p *Pool) PruneExpired(slot core.Slot) []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []*Message
	it := p.tree.Iterator()
	for it.Next() {
		m := it.Value().(*Message)
		if m.IsExpiredAt(slot) {
			expired = append(expired, m)
		}
	}
	for _, m := range expired {
		p.tree.Remove(m.ID())
	}
	return expired
}

// Clone returns an independent copy of the pool. Messages are copied, so
// trigger updates on the copy leave p untouched.
func (p *Pool) Clone() *Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := NewPool(p.maxLength)
	it := p.tree.Iterator()
	for it.Next() {
		m := *it.Value().(*Message)
		out.tree.Put(m.ID(), &m)
	}
	return out
}

// Replace makes p hold the messages of other. other must not be used
// afterwards.
func (p *Pool) Replace(other *Pool) {
	other.mu.Lock()
	tree := other.tree
	other.tree = redblacktree.NewWith(compareIDs)
	other.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tree = tree
}
