package asyncpool

import (
	"github.com/gammazero/deque"
)

// Queue collects the messages emitted during one execution, in emission order.
type Queue struct {
	q deque.Deque
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a message
func (q *Queue) Push(m *Message) {
	q.q.PushBack(m)
}

// Len returns the number of queued messages
func (q *Queue) Len() int {
	return q.q.Len()
}

// Truncate drops every message after the first n.
func (q *Queue) Truncate(n int) {
	for q.q.Len() > n {
		q.q.PopBack()
	}
}

// Drain removes and returns all queued messages.
func (q *Queue) Drain() []*Message {
	out := make([]*Message, 0, q.q.Len())
	for q.q.Len() > 0 {
		out = append(out, q.q.PopFront().(*Message))
	}
	return out
}
