package window

import "time"

// event is one flow as seen from a single host's perspective. For outbound
// events peer is the destination host and port the destination port; for
// inbound events peer is the source host and port the source port.
type event struct {
	ts    time.Time
	port  int
	peer  string
	bytes float64
}

// compactThreshold is the minimum number of dead slots before the queue
// reclaims its prefix.
const compactThreshold = 64

// eventQueue is a slice-backed FIFO ordered by timestamp. Push and PopFront
// are amortized O(1).
type eventQueue struct {
	buf  []event
	head int
}

func (q *eventQueue) Len() int {
	return len(q.buf) - q.head
}

func (q *eventQueue) Push(e event) {
	q.buf = append(q.buf, e)
}

func (q *eventQueue) Front() (event, bool) {
	if q.Len() == 0 {
		return event{}, false
	}
	return q.buf[q.head], true
}

func (q *eventQueue) PopFront() event {
	e := q.buf[q.head]
	q.buf[q.head] = event{}
	q.head++
	switch {
	case q.head == len(q.buf):
		q.buf = q.buf[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.buf):
		n := copy(q.buf, q.buf[q.head:])
		clear(q.buf[n:])
		q.buf = q.buf[:n]
		q.head = 0
	}
	return e
}

// Each calls fn for every live event, oldest first.
func (q *eventQueue) Each(fn func(e event)) {
	for i := q.head; i < len(q.buf); i++ {
		fn(q.buf[i])
	}
}
