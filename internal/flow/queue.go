package flow

import "github.com/samsneelam1981/rlite-go/internal/buffer"

// queue is the intrusive doubly linked list backing cwq, rtxq, and seqq
// (spec.md §9 "Intrusive queues"), keyed on buffer.Buffer.Next/Prev/Seq.
// It performs no allocation beyond the buffers themselves.
type queue struct {
	head, tail *buffer.Buffer
	length     int
}

func (q *queue) Len() int { return q.length }

func (q *queue) Front() *buffer.Buffer { return q.head }

// PushBack appends in whatever order the caller presents buffers — used by
// cwq and rtxq, both of which are only ever appended to in already-sorted
// (ascending send-sequence) order.
func (q *queue) PushBack(b *buffer.Buffer) {
	b.Prev = q.tail
	b.Next = nil
	if q.tail != nil {
		q.tail.Next = b
	} else {
		q.head = b
	}
	q.tail = b
	q.length++
}

// PopFront removes and returns the head element, or nil if empty.
func (q *queue) PopFront() *buffer.Buffer {
	b := q.head
	if b == nil {
		return nil
	}
	q.head = b.Next
	if q.head != nil {
		q.head.Prev = nil
	} else {
		q.tail = nil
	}
	b.Next, b.Prev = nil, nil
	q.length--
	return b
}

// Remove detaches b from the queue. b must currently be a member.
func (q *queue) Remove(b *buffer.Buffer) {
	if b.Prev != nil {
		b.Prev.Next = b.Next
	} else {
		q.head = b.Next
	}
	if b.Next != nil {
		b.Next.Prev = b.Prev
	} else {
		q.tail = b.Prev
	}
	b.Next, b.Prev = nil, nil
	q.length--
}

// InsertSorted inserts b keeping ascending Seq order, used by seqq. Returns
// false without inserting if an entry with the same Seq already exists —
// seqq contains no duplicates (spec.md §3 invariants).
func (q *queue) InsertSorted(b *buffer.Buffer) bool {
	for n := q.head; n != nil; n = n.Next {
		if n.Seq == b.Seq {
			return false
		}
		if n.Seq > b.Seq {
			b.Prev = n.Prev
			b.Next = n
			if n.Prev != nil {
				n.Prev.Next = b
			} else {
				q.head = b
			}
			n.Prev = b
			q.length++
			return true
		}
	}
	q.PushBack(b)
	return true
}

// PopWhile removes and returns, in order, every leading buffer for which
// pred returns true, stopping at the first buffer (or end of queue) for
// which it returns false.
func (q *queue) PopWhile(pred func(*buffer.Buffer) bool) []*buffer.Buffer {
	var out []*buffer.Buffer
	for q.head != nil && pred(q.head) {
		out = append(out, q.PopFront())
	}
	return out
}

// RemoveMatching removes and returns every buffer for which pred returns
// true, preserving relative order, regardless of position.
func (q *queue) RemoveMatching(pred func(*buffer.Buffer) bool) []*buffer.Buffer {
	var out []*buffer.Buffer
	n := q.head
	for n != nil {
		next := n.Next
		if pred(n) {
			q.Remove(n)
			out = append(out, n)
		}
		n = next
	}
	return out
}
