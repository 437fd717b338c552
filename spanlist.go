package centralfree

import "github.com/flowstash/centralfree/internal/fatal"

// spanList is an intrusive doubly linked list of spans, the Go
// generalization of the design's MSpanList: a sentinel-free head/tail
// pair with O(1) insert-front, insert-back and remove. A span belongs
// to at most one spanList at a time (invariant checked on every
// mutation, matching the teacher's own MSpanList_Insert/Remove
// assertions).
type spanList struct {
	first, last *Span
	n           int
}

func (l *spanList) isEmpty() bool { return l.first == nil }

func (l *spanList) insertFront(s *Span) {
	if s.next != nil || s.prev != nil || s.list != nil {
		fatal.Abort("spanList.insertFront: span already linked", fatal.Fields{"span": s.ID})
	}
	s.next = l.first
	if l.first != nil {
		l.first.prev = s
	} else {
		l.last = s
	}
	l.first = s
	s.prev = nil
	s.list = l
	l.n++
}

func (l *spanList) insertBack(s *Span) {
	if s.next != nil || s.prev != nil || s.list != nil {
		fatal.Abort("spanList.insertBack: span already linked", fatal.Fields{"span": s.ID})
	}
	s.prev = l.last
	if l.last != nil {
		l.last.next = s
	} else {
		l.first = s
	}
	l.last = s
	s.next = nil
	s.list = l
	l.n++
}

func (l *spanList) remove(s *Span) {
	if s.list != l {
		fatal.Abort("spanList.remove: span not a member of this list", fatal.Fields{"span": s.ID})
	}
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.first = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		l.last = s.prev
	}
	s.next, s.prev, s.list = nil, nil, nil
	l.n--
}
