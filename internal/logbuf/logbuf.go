// Package logbuf holds the most recent lines of server console output in
// a fixed-capacity ring and fans new lines out to live subscribers. The
// producer (the process output readers) is never disturbed by a
// misbehaving subscriber: a listener that returns an error or panics is
// dropped permanently and notification of the remaining listeners
// continues.
package logbuf

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the number of retained lines when the caller
// passes a non-positive capacity.
const DefaultCapacity = 10000

const timestampLayout = "2006-01-02T15:04:05.000000"

// Line is one captured line of console output, immutable once appended.
type Line struct {
	Timestamp time.Time
	Text      string
}

// Formatted renders the line the way history and live streams deliver it.
func (l Line) Formatted() string {
	return l.Timestamp.Format(timestampLayout) + " " + l.Text
}

// Listener receives each formatted line. Returning a non-nil error
// unsubscribes the listener permanently.
type Listener func(line string) error

// Subscription identifies one registration of a Listener. Registering the
// same function twice yields two subscriptions and double delivery.
type Subscription struct {
	fn Listener
}

// Buffer is a fixed-capacity FIFO of lines with subscriber fan-out.
// All methods are safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	lines   []Line
	head    int
	full    bool
	subs    []*Subscription
	nowFunc func() time.Time

	// notifyMu serializes append delivery so listeners observe lines in
	// buffer order even when producers race.
	notifyMu sync.Mutex
}

// New creates a Buffer retaining at most capacity lines.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		lines:   make([]Line, capacity),
		nowFunc: time.Now,
	}
}

// Append stamps text with the current time, stores it (evicting the
// oldest line when at capacity) and delivers the formatted line to every
// subscriber sequentially in subscription order.
func (b *Buffer) Append(text string) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	line := Line{Timestamp: b.nowFunc(), Text: text}
	b.lines[b.head] = line
	b.head = (b.head + 1) % len(b.lines)
	if b.head == 0 {
		b.full = true
	}
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	formatted := line.Formatted()
	for _, s := range subs {
		if err := b.deliver(s, formatted); err != nil {
			b.Unsubscribe(s)
		}
	}
}

// deliver invokes one listener, converting a panic into a removal-worthy
// error so the producer never unwinds.
func (b *Buffer) deliver(s *Subscription, line string) (err error) {
	defer func() {
		if recover() != nil {
			err = errListenerPanic
		}
	}()
	return s.fn(line)
}

// History returns the buffered lines oldest-to-newest, formatted. A
// positive limit returns only the most recent limit lines; a limit at or
// above the current size returns everything.
func (b *Buffer) History(limit int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []Line
	if b.full {
		ordered = make([]Line, 0, len(b.lines))
		for i := 0; i < len(b.lines); i++ {
			ordered = append(ordered, b.lines[(b.head+i)%len(b.lines)])
		}
	} else {
		ordered = b.lines[:b.head]
	}
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[len(ordered)-limit:]
	}
	out := make([]string, len(ordered))
	for i, l := range ordered {
		out[i] = l.Formatted()
	}
	return out
}

// Len reports the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.lines)
	}
	return b.head
}

// Subscribe registers fn for live delivery and returns its subscription
// handle.
func (b *Buffer) Subscribe(fn Listener) *Subscription {
	s := &Subscription{fn: fn}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscription. Unknown or nil subscriptions are a
// no-op.
func (b *Buffer) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
}

// Subscribers reports the current subscriber count.
func (b *Buffer) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Clear empties the buffer. The subscriber set is untouched.
func (b *Buffer) Clear() {
	b.mu.Lock()
	for i := range b.lines {
		b.lines[i] = Line{}
	}
	b.head = 0
	b.full = false
	b.mu.Unlock()
}

type listenerPanicError struct{}

func (listenerPanicError) Error() string { return "listener panicked" }

var errListenerPanic = listenerPanicError{}
