package logbuf

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestHistoryOrderAndEviction(t *testing.T) {
	b := New(5)
	for i := 0; i < 12; i++ {
		b.Append(fmt.Sprintf("line-%d", i))
	}
	h := b.History(0)
	if len(h) != 5 {
		t.Fatalf("want 5 lines, got %d", len(h))
	}
	for i, line := range h {
		want := fmt.Sprintf("line-%d", 7+i)
		if !strings.HasSuffix(line, " "+want) {
			t.Fatalf("line %d: want suffix %q, got %q", i, want, line)
		}
	}
	if b.Len() != 5 {
		t.Fatalf("len want 5 got %d", b.Len())
	}
}

func TestHistoryLimit(t *testing.T) {
	b := New(10)
	for i := 0; i < 4; i++ {
		b.Append(fmt.Sprintf("l%d", i))
	}
	if got := b.History(2); len(got) != 2 || !strings.HasSuffix(got[1], " l3") {
		t.Fatalf("limit=2 got %v", got)
	}
	// limit at or above size returns the full history
	all := b.History(0)
	if got := b.History(100); len(got) != len(all) {
		t.Fatalf("limit>size: want %d got %d", len(all), len(got))
	}
	empty := New(3)
	if got := empty.History(5); len(got) != 0 {
		t.Fatalf("empty buffer should return empty history, got %v", got)
	}
}

func TestFailingListenerIsEvicted(t *testing.T) {
	b := New(10)
	var good []string
	b.Subscribe(func(line string) error {
		good = append(good, line)
		return nil
	})
	calls := 0
	b.Subscribe(func(string) error {
		calls++
		return errors.New("boom")
	})
	var tail []string
	b.Subscribe(func(line string) error {
		tail = append(tail, line)
		return nil
	})

	b.Append("one")
	b.Append("two")

	if calls != 1 {
		t.Fatalf("failing listener should be called exactly once, got %d", calls)
	}
	if len(good) != 2 || len(tail) != 2 {
		t.Fatalf("healthy listeners must keep receiving: good=%d tail=%d", len(good), len(tail))
	}
	if b.Subscribers() != 2 {
		t.Fatalf("want 2 subscribers after eviction, got %d", b.Subscribers())
	}
}

func TestPanickingListenerIsEvicted(t *testing.T) {
	b := New(10)
	b.Subscribe(func(string) error { panic("listener bug") })
	var got []string
	b.Subscribe(func(line string) error {
		got = append(got, line)
		return nil
	})
	b.Append("survives")
	b.Append("still")
	if len(got) != 2 {
		t.Fatalf("append must survive a panicking listener, delivered=%d", len(got))
	}
	if b.Subscribers() != 1 {
		t.Fatalf("panicking listener should be removed, subscribers=%d", b.Subscribers())
	}
}

func TestDoubleSubscribeDeliversTwice(t *testing.T) {
	b := New(10)
	n := 0
	fn := Listener(func(string) error { n++; return nil })
	s1 := b.Subscribe(fn)
	s2 := b.Subscribe(fn)
	b.Append("x")
	if n != 2 {
		t.Fatalf("want double delivery, got %d", n)
	}
	b.Unsubscribe(s1)
	b.Unsubscribe(s1) // repeated unsubscribe is a no-op
	b.Unsubscribe(nil)
	b.Append("y")
	if n != 3 {
		t.Fatalf("want single delivery after unsubscribe, got %d", n)
	}
	b.Unsubscribe(s2)
}

func TestClearKeepsSubscribers(t *testing.T) {
	b := New(10)
	got := 0
	b.Subscribe(func(string) error { got++; return nil })
	b.Append("a")
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("clear should empty the buffer, len=%d", b.Len())
	}
	b.Append("b")
	if got != 2 {
		t.Fatalf("subscribers must survive clear, delivered=%d", got)
	}
}

func TestConcurrentAppendAndReaders(t *testing.T) {
	b := New(100)
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
				b.History(10)
				b.Len()
				sub := b.Subscribe(func(string) error { return nil })
				b.Unsubscribe(sub)
			}
		}
	}()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.Append(fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	<-readerDone
	if b.Len() != 100 {
		t.Fatalf("capacity must bound retained lines, len=%d", b.Len())
	}
}
