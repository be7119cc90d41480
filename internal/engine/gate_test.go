package engine

import (
	"sync"
	"testing"
	"time"
)

func TestGateSingleEntry(t *testing.T) {
	g := NewGate(0)
	if !g.TryEnter() {
		t.Fatalf("first entry refused")
	}
	if g.TryEnter() {
		t.Fatalf("re-entry while running")
	}
	g.Leave()
	if !g.TryEnter() {
		t.Fatalf("entry refused after leave")
	}
}

func TestGateMinInterval(t *testing.T) {
	g := NewGate(time.Minute)
	clock := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return clock }

	if !g.TryEnter() {
		t.Fatalf("first entry refused")
	}
	g.Leave()

	clock = clock.Add(30 * time.Second)
	if g.TryEnter() {
		t.Fatalf("entered before the minimum interval")
	}

	clock = clock.Add(31 * time.Second)
	if !g.TryEnter() {
		t.Fatalf("entry refused after the interval elapsed")
	}
}

func TestGateConcurrentEntryAdmitsOne(t *testing.T) {
	g := NewGate(0)

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	entered := 0

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if g.TryEnter() {
				mu.Lock()
				entered++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if entered != 1 {
		t.Fatalf("expected exactly one entry, got %d", entered)
	}
}
