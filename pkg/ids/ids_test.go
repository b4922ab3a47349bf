package ids

import (
	"sync"
	"testing"
)

func TestIssuerUnique(t *testing.T) {
	issuer := NewIssuer()

	const workers, perWorker = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := issuer.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("unique ids = %d, want %d", len(seen), workers*perWorker)
	}
}

func TestIssuerOrdered(t *testing.T) {
	issuer := NewIssuer()
	prev := issuer.Next()
	for i := 0; i < 100; i++ {
		next := issuer.Next()
		if next <= prev {
			t.Fatalf("id %s not after %s", next, prev)
		}
		prev = next
	}
}
