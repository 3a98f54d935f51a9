package snowflake

import (
	"sync"
	"testing"
)

func TestNewNodeRange(t *testing.T) {
	if _, err := NewNode(-1); err == nil {
		t.Error("expected error for node -1")
	}
	if _, err := NewNode(1024); err == nil {
		t.Error("expected error for node 1024")
	}
	if _, err := NewNode(0); err != nil {
		t.Errorf("unexpected error for node 0: %v", err)
	}
}

func TestGenerateMonotonic(t *testing.T) {
	n, err := NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	prev := n.Generate()
	for i := 0; i < 10000; i++ {
		id := n.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestGenerateConcurrentUnique(t *testing.T) {
	n, err := NewNode(2)
	if err != nil {
		t.Fatal(err)
	}

	const perWorker = 2000
	const workers = 4

	var mu sync.Mutex
	seen := make(map[int64]bool, perWorker*workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, n.Generate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
}
