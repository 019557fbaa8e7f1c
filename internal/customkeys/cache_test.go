package customkeys

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"crashrelay/internal/domain"
)

func TestAddSizeBoundary(t *testing.T) {
	c := New(0)
	key := "k"
	if err := c.Add(key, strings.Repeat("v", domain.MaxPairBytes-len(key))); err != nil {
		t.Fatalf("exactly %d bytes should fit: %v", domain.MaxPairBytes, err)
	}
	err := c.Add("k2", strings.Repeat("v", domain.MaxPairBytes-1))
	if !errors.Is(err, ErrSizeLimit) {
		t.Fatalf("expected ErrSizeLimit for %d bytes, got %v", domain.MaxPairBytes+1, err)
	}
	if c.Len() != 1 {
		t.Fatalf("rejected pair must not be stored, len=%d", c.Len())
	}
}

func TestAddCountsBytesNotRunes(t *testing.T) {
	c := New(0)
	// each "é" is two bytes in UTF-8
	if err := c.Add("k", strings.Repeat("é", 512)); !errors.Is(err, ErrSizeLimit) {
		t.Fatalf("expected ErrSizeLimit, got %v", err)
	}
}

func TestAddRejectsEmptyKey(t *testing.T) {
	c := New(0)
	if err := c.Add("", "value"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestCapacity(t *testing.T) {
	c := New(0)
	for i := 0; i < domain.MaxCustomKeys; i++ {
		if err := c.Add(fmt.Sprintf("key-%d", i), "v"); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	t.Run("new key past capacity fails", func(t *testing.T) {
		if err := c.Add("one-too-many", "v"); !errors.Is(err, ErrCapacity) {
			t.Fatalf("expected ErrCapacity, got %v", err)
		}
	})

	t.Run("overwrite at capacity succeeds", func(t *testing.T) {
		if err := c.Add("key-0", "updated"); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		if got := c.Snapshot()["key-0"]; got != "updated" {
			t.Fatalf("expected updated value, got %q", got)
		}
	})

	t.Run("remove frees a slot", func(t *testing.T) {
		c.Remove("key-1")
		if err := c.Add("fresh", "v"); err != nil {
			t.Fatalf("add after remove: %v", err)
		}
	})
}

func TestRemoveNoops(t *testing.T) {
	c := New(0)
	_ = c.Add("a", "1")
	_ = c.Add("b", "")
	before := c.Snapshot()

	c.Remove("")
	c.Remove("missing")

	if !reflect.DeepEqual(before, c.Snapshot()) {
		t.Fatalf("no-op removes changed the cache: %v -> %v", before, c.Snapshot())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := New(0)
	_ = c.Add("a", "1")
	snap := c.Snapshot()
	snap["a"] = "mutated"
	snap["b"] = "2"
	if got := c.Snapshot(); len(got) != 1 || got["a"] != "1" {
		t.Fatalf("snapshot mutation leaked into cache: %v", got)
	}
}

func TestConcurrentAdds(t *testing.T) {
	c := New(10)
	var wg sync.WaitGroup
	var mu sync.Mutex
	full := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := c.Add(fmt.Sprintf("k%d", i), "v"); errors.Is(err, ErrCapacity) {
				mu.Lock()
				full++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 10 || full != 40 {
		t.Fatalf("expected 10 stored and 40 rejected, got %d stored %d rejected", c.Len(), full)
	}
}
