package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryIncrWithLimit(t *testing.T) {
	m := NewMemoryAt(time.Now)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, ok, err := m.IncrWithLimit(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("IncrWithLimit: %v", err)
		}
		if !ok || count != int64(i) {
			t.Fatalf("attempt %d: got count=%d ok=%v", i, count, ok)
		}
	}

	count, ok, err := m.IncrWithLimit(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("IncrWithLimit: %v", err)
	}
	if ok {
		t.Fatal("expected fourth increment to be denied")
	}
	if count != 3 {
		t.Errorf("count after denial: got %d, want 3", count)
	}
}

func TestMemoryIncrWithLimitConcurrent(t *testing.T) {
	m := NewMemoryAt(time.Now)
	ctx := context.Background()

	const workers = 50
	const limit = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := m.IncrWithLimit(ctx, "hot", limit, time.Minute)
			if err != nil {
				t.Errorf("IncrWithLimit: %v", err)
				return
			}
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed: got %d, want exactly %d", allowed, limit)
	}
}

func TestMemoryExpiry(t *testing.T) {
	now := time.Now()
	m := NewMemoryAt(func() time.Time { return now })
	ctx := context.Background()

	if _, _, err := m.IncrWithLimit(ctx, "k", 1, time.Minute); err != nil {
		t.Fatalf("IncrWithLimit: %v", err)
	}
	if _, ok, _ := m.IncrWithLimit(ctx, "k", 1, time.Minute); ok {
		t.Fatal("expected denial within window")
	}

	// Advance past the TTL; the counter must start fresh.
	now = now.Add(2 * time.Minute)
	count, ok, err := m.IncrWithLimit(ctx, "k", 1, time.Minute)
	if err != nil {
		t.Fatalf("IncrWithLimit: %v", err)
	}
	if !ok || count != 1 {
		t.Errorf("after expiry: got count=%d ok=%v, want 1 true", count, ok)
	}
}

func TestMemorySetNX(t *testing.T) {
	now := time.Now()
	m := NewMemoryAt(func() time.Time { return now })
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "nonce:abc", time.Minute)
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if !ok {
		t.Fatal("first SetNX should succeed")
	}

	ok, _ = m.SetNX(ctx, "nonce:abc", time.Minute)
	if ok {
		t.Fatal("second SetNX should fail while the key lives")
	}

	now = now.Add(2 * time.Minute)
	ok, _ = m.SetNX(ctx, "nonce:abc", time.Minute)
	if !ok {
		t.Fatal("SetNX should succeed again after expiry")
	}
}

func TestMemoryAddAndGet(t *testing.T) {
	m := NewMemoryAt(time.Now)
	ctx := context.Background()

	if _, err := m.Add(ctx, "tokens", 120, time.Hour); err != nil {
		t.Fatalf("Add: %v", err)
	}
	total, err := m.Add(ctx, "tokens", 80, time.Hour)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if total != 200 {
		t.Errorf("total: got %d, want 200", total)
	}

	got, err := m.Get(ctx, "tokens")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 200 {
		t.Errorf("Get: got %d, want 200", got)
	}

	if got, _ := m.Get(ctx, "missing"); got != 0 {
		t.Errorf("Get missing: got %d, want 0", got)
	}
}
