package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetgoals/internal/core"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should be present")
	}
	c.Set("c", 3) // evicts b

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("a = %v, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}
}

func TestLRUExpiry(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("k2", "v2")
	now = now.Add(2 * time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired entry")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("cleaned %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Fatalf("size = %d, want 0", c.Size())
	}
}

func TestLRUDeleteFuncAndClear(t *testing.T) {
	c := NewLRUCache[int](0, 0)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	if n := c.DeleteFunc(func(k string) bool { return k == "k1" || k == "k3" }); n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	if c.Size() != 3 {
		t.Fatalf("size = %d, want 3", c.Size())
	}
	c.Clear()
	if c.Size() != 0 {
		t.Fatalf("size after clear = %d", c.Size())
	}
}

func fill(t *testing.T, c *AggregateCache, group string, month core.Month, agg core.TransactionAggregate) {
	t.Helper()
	if !c.Fill(c.Begin(group, month), group, month, agg) {
		t.Fatalf("fill %s %s rejected", group, month.Key())
	}
}

func TestAggregateCacheInvalidation(t *testing.T) {
	c := NewAggregateCache(100, time.Hour)
	c.Enable()
	may := core.NewMonth(2025, time.May)
	june := may.Next()
	agg := core.TransactionAggregate{Expense: decimal.NewFromInt(10), Income: decimal.Zero}

	fill(t, c, "food", may, agg)
	fill(t, c, "house", may, agg)
	fill(t, c, "food", june, agg)

	if got, ok := c.Get("food", may); !ok || !got.Expense.Equal(agg.Expense) {
		t.Fatalf("expected hit, got %+v %v", got, ok)
	}
	if n := c.InvalidateGroup("food", may); n != 1 {
		t.Fatalf("invalidated %d, want 1", n)
	}
	if n := c.InvalidateMonth(may); n != 1 {
		t.Fatalf("invalidated %d, want 1", n)
	}
	if _, ok := c.Get("food", june); !ok {
		t.Fatalf("june entry must survive")
	}
	c.Purge()
	if c.Size() != 0 {
		t.Fatalf("size after purge = %d", c.Size())
	}
}

func TestAggregateCacheDisabledByDefault(t *testing.T) {
	c := NewAggregateCache(100, time.Hour)
	may := core.NewMonth(2025, time.May)
	agg := core.TransactionAggregate{Expense: decimal.NewFromInt(10)}

	if c.Fill(c.Begin("food", may), "food", may, agg) {
		t.Fatal("disabled cache accepted a fill")
	}
	if _, ok := c.Get("food", may); ok {
		t.Fatal("disabled cache served an entry")
	}

	c.Enable()
	fill(t, c, "food", may, agg)
	c.Disable()
	if _, ok := c.Get("food", may); ok || c.Size() != 0 {
		t.Fatalf("disable must drop entries, size=%d", c.Size())
	}
}

func TestAggregateCacheFillAfterInvalidation(t *testing.T) {
	may := core.NewMonth(2025, time.May)
	stale := core.TransactionAggregate{Expense: decimal.NewFromInt(10)}

	tests := []struct {
		name       string
		invalidate func(c *AggregateCache)
		stored     bool
	}{
		{"untouched", func(*AggregateCache) {}, true},
		{"same group", func(c *AggregateCache) { c.InvalidateGroup("food", may) }, false},
		{"whole month", func(c *AggregateCache) { c.InvalidateMonth(may) }, false},
		{"purge", func(c *AggregateCache) { c.Purge() }, false},
		{"disabled", func(c *AggregateCache) { c.Disable(); c.Enable() }, false},
		{"other group", func(c *AggregateCache) { c.InvalidateGroup("house", may) }, true},
		{"other month", func(c *AggregateCache) { c.InvalidateMonth(may.Next()) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAggregateCache(100, time.Hour)
			c.Enable()
			ticket := c.Begin("food", may)
			tt.invalidate(c)
			if got := c.Fill(ticket, "food", may, stale); got != tt.stored {
				t.Fatalf("Fill = %v, want %v", got, tt.stored)
			}
			if _, ok := c.Get("food", may); ok != tt.stored {
				t.Fatalf("entry present = %v, want %v", ok, tt.stored)
			}
		})
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := NewLRUCache[int](50, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*i)%80)
				c.Set(key, i)
				c.Get(key)
				if i%50 == 0 {
					c.DeleteFunc(func(k string) bool { return k == key })
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Size() > 50 {
		t.Fatalf("size %d exceeds bound", c.Size())
	}
}

func TestManagerCleanNowAndStop(t *testing.T) {
	m := NewManager()
	c := NewLRUCache[int](10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("a", 1)
	now = now.Add(time.Hour)

	m.Register(c)
	if n := m.CleanNow(); n != 1 {
		t.Fatalf("cleaned %d, want 1", n)
	}
	m.StartCleanup(10 * time.Millisecond)
	m.Stop()
	m.Stop()
}
