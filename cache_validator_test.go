package vetz

import (
	"context"
	"testing"
)

func TestCachedValidator(t *testing.T) {
	t.Run("HitSkipsSchema", func(t *testing.T) {
		inner := newCountingSchema(orderSchema())
		cached := NewCachedValidator[testOrder]("cache", inner, 10)

		record := testOrder{ID: "a", Amount: 1}
		first, firstIssues := cached.Validate(context.Background(), record)
		second, secondIssues := cached.Validate(context.Background(), record)

		if inner.Calls() != 1 {
			t.Errorf("expected 1 schema call, got %d", inner.Calls())
		}
		if first != second {
			t.Errorf("hit returned different value: %+v vs %+v", first, second)
		}
		if len(firstIssues) != 0 || len(secondIssues) != 0 {
			t.Errorf("unexpected issues: %v / %v", firstIssues, secondIssues)
		}
	})

	t.Run("InvalidVerdictCached", func(t *testing.T) {
		inner := newCountingSchema(orderSchema())
		cached := NewCachedValidator[testOrder]("cache", inner, 10)

		record := testOrder{Amount: 1} // no id
		_, firstIssues := cached.Validate(context.Background(), record)
		_, secondIssues := cached.Validate(context.Background(), record)

		if inner.Calls() != 1 {
			t.Errorf("expected 1 schema call, got %d", inner.Calls())
		}
		if len(firstIssues) != 1 || len(secondIssues) != 1 {
			t.Fatalf("expected cached rejection both times: %v / %v", firstIssues, secondIssues)
		}
		if firstIssues[0].Code != secondIssues[0].Code {
			t.Error("cached verdict differs from the original")
		}
	})

	t.Run("HitRate", func(t *testing.T) {
		inner := newCountingSchema(orderSchema())
		cached := NewCachedValidator[testOrder]("cache", inner, 10)

		record := testOrder{ID: "a", Amount: 1}
		if cached.HitRate() != 0 {
			t.Errorf("expected 0 hit rate before lookups, got %f", cached.HitRate())
		}
		cached.Validate(context.Background(), record) // miss
		cached.Validate(context.Background(), record) // hit
		if cached.HitRate() != 0.5 {
			t.Errorf("expected 0.5 hit rate, got %f", cached.HitRate())
		}
		cached.Validate(context.Background(), record) // hit
		if rate := cached.HitRate(); rate <= 0.5 {
			t.Errorf("hit rate should rise with repeated hits, got %f", rate)
		}
	})

	t.Run("EvictsLeastRecentlyUsed", func(t *testing.T) {
		inner := newCountingSchema(orderSchema())
		cached := NewCachedValidator[testOrder]("cache", inner, 2)

		a := testOrder{ID: "a", Amount: 1}
		b := testOrder{ID: "b", Amount: 2}
		c := testOrder{ID: "c", Amount: 3}

		cached.Validate(context.Background(), a) // miss, cache: a
		cached.Validate(context.Background(), b) // miss, cache: b a
		cached.Validate(context.Background(), c) // miss, evicts a

		if cached.Len() != 2 {
			t.Errorf("cache size should not exceed capacity, got %d", cached.Len())
		}

		calls := inner.Calls()
		cached.Validate(context.Background(), a) // miss again: a was evicted
		if inner.Calls() != calls+1 {
			t.Error("expected re-validation of the evicted record")
		}
	})

	t.Run("HitRefreshesRecency", func(t *testing.T) {
		inner := newCountingSchema(orderSchema())
		cached := NewCachedValidator[testOrder]("cache", inner, 2)

		a := testOrder{ID: "a", Amount: 1}
		b := testOrder{ID: "b", Amount: 2}
		c := testOrder{ID: "c", Amount: 3}

		cached.Validate(context.Background(), a) // cache: a
		cached.Validate(context.Background(), b) // cache: b a
		cached.Validate(context.Background(), a) // hit, cache: a b
		cached.Validate(context.Background(), c) // evicts b, not a

		calls := inner.Calls()
		cached.Validate(context.Background(), a) // still cached
		if inner.Calls() != calls {
			t.Error("recently used entry should survive the eviction")
		}
		cached.Validate(context.Background(), b) // evicted, re-validated
		if inner.Calls() != calls+1 {
			t.Error("expected re-validation of the evicted entry")
		}
	})

	t.Run("ClampsCapacity", func(t *testing.T) {
		inner := newCountingSchema(orderSchema())
		cached := NewCachedValidator[testOrder]("cache", inner, 0)

		cached.Validate(context.Background(), testOrder{ID: "a", Amount: 1})
		cached.Validate(context.Background(), testOrder{ID: "b", Amount: 2})
		if cached.Len() != 1 {
			t.Errorf("clamped capacity should hold exactly 1 entry, got %d", cached.Len())
		}
	})

	t.Run("UnserializableBypassesCache", func(t *testing.T) {
		schema := SchemaFunc[map[string]any]("raw", func(_ context.Context, m map[string]any) (map[string]any, Issues) {
			return m, nil
		})
		inner := newCountingSchema(schema)
		cached := NewCachedValidator[map[string]any]("cache", inner, 10)

		record := map[string]any{"ch": make(chan int)}
		cached.Validate(context.Background(), record)
		cached.Validate(context.Background(), record)
		if inner.Calls() != 2 {
			t.Errorf("unserializable records should bypass the cache, got %d calls", inner.Calls())
		}
		if cached.Len() != 0 {
			t.Errorf("nothing should be cached, got %d entries", cached.Len())
		}
	})

	t.Run("WorksAsStreamSchema", func(t *testing.T) {
		inner := newCountingSchema(orderSchema())
		cached := NewCachedValidator[testOrder]("cache", inner, 10)
		stream := NewStream("orders", Schema[testOrder](cached))

		// Three distinct records, each repeated once.
		records := []testOrder{
			{ID: "a", Amount: 1}, {ID: "b", Amount: 2}, {ID: "c", Amount: 3},
			{ID: "a", Amount: 1}, {ID: "b", Amount: 2}, {ID: "c", Amount: 3},
		}
		stats, err := stream.Run(context.Background(), NewSliceSource("src", records))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.ValidRecords != 6 {
			t.Errorf("expected 6 valid, got %d", stats.ValidRecords)
		}
		if inner.Calls() != 3 {
			t.Errorf("expected 3 schema calls with repeats cached, got %d", inner.Calls())
		}
		if cached.HitRate() != 0.5 {
			t.Errorf("expected 0.5 hit rate, got %f", cached.HitRate())
		}
	})
}
