package vetz

import "testing"

func TestRecordKey(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		a := map[string]any{"id": "x", "amount": 1.5}
		b := map[string]any{"amount": 1.5, "id": "x"}
		keyA, err := recordKey(a)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		keyB, err := recordKey(b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if keyA != keyB {
			t.Errorf("identical records produced different keys: %s vs %s", keyA, keyB)
		}
	})

	t.Run("DifferentRecordsDiffer", func(t *testing.T) {
		keyA, _ := recordKey(testOrder{ID: "a"})
		keyB, _ := recordKey(testOrder{ID: "b"})
		if keyA == keyB {
			t.Error("different records produced the same key")
		}
	})

	t.Run("UnmarshalableFails", func(t *testing.T) {
		if _, err := recordKey(map[string]any{"ch": make(chan int)}); err == nil {
			t.Error("expected error for unserializable record")
		}
	})
}

func TestSchemaFingerprint(t *testing.T) {
	t.Run("Length", func(t *testing.T) {
		fp := SchemaFingerprint("order", nil)
		if len(fp) != 16 {
			t.Errorf("expected 16-char fingerprint, got %d chars", len(fp))
		}
	})

	t.Run("Stable", func(t *testing.T) {
		desc := map[string]any{"fields": []any{"id", "amount"}}
		if SchemaFingerprint("order", desc) != SchemaFingerprint("order", desc) {
			t.Error("fingerprint not stable for identical inputs")
		}
	})

	t.Run("DescriptorSensitive", func(t *testing.T) {
		a := SchemaFingerprint("order", map[string]any{"v": 1})
		b := SchemaFingerprint("order", map[string]any{"v": 2})
		if a == b {
			t.Error("fingerprint ignored descriptor change")
		}
	})

	t.Run("NameSensitive", func(t *testing.T) {
		if SchemaFingerprint("order", nil) == SchemaFingerprint("event", nil) {
			t.Error("fingerprint ignored name change")
		}
	})
}
