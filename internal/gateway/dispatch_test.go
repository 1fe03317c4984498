package gateway

import "testing"

func TestGetStringReturnsZeroValueForMissingOrWrongType(t *testing.T) {
	data := map[string]any{"path": "/tmp", "mode": 420}
	if got := getString(data, "path"); got != "/tmp" {
		t.Fatalf("path = %q, want /tmp", got)
	}
	if got := getString(data, "mode"); got != "" {
		t.Fatalf("mode = %q, want empty string for non-string value", got)
	}
	if got := getString(data, "missing"); got != "" {
		t.Fatalf("missing = %q, want empty string", got)
	}
}

func TestGetIntAcceptsJSONNumberAndNativeInt(t *testing.T) {
	data := map[string]any{"cols": float64(80), "rows": 24}
	if got := getInt(data, "cols"); got != 80 {
		t.Fatalf("cols = %d, want 80", got)
	}
	if got := getInt(data, "rows"); got != 24 {
		t.Fatalf("rows = %d, want 24", got)
	}
	if got := getInt(data, "missing"); got != 0 {
		t.Fatalf("missing = %d, want 0", got)
	}
}

func TestGetBool(t *testing.T) {
	data := map[string]any{"measureLatency": true, "notBool": "true"}
	if !getBool(data, "measureLatency") {
		t.Fatal("measureLatency = false, want true")
	}
	if getBool(data, "notBool") {
		t.Fatal("notBool should not coerce a string into true")
	}
	if getBool(data, "missing") {
		t.Fatal("missing should default to false")
	}
}

func TestNewOperationIDPreservesClientSuppliedID(t *testing.T) {
	if got := newOperationID("op-123"); got != "op-123" {
		t.Fatalf("newOperationID(op-123) = %q, want op-123", got)
	}
}

func TestNewOperationIDGeneratesWhenEmpty(t *testing.T) {
	a := newOperationID("")
	b := newOperationID("")
	if a == "" || b == "" {
		t.Fatal("expected generated operation ids to be non-empty")
	}
	if a == b {
		t.Fatal("expected two generated operation ids to differ")
	}
}
