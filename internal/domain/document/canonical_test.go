package document

import (
	"encoding/json"
	"regexp"
	"testing"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestCanonicalizeSortsKeysRecursively(t *testing.T) {
	payload := map[string]interface{}{
		"zebra": 1,
		"alpha": map[string]interface{}{
			"nested_z": "v",
			"nested_a": []interface{}{3, 2, 1},
		},
	}
	got, err := Canonicalize(payload)
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	want := `{"alpha":{"nested_a":[3,2,1],"nested_z":"v"},"zebra":1}`
	if string(got) != want {
		t.Errorf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalizeInvariantUnderKeyOrder(t *testing.T) {
	// Raw JSON preserves its written key order until decoded, so two
	// permutations of the same object exercise the sort.
	a := map[string]interface{}{
		"doc": json.RawMessage(`{"b":1,"a":{"d":4,"c":3},"list":[{"y":2,"x":1}]}`),
	}
	b := map[string]interface{}{
		"doc": json.RawMessage(`{"list":[{"x":1,"y":2}],"a":{"c":3,"d":4},"b":1}`),
	}

	ha, _, err := HashPayload(a)
	if err != nil {
		t.Fatalf("HashPayload error: %v", err)
	}
	hb, _, err := HashPayload(b)
	if err != nil {
		t.Fatalf("HashPayload error: %v", err)
	}
	if ha != hb {
		t.Errorf("hashes differ under key permutation: %s vs %s", ha, hb)
	}
	if !hexPattern.MatchString(ha) {
		t.Errorf("hash %q is not 64 hex chars", ha)
	}
}

func TestCanonicalizePreservesArrayOrder(t *testing.T) {
	a, err := Canonicalize(map[string]interface{}{"arr": []interface{}{1, 2, 3}})
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	b, err := Canonicalize(map[string]interface{}{"arr": []interface{}{3, 2, 1}})
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	if string(a) == string(b) {
		t.Error("array order was not preserved")
	}
}
