package cas

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestDigest(t *testing.T) {
	input := []byte("hello world")
	d := Digest(input)

	// 32 bytes = 64 hex characters
	if len(d) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(d))
	}
	if _, err := hex.DecodeString(d); err != nil {
		t.Errorf("invalid hex output: %v", err)
	}

	if Digest(input) != d {
		t.Error("same input produced different digests")
	}
	if Digest([]byte("different input")) == d {
		t.Error("different inputs produced same digest")
	}
}

func TestDigestFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "artifact.json")
	content := []byte(`{"type":"com.example.Goods"}`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	d, err := DigestFile(path)
	if err != nil {
		t.Fatalf("DigestFile failed: %v", err)
	}
	if d != Digest(content) {
		t.Error("DigestFile does not match Digest of the same bytes")
	}

	if _, err := DigestFile(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCanonicalJSON_SortedKeys(t *testing.T) {
	input := map[string]interface{}{
		"z": 1,
		"a": map[string]interface{}{"b": 2, "a": 3},
		"m": []interface{}{map[string]interface{}{"y": 1, "x": 2}},
	}

	result, err := CanonicalJSON(input)
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}

	expected := `{"a":{"a":3,"b":2},"m":[{"x":2,"y":1}],"z":1}`
	if string(result) != expected {
		t.Errorf("expected %s, got %s", expected, string(result))
	}
}

func TestCanonicalJSON_Deterministic(t *testing.T) {
	input := map[string]interface{}{"c": 1, "a": 2, "b": 3}

	var previous string
	for i := 0; i < 10; i++ {
		result, err := CanonicalJSON(input)
		if err != nil {
			t.Fatalf("CanonicalJSON failed: %v", err)
		}
		if previous != "" && string(result) != previous {
			t.Errorf("non-deterministic output: got %s, previous was %s", string(result), previous)
		}
		previous = string(result)
	}
}

func TestDigestJSON_OrderIndependent(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": 2, "z": 3}
	b := map[string]interface{}{"z": 3, "y": 2, "x": 1}

	da, err := DigestJSON(a)
	if err != nil {
		t.Fatalf("DigestJSON failed: %v", err)
	}
	db, err := DigestJSON(b)
	if err != nil {
		t.Fatalf("DigestJSON failed: %v", err)
	}
	if da != db {
		t.Error("key ordering affected DigestJSON")
	}
}
