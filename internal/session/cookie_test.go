package session

import (
	"strings"
	"testing"
)

func TestSignUnsign(t *testing.T) {
	v := Sign("abc-123", "secret")
	if !strings.HasPrefix(v, "s:abc-123.") {
		t.Fatalf("Sign() = %q, want s:<id>.<mac>", v)
	}

	id, ok := Unsign(v, "secret")
	if !ok || id != "abc-123" {
		t.Errorf("Unsign() = (%q, %v), want (%q, true)", id, ok, "abc-123")
	}
}

func TestUnsign_Rejects(t *testing.T) {
	good := Sign("abc-123", "secret")

	tests := []struct {
		name  string
		value string
	}{
		{"wrong secret", Sign("abc-123", "other")},
		{"tampered id", strings.Replace(good, "abc-123", "abc-124", 1)},
		{"no prefix", strings.TrimPrefix(good, "s:")},
		{"no signature", "s:abc-123"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Unsign(tt.value, "secret"); ok {
				t.Errorf("Unsign(%q) accepted, want rejection", tt.value)
			}
		})
	}
}
