package random

import (
	"strings"
	"testing"
)

func TestStringSecure(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := StringSecure(32)
		if err != nil {
			t.Fatal(err)
		}
		if len(s) != 32 {
			t.Fatalf("expected length 32, got %d", len(s))
		}
		for _, c := range s {
			if !strings.ContainsRune(charset, c) {
				t.Fatalf("unexpected rune %q in %q", c, s)
			}
		}
		if seen[s] {
			t.Fatalf("duplicated token %q", s)
		}
		seen[s] = true
	}
}
