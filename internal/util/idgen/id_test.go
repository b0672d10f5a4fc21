package idgen

import (
	"strings"
	"testing"
)

func TestIDShape(t *testing.T) {
	seen := make(map[string]struct{})
	for range 10_000 {
		id := ID()
		if len(id) != 26 {
			t.Fatalf("bad id length: %q", id)
		}
		for _, c := range id {
			if !strings.ContainsRune(idAlphabet, c) {
				t.Fatalf("bad id char %q in %q", c, id)
			}
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestSecureToken(t *testing.T) {
	tok, err := SecureToken()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(tok, TokenPrefix) || len(tok) != len(TokenPrefix)+32 {
		t.Fatalf("bad token %q", tok)
	}
}
