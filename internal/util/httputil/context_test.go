package httputil

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWrapRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "bot-1234")
	if id := ExtractReqID(WrapRequest(req).Context()); id != "bot-1234" {
		t.Fatalf("caller id not kept: %q", id)
	}

	for _, bad := range []string{"", "has space", strings.Repeat("x", 65), "tab\tid"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, bad)
		id := ExtractReqID(WrapRequest(req).Context())
		if id == "" || id == bad {
			t.Errorf("%q: expected a fresh id, got %q", bad, id)
		}
	}

	if id := ExtractReqID(context.Background()); id != "" {
		t.Fatalf("unexpected id %q", id)
	}
}
