package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("disqualify: %w", Conflictf("match %v already finished", "m1"))
	if !Is(err, KindConflict) {
		t.Fatal("expected conflict kind")
	}
	if Is(err, KindNotFound) {
		t.Fatal("unexpected not found kind")
	}
	if KindOf(err) != KindConflict {
		t.Fatalf("bad kind %v", KindOf(err))
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatal("plain errors must be internal")
	}
}

func TestWrapUnwraps(t *testing.T) {
	base := errors.New("disk full")
	err := Wrap(base, KindInternal, "save audit")
	if !errors.Is(err, base) {
		t.Fatal("wrapped error lost")
	}
	if err.Error() != "save audit: disk full" {
		t.Fatalf("bad message %q", err.Error())
	}
}
