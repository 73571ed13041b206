package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsChain(t *testing.T) {
	base := NotFound("document %s not found", "doc-1")
	wrapped := fmt.Errorf("lookup: %w", base)
	if got := KindOf(wrapped); got != KindNotFound {
		t.Fatalf("kind = %v, want %v", got, KindNotFound)
	}
	if got := MessageOf(wrapped); got != "document doc-1 not found" {
		t.Fatalf("message = %q", got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("plain error kind = %v, want unknown", got)
	}
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Upstream("payment provider rejected session", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find cause")
	}
	if err.Error() != "payment provider rejected session: connection reset" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestParseCategory(t *testing.T) {
	if c, ok := ParseCategory("realestate"); !ok || c != CategoryRealEstate {
		t.Fatalf("expected realestate to parse, got %q %v", c, ok)
	}
	if _, ok := ParseCategory("tax"); ok {
		t.Fatalf("expected unknown category to fail")
	}
}
