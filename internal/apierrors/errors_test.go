package apierrors

import (
	"errors"
	"testing"
)

func TestKindOfUnwraps(t *testing.T) {
	base := errors.New("missing")
	wrapped := New(NotFound, "tile lookup", base)

	if KindOf(wrapped) != NotFound {
		t.Errorf("KindOf() = %v, want NotFound", KindOf(wrapped))
	}
	if !Is(wrapped, NotFound) {
		t.Error("Is() = false, want true")
	}
	if !errors.Is(wrapped, base) {
		t.Error("errors.Is should see through Unwrap to base")
	}
}

func TestKindOfDefaultsInternal(t *testing.T) {
	if KindOf(errors.New("plain")) != Internal {
		t.Error("plain errors should report Internal")
	}
}

func TestUpstreamPreservesStatus(t *testing.T) {
	err := NewUpstream(503, "forward fetch", errors.New("boom"))
	if err.Status != 503 {
		t.Errorf("Status = %d, want 503", err.Status)
	}
	if KindOf(err) != Upstream {
		t.Errorf("KindOf() = %v, want Upstream", KindOf(err))
	}
}
