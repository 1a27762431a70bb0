package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(Timeout, "tile %s", "5/1/1")
	if KindOf(err) != Timeout {
		t.Errorf("KindOf = %v", KindOf(err))
	}

	wrapped := fmt.Errorf("handler: %w", err)
	if KindOf(wrapped) != Timeout {
		t.Error("kind lost through wrapping")
	}

	if KindOf(errors.New("plain")) != Internal {
		t.Error("plain errors should default to Internal")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(SourceUnavailable, cause, "open dem.tif")
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if !IsKind(err, SourceUnavailable) {
		t.Error("IsKind failed")
	}
	if IsKind(err, Timeout) {
		t.Error("IsKind matched the wrong kind")
	}
}
