package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorWrappingAndTaxonomy(t *testing.T) {
	cause := &RateLimitError{Provider: "alpha", RetryAfter: 30 * time.Second}
	err := WrapError(KindProviderRateLimit, CodeProviderRateLimit, "fetch bars", cause)

	if KindOf(err) != KindProviderRateLimit {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if CodeOf(err) != CodeProviderRateLimit {
		t.Errorf("CodeOf = %q", CodeOf(err))
	}

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatal("expected errors.As to find RateLimitError through the wrapper")
	}
	if rle.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v", rle.RetryAfter)
	}

	// A further fmt wrap must not lose the taxonomy.
	wrapped := fmt.Errorf("orchestrator: %w", err)
	if CodeOf(wrapped) != CodeProviderRateLimit {
		t.Errorf("code lost through fmt wrap: %q", CodeOf(wrapped))
	}
}

func TestErrorJSONSerializable(t *testing.T) {
	err := WrapError(KindProviderTransport, CodeProviderError, "connect upstream",
		errors.New("connection refused"))
	err.Data = map[string]any{"provider": "alpha", "attempt": 3}

	b, mErr := json.Marshal(err)
	if mErr != nil {
		t.Fatalf("marshal: %v", mErr)
	}

	var out map[string]any
	if uErr := json.Unmarshal(b, &out); uErr != nil {
		t.Fatalf("unmarshal: %v", uErr)
	}
	if out["code"] != CodeProviderError {
		t.Errorf("code = %v", out["code"])
	}
	if out["timestamp"] == nil {
		t.Error("timestamp missing from serialized error")
	}
	if msg, _ := out["message"].(string); msg == "" || msg == "connect upstream" {
		t.Errorf("cause not flattened into message: %q", msg)
	}
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	if CodeOf(errors.New("plain")) != CodeInternalError {
		t.Error("plain errors should map to INTERNAL_ERROR")
	}
}

func TestInsufficientBarsError(t *testing.T) {
	err := WrapError(KindInsufficientBars, CodeInsufficientBars, "primary window",
		&InsufficientBarsError{Required: 30, Received: 12})

	var ibe *InsufficientBarsError
	if !errors.As(err, &ibe) {
		t.Fatal("expected InsufficientBarsError in chain")
	}
	if ibe.Required != 30 || ibe.Received != 12 {
		t.Errorf("got %+v", ibe)
	}
}
