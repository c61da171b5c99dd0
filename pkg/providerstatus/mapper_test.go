package providerstatus

import "testing"

func TestInternal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "starting is processing", input: "starting", expected: "processing"},
		{name: "queued", input: "queued", expected: "queued"},
		{name: "processing", input: "processing", expected: "processing"},
		{name: "succeeded is completed", input: "succeeded", expected: "completed"},
		{name: "failed", input: "failed", expected: "failed"},
		{name: "canceled is failed", input: "canceled", expected: "failed"},
		{name: "unknown passes through", input: "unknown-xyz", expected: "unknown-xyz"},
		{name: "empty passes through", input: "", expected: ""},
		{name: "case sensitive", input: "SUCCEEDED", expected: "SUCCEEDED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Internal(tt.input)
			if got != tt.expected {
				t.Errorf("Internal(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestInternal_Idempotent(t *testing.T) {
	for _, s := range []string{"starting", "queued", "processing", "succeeded", "failed", "canceled", "unknown-xyz"} {
		once := Internal(s)
		if twice := Internal(once); twice != once {
			t.Errorf("Internal(Internal(%q)) = %q, want %q", s, twice, once)
		}
	}
}

func TestKnown(t *testing.T) {
	if !Known("starting") {
		t.Error("expected starting to be known")
	}
	if Known("unknown-xyz") {
		t.Error("expected unknown-xyz to be unknown")
	}
}
