package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactSecrets(t *testing.T) {
	input := "Incorrect API key provided: sk-proj-abcdef123456. header was Bearer ek_live.XYZ"
	out, changed := RedactSecrets(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if strings.Contains(out, "abcdef123456") || strings.Contains(out, "ek_live.XYZ") {
		t.Fatalf("secret survived redaction: %q", out)
	}
}

func TestRedactLeavesPlainTextAlone(t *testing.T) {
	in := "session closed by server"
	if got := Redact(in); got != in {
		t.Fatalf("Redact(%q) = %q", in, got)
	}
}
