package reconcile

import (
	"strings"
	"testing"
)

func TestSessionMetadataPattern(t *testing.T) {
	got := sessionMetadataPattern("cs_a1B2")
	want := `%"checkout\_session\_id":"cs\_a1B2"%`
	if got != want {
		t.Fatalf("pattern = %q, want %q", got, want)
	}

	// Only the leading and trailing wildcards may stay unescaped; a bare
	// underscore would match any character and let a near-identical
	// session id pass the dedup check.
	inner := strings.Trim(got, "%")
	if strings.Contains(strings.ReplaceAll(inner, `\_`, ""), "_") {
		t.Fatalf("unescaped underscore in %q", got)
	}
	if strings.Contains(strings.ReplaceAll(inner, `\%`, ""), "%") {
		t.Fatalf("unescaped percent in %q", got)
	}

	if got := sessionMetadataPattern("cs_100%done"); got != `%"checkout\_session\_id":"cs\_100\%done"%` {
		t.Fatalf("percent not escaped: %q", got)
	}
}
