package validation

import (
	"testing"

	"planline/internal/domain"
)

func TestFormatValidValues(t *testing.T) {
	got := FormatValidValues(domain.LinkTypes)
	if got != "FS, SS, FF, SF" {
		t.Fatalf("FormatValidValues = %q", got)
	}
	if got := FormatValidValues([]string{}); got != "" {
		t.Fatalf("empty list formatted as %q", got)
	}
}
