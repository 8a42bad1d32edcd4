package mapping

import "testing"

func TestIsValidEquivalence(t *testing.T) {
	for _, e := range []string{"EQUIVALENT", "WIDER", "NARROWER", "INEXACT", "UNMATCHED", "DISJOINT"} {
		if !IsValidEquivalence(e) {
			t.Errorf("expected %q to be valid", e)
		}
	}
	for _, e := range []string{"", "equivalent", "SIMILAR"} {
		if IsValidEquivalence(e) {
			t.Errorf("expected %q to be invalid", e)
		}
	}
}

func TestIsValidValidationStatus(t *testing.T) {
	for _, s := range []string{"PENDING", "APPROVED", "REJECTED", "NEEDS_REVIEW"} {
		if !IsValidValidationStatus(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if IsValidValidationStatus("MAYBE") {
		t.Error("MAYBE should be invalid")
	}
}
