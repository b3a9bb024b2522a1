package language

import "testing"

func TestShouldLocalize(t *testing.T) {
	tests := map[string]bool{
		"":          false,
		"   ":       false,
		"English":   false,
		"en":        false,
		"en-GB":     false,
		" ENGLISH ": false,
		"Italian":   true,
		"it":        true,
		"Français":  true,
	}
	for label, want := range tests {
		if got := ShouldLocalize(label); got != want {
			t.Fatalf("ShouldLocalize(%q) = %v want %v", label, got, want)
		}
	}
}

func TestNameAndISO2(t *testing.T) {
	if got := Name("it"); got != "Italian" {
		t.Fatalf("Name(it) = %q", got)
	}
	if got := Name("italian"); got != "Italian" {
		t.Fatalf("Name(italian) = %q", got)
	}
	if got := ISO2("Italian"); got != "it" {
		t.Fatalf("ISO2(Italian) = %q", got)
	}
	if got := ISO2("pt-BR"); got != "pt" {
		t.Fatalf("ISO2(pt-BR) = %q", got)
	}
	if got := ISO2("Klingonese"); got != "" {
		t.Fatalf("ISO2(Klingonese) = %q", got)
	}
	if got := Name("Klingonese"); got != "Klingonese" {
		t.Fatalf("Name(Klingonese) = %q", got)
	}
}
