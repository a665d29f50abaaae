package sharecode

import "testing"

func TestNewProducesValidCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		c, err := New()
		if err != nil {
			t.Fatal(err)
		}
		if len(c) != 4 {
			t.Fatalf("code %q has length %d, want 4", c, len(c))
		}
		if _, err := Parse(c.String()); err != nil {
			t.Fatalf("generated code %q did not parse: %v", c, err)
		}
	}
}

func TestParseCaseInsensitive(t *testing.T) {
	c, err := Parse("abcd")
	if err != nil {
		t.Fatal(err)
	}
	if c.String() != "ABCD" {
		t.Fatalf("got %q, want ABCD", c)
	}
}

func TestParseRejectsAmbiguousChars(t *testing.T) {
	for _, bad := range []string{"0ABC", "O123", "1ABC", "IABC", "LABC", "AB"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) should have failed", bad)
		}
	}
}
