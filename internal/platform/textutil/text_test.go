package textutil

import "testing"

func TestCleanTextStripsMarkup(t *testing.T) {
	got := CleanText("  <b>Crown</b> stuck <script>alert(1)</script> ", 0)
	if got != "Crown stuck" {
		t.Fatalf("unexpected cleaned text %q", got)
	}
}

func TestCleanTextTruncatesRunes(t *testing.T) {
	got := CleanText("ábcdef", 3)
	if got != "ábc" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
}

func TestCleanOptionalDropsEmpty(t *testing.T) {
	empty := "  <i></i> "
	if CleanOptional(&empty, 10) != nil {
		t.Fatalf("expected nil for empty value")
	}
	if CleanOptional(nil, 10) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"watch":          "Watch",
		"smart_wearable": "Smart Wearable",
	}
	for in, want := range cases {
		if got := Label(in); got != want {
			t.Errorf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanTextKeepsPlainPunctuation(t *testing.T) {
	if got := CleanText("strap & buckle don't close", 0); got != "strap & buckle don't close" {
		t.Fatalf("unexpected cleaned text %q", got)
	}
}
