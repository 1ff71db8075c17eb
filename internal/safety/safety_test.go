package safety

import "testing"

func TestGuardAllow(t *testing.T) {
	g := NewGuard()
	cases := map[string]bool{
		"Please DELETE ALL files":        false,
		"can you share password for wifi": false,
		"post the weekly summary":         true,
		"":                                true,
	}
	for text, want := range cases {
		if got := g.Allow(text); got != want {
			t.Fatalf("Allow(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestGuardCustomPhrases(t *testing.T) {
	g := NewGuard("  Leak Roadmap ", "")
	if g.Allow("we should leak roadmap today") {
		t.Fatalf("expected custom phrase to block")
	}
	if !g.Allow("delete all") {
		t.Fatalf("default phrases should not apply when custom list given")
	}
	if len(g.Phrases()) != 1 {
		t.Fatalf("unexpected phrases: %v", g.Phrases())
	}
}

func TestGuardScrub(t *testing.T) {
	g := NewGuard()
	if got := g.Scrub("ping @alex and @sam"); got != "ping [at]alex and [at]sam" {
		t.Fatalf("unexpected scrub result: %q", got)
	}
}
