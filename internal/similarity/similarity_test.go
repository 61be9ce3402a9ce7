package similarity

import "testing"

func TestFingerprintNormalizes(t *testing.T) {
	a := Fingerprint("  Send 10 UNITS to 0xABC ")
	b := Fingerprint("send 10 units to 0xabc")
	if a != b {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %d", len(a))
	}
	if a == Fingerprint("send 11 units to 0xabc") {
		t.Fatalf("different text must fingerprint differently")
	}
}

func TestOverlapUsesLargerSet(t *testing.T) {
	a := Words("send 10 units to 0xabc")
	b := Words("send 5 units to 0xabc")
	if got := Overlap(a, b); got != 0.8 {
		t.Fatalf("expected 0.8, got %v", got)
	}

	c := Words("send units")
	if got := Overlap(a, c); got != 0.4 {
		t.Fatalf("expected 0.4, got %v", got)
	}
	if got := Overlap(Words(""), a); got != 0 {
		t.Fatalf("expected 0 for empty set, got %v", got)
	}
}

func TestWordsDeduplicates(t *testing.T) {
	w := Words("rm rm -rf RM /tmp")
	if len(w) != 3 {
		t.Fatalf("expected 3 distinct words, got %d", len(w))
	}
}

func TestQueryMatches(t *testing.T) {
	q := NewQuery("send 10 units to 0xabc", 0.7)

	if !q.Matches("SEND 10 units to 0xABC", "") {
		t.Fatalf("expected word overlap match")
	}
	if !q.Matches("completely different text", q.Fingerprint()) {
		t.Fatalf("expected fingerprint match to win regardless of text")
	}
	if q.Matches("browse https://docs.example.io", Fingerprint("browse https://docs.example.io")) {
		t.Fatalf("unexpected match")
	}

	empty := NewQuery("   ", 0.1)
	if empty.Matches("   ", "") {
		t.Fatalf("empty word sets must never match on overlap")
	}
	if !empty.Matches("", Fingerprint("")) {
		t.Fatalf("empty text still matches on exact fingerprint")
	}
}
