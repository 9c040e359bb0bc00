package tagid

import "testing"

func TestHashFixedValues(t *testing.T) {
	// These values are load-bearing: tags embedded in already-published posts
	// must remain findable, so the digest may never change.
	tests := []struct {
		prefix string
		id     string
		want   string
	}{
		{"tu", "41832389", "tu4a97d930"},
		{"tw", "46123485729", "tw492449fa"},
		{"tu", "123456789", "tu25f9e794"},
		{"tw", "broadcaster-1", "tw22b68fc5"},
	}
	for _, tt := range tests {
		if got := Hash(tt.prefix, tt.id); got != tt.want {
			t.Errorf("Hash(%q, %q) = %q, want %q", tt.prefix, tt.id, got, tt.want)
		}
	}
}

func TestHashDeterministic(t *testing.T) {
	first := Hash("tu", "some-id")
	for i := 0; i < 100; i++ {
		if got := Hash("tu", "some-id"); got != first {
			t.Fatalf("Hash not deterministic: %q != %q", got, first)
		}
	}
}

func TestHashLength(t *testing.T) {
	if got := Hash("tw", "x"); len(got) != 10 {
		t.Errorf("Hash length = %d, want 10 (2 prefix + 8 hex)", len(got))
	}
}

func TestHelpers(t *testing.T) {
	if UserTag("41832389") != Hash(PrefixUser, "41832389") {
		t.Error("UserTag does not match Hash with user prefix")
	}
	if StreamTag("46123485729") != Hash(PrefixStream, "46123485729") {
		t.Error("StreamTag does not match Hash with stream prefix")
	}
}
