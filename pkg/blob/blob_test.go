package blob

import (
	"regexp"
	"testing"
)

func TestChunkKeyPadding(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "uploads/cs-1/chunks/chunk_000001"},
		{42, "uploads/cs-1/chunks/chunk_000042"},
		{123456, "uploads/cs-1/chunks/chunk_123456"},
	}
	for _, tt := range tests {
		if got := ChunkKey("cs-1", tt.n); got != tt.want {
			t.Errorf("ChunkKey(cs-1, %d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestChunkKeyLexicalOrder(t *testing.T) {
	// Six-digit zero padding keeps lexical order equal to numeric order,
	// which assembly relies on when listing.
	prev := ""
	for n := 1; n <= 1200; n += 37 {
		key := ChunkKey("cs", n)
		if key <= prev {
			t.Fatalf("ChunkKey(%d) = %q not greater than previous %q", n, key, prev)
		}
		prev = key
	}
}

func TestKeyLayout(t *testing.T) {
	if got, want := RecordingKey("cs-9", "lezione.mp3"), "recordings/cs-9/lezione.mp3"; got != want {
		t.Errorf("RecordingKey() = %q, want %q", got, want)
	}
	if got, want := ExportKey("exp-1", "pdf"), "exp-1/export.pdf"; got != want {
		t.Errorf("ExportKey() = %q, want %q", got, want)
	}
	if got, want := GeneratedAudioKey("memo", "a1b2c3d4", "ogg"), "generated/memo_a1b2c3d4.ogg"; got != want {
		t.Errorf("GeneratedAudioKey() = %q, want %q", got, want)
	}
	if got, want := ChunkPrefix("cs-9"), "uploads/cs-9/chunks/"; got != want {
		t.Errorf("ChunkPrefix() = %q, want %q", got, want)
	}
}

func TestRandomSuffix(t *testing.T) {
	hex8 := regexp.MustCompile(`^[0-9a-f]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s := RandomSuffix()
		if !hex8.MatchString(s) {
			t.Fatalf("RandomSuffix() = %q, want 8 lowercase hex chars", s)
		}
		if seen[s] {
			t.Fatalf("RandomSuffix() repeated %q within 50 draws", s)
		}
		seen[s] = true
	}
}
