package researchcache

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

func TestKeyStability(t *testing.T) {
	fp := `{"preset":"COMPREHENSIVE","lang":"it"}`

	// Cosmetic variants of a term share a key.
	variants := []string{
		"Tachicardia Ventricolare",
		"  tachicardia   ventricolare ",
		"TACHICARDIA VENTRICOLARE",
		NormalizeTerm("tachicardia ventricolare"),
	}
	want := Key(variants[0], fp)
	for _, v := range variants[1:] {
		if got := Key(v, fp); got != want {
			t.Errorf("Key(%q) = %s, want %s", v, got, want)
		}
	}

	// Different configs must not collide.
	if Key("tachicardia", fp) == Key("tachicardia", `{"preset":"QUICK","lang":"it"}`) {
		t.Error("different fingerprints produced the same key")
	}
	// Different terms must not collide.
	if Key("tachicardia", fp) == Key("bradicardia", fp) {
		t.Error("different terms produced the same key")
	}

	if len(want) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(want))
	}
}

func TestTTLFor(t *testing.T) {
	tests := []struct {
		ct      ContentType
		sources []types.SourceType
		want    time.Duration
	}{
		{ContentAcademic, nil, 720 * time.Hour},
		{ContentClinical, nil, 168 * time.Hour},
		{ContentDrugInfo, nil, 24 * time.Hour},
		{ContentEpidemiology, nil, 72 * time.Hour},
		{ContentGeneral, nil, 168 * time.Hour},
		{ContentNews, nil, 6 * time.Hour},
		// Unknown content types use the general TTL.
		{ContentType("folklore"), nil, 168 * time.Hour},
		// PubMed lifts anything to at least 720h.
		{ContentNews, []types.SourceType{types.SourcePubMed}, 720 * time.Hour},
		{ContentDrugInfo, []types.SourceType{types.SourcePubMed, types.SourceWebMD}, 720 * time.Hour},
		// WHO/NIH lift to at least 336h but never shorten.
		{ContentNews, []types.SourceType{types.SourceWHO}, 336 * time.Hour},
		{ContentClinical, []types.SourceType{types.SourceNIH}, 336 * time.Hour},
		{ContentAcademic, []types.SourceType{types.SourceNIH}, 720 * time.Hour},
	}
	for _, tt := range tests {
		if got := TTLFor(tt.ct, tt.sources); got != tt.want {
			t.Errorf("TTLFor(%s, %v) = %v, want %v", tt.ct, tt.sources, got, tt.want)
		}
	}
}

func TestCompressGate(t *testing.T) {
	// Small payloads are stored raw regardless of compressibility.
	small := bytes.Repeat([]byte("a"), 512)
	stored, compressed := Compress(small)
	if compressed || !bytes.Equal(stored, small) {
		t.Error("small payload was compressed")
	}

	// Large repetitive payloads compress well past the ratio gate.
	big := []byte(strings.Repeat("ipertensione arteriosa polmonare ", 200))
	stored, compressed = Compress(big)
	if !compressed {
		t.Fatal("compressible payload was not compressed")
	}
	if ratio := float64(len(stored)) / float64(len(big)); ratio > 0.8 {
		t.Errorf("stored ratio = %.2f, want <= 0.8", ratio)
	}
	back, err := Decompress(stored, compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(back, big) {
		t.Error("roundtrip mismatch")
	}

	// High-entropy payloads above the size floor stay raw.
	noise := make([]byte, 4096)
	rng := rand.New(rand.NewSource(42))
	rng.Read(noise)
	stored, compressed = Compress(noise)
	if compressed {
		t.Error("incompressible payload was compressed")
	}
	if !bytes.Equal(stored, noise) {
		t.Error("raw payload was altered")
	}
}

func TestRecalcFrequency(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := &Entry{
		AccessCount:           10,
		CreatedAt:             now.Add(-5 * 24 * time.Hour),
		FrequencyCalculatedAt: now.Add(-25 * time.Hour),
	}
	if !RecalcFrequency(e, now) {
		t.Fatal("expected recalculation after 25h")
	}
	if e.Frequency != 2 {
		t.Errorf("frequency = %v, want 2 (10 accesses / 5 days)", e.Frequency)
	}
	if !e.FrequencyCalculatedAt.Equal(now) {
		t.Error("FrequencyCalculatedAt not updated")
	}

	// A fresh calculation is not repeated within 24h.
	e.AccessCount = 100
	if RecalcFrequency(e, now.Add(time.Hour)) {
		t.Error("recalculated within 24h window")
	}
	if e.Frequency != 2 {
		t.Errorf("frequency = %v, want unchanged 2", e.Frequency)
	}

	// Entries younger than a day divide by one day, not a fraction.
	young := &Entry{
		AccessCount:           6,
		CreatedAt:             now.Add(-6 * time.Hour),
		FrequencyCalculatedAt: now.Add(-48 * time.Hour),
	}
	RecalcFrequency(young, now)
	if young.Frequency != 6 {
		t.Errorf("young frequency = %v, want 6", young.Frequency)
	}
}

func TestEntryFresh(t *testing.T) {
	now := time.Now()
	e := &Entry{Valid: true, ExpiresAt: now.Add(time.Hour)}
	if !e.Fresh(now) {
		t.Error("valid unexpired entry not fresh")
	}
	if e.Fresh(now.Add(2 * time.Hour)) {
		t.Error("expired entry reported fresh")
	}
	e.Valid = false
	if e.Fresh(now) {
		t.Error("invalidated entry reported fresh")
	}
}
