package diarize_test

import (
	"math"
	"testing"

	"github.com/aulavox/aulavox/pkg/recognizer/diarize"
	"github.com/aulavox/aulavox/pkg/types"
)

func TestAssignRolesDominantSpeakerIsProfessor(t *testing.T) {
	segments := []types.SpeakerSegment{
		{Start: 0, End: 60, SpeakerID: "SPEAKER_00"},
		{Start: 60, End: 70, SpeakerID: "SPEAKER_01"},
		{Start: 70, End: 100, SpeakerID: "SPEAKER_00"},
		{Start: 100, End: 110, SpeakerID: "SPEAKER_02"},
	}

	roles := diarize.AssignRoles(segments)

	if roles.Professor != "SPEAKER_00" {
		t.Errorf("Professor = %q, want SPEAKER_00", roles.Professor)
	}
	if len(roles.Students) != 2 {
		t.Fatalf("Students = %v, want 2 entries", roles.Students)
	}
	// 90s of 110s total.
	want := 90.0 / 110.0
	if math.Abs(roles.Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", roles.Confidence, want)
	}
}

func TestAssignRolesSingleSpeaker(t *testing.T) {
	roles := diarize.AssignRoles([]types.SpeakerSegment{
		{Start: 0, End: 300, SpeakerID: "SPEAKER_00"},
	})

	if roles.Professor != "SPEAKER_00" {
		t.Errorf("Professor = %q, want SPEAKER_00", roles.Professor)
	}
	if len(roles.Students) != 0 {
		t.Errorf("Students = %v, want none", roles.Students)
	}
	if roles.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", roles.Confidence)
	}
}

func TestAssignRolesEmptyInput(t *testing.T) {
	roles := diarize.AssignRoles(nil)
	if roles.Professor != "" || roles.Confidence != 0 {
		t.Errorf("got %+v, want zero value", roles)
	}
}

func TestAssignRolesDeterministicOnTies(t *testing.T) {
	segments := []types.SpeakerSegment{
		{Start: 0, End: 10, SpeakerID: "SPEAKER_01"},
		{Start: 10, End: 20, SpeakerID: "SPEAKER_00"},
	}
	for range 10 {
		if got := diarize.AssignRoles(segments).Professor; got != "SPEAKER_00" {
			t.Fatalf("tie broke to %q, want SPEAKER_00", got)
		}
	}
}

func TestSeparationQualitySingleSpeaker(t *testing.T) {
	q := diarize.SeparationQuality(map[string][]float32{"SPEAKER_00": {1, 0}})
	if q != 1.0 {
		t.Errorf("quality = %v, want 1.0", q)
	}
	if q := diarize.SeparationQuality(nil); q != 1.0 {
		t.Errorf("quality(nil) = %v, want 1.0", q)
	}
}

func TestSeparationQualityOrthogonalVoices(t *testing.T) {
	// Cosine distance 1.0, scaled by 2, clamped to 1.
	q := diarize.SeparationQuality(map[string][]float32{
		"SPEAKER_00": {1, 0, 0},
		"SPEAKER_01": {0, 1, 0},
	})
	if q != 1.0 {
		t.Errorf("quality = %v, want 1.0", q)
	}
}

func TestSeparationQualitySimilarVoicesScoreLow(t *testing.T) {
	// Nearly identical embeddings: distance ~0, quality ~0.
	q := diarize.SeparationQuality(map[string][]float32{
		"SPEAKER_00": {1, 0.01},
		"SPEAKER_01": {1, 0},
	})
	if q > 0.05 {
		t.Errorf("quality = %v, want near 0", q)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     diarize.Config
		wantErr bool
	}{
		{"zero value", diarize.Config{}, false},
		{"known count", diarize.Config{KnownCount: 2}, false},
		{"range", diarize.Config{MinSpeakers: 1, MaxSpeakers: 4}, false},
		{"negative count", diarize.Config{KnownCount: -1}, true},
		{"count and range", diarize.Config{KnownCount: 2, MaxSpeakers: 4}, true},
		{"inverted range", diarize.Config{MinSpeakers: 5, MaxSpeakers: 2}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
