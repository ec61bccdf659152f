// Package diarize defines the Diarizer interface for speaker-separation
// backends.
//
// A diarizer partitions a lecture recording into speaker turns with stable
// per-voice speaker ids and produces one voice embedding per speaker. The
// role heuristic and the separation-quality score are fixed by this package
// so every backend reports them identically: the speaker with the greatest
// cumulative speaking time is designated the professor, and separation
// quality derives from the pairwise cosine distance of the speaker
// embeddings.
//
// Implementations must be safe for concurrent use.
package diarize

import (
	"context"
	"fmt"
	"sort"

	"github.com/aulavox/aulavox/pkg/embeddings"
	"github.com/aulavox/aulavox/pkg/types"
)

// Config selects the speaker-count policy for a diarization run. Exactly one
// of the two forms applies: a known exact count, or an inclusive range the
// backend may resolve within.
type Config struct {
	// KnownCount pins the speaker count when positive. Lectures with a
	// single lecturer and no interaction typically set 1.
	KnownCount int

	// MinSpeakers and MaxSpeakers bound the search when KnownCount is 0.
	// Zero values leave the bound to the backend.
	MinSpeakers int
	MaxSpeakers int

	// Model is the backend-specific pipeline identifier. Empty selects the
	// backend's default.
	Model string
}

// Validate reports configuration errors a backend would otherwise surface
// mid-job.
func (c Config) Validate() error {
	if c.KnownCount < 0 {
		return fmt.Errorf("diarize: KnownCount must not be negative, got %d", c.KnownCount)
	}
	if c.MinSpeakers < 0 || c.MaxSpeakers < 0 {
		return fmt.Errorf("diarize: speaker range must not be negative")
	}
	if c.KnownCount > 0 && (c.MinSpeakers != 0 || c.MaxSpeakers != 0) {
		return fmt.Errorf("diarize: KnownCount and speaker range are mutually exclusive")
	}
	if c.MinSpeakers > 0 && c.MaxSpeakers > 0 && c.MinSpeakers > c.MaxSpeakers {
		return fmt.Errorf("diarize: MinSpeakers %d exceeds MaxSpeakers %d", c.MinSpeakers, c.MaxSpeakers)
	}
	return nil
}

// Audio is the decoded recording handed to a Diarizer, mirroring the ASR
// input shape: the stage worker resolves storage and decoding before the
// backend runs.
type Audio struct {
	// Ref is the object-store key the recording was fetched from.
	Ref string

	// PCM is interleaved 16-bit little-endian PCM.
	PCM []byte

	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// Channels is the channel count of PCM.
	Channels int
}

// DurationSec returns the play length of the PCM buffer in seconds.
func (a Audio) DurationSec() float64 {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	samples := len(a.PCM) / 2 / a.Channels
	return float64(samples) / float64(a.SampleRate)
}

// ProgressFunc receives coarse progress in [0,1] while a diarization runs.
// A nil ProgressFunc is always permitted.
type ProgressFunc func(pct float64)

// Diarizer is the abstraction over any speaker-separation backend.
//
// Guarantees on the result: every segment has Start < End; SpeakerID is
// stable across segments of the same voice; Roles and SeparationQuality are
// computed with AssignRoles and SeparationQuality from this package.
type Diarizer interface {
	// Diarize partitions the recording into speaker turns.
	//
	// progress may be nil. When non-nil it is invoked with non-decreasing
	// values and is guaranteed a final call with 1.0 on success.
	Diarize(ctx context.Context, audio Audio, cfg Config, progress ProgressFunc) (*types.DiarizationResult, error)

	// Name identifies the backend in logs and job metadata.
	Name() string
}

// AssignRoles applies the professor heuristic to a set of speaker turns: the
// speaker with the greatest cumulative speaking time is the professor, with
// confidence equal to their share of the total speaking time. Remaining
// speakers are listed as students in a stable order.
func AssignRoles(segments []types.SpeakerSegment) types.RoleAssignment {
	if len(segments) == 0 {
		return types.RoleAssignment{}
	}

	talk := make(map[string]float64)
	for _, seg := range segments {
		if d := seg.End - seg.Start; d > 0 {
			talk[seg.SpeakerID] += d
		}
	}

	ids := make([]string, 0, len(talk))
	for id := range talk {
		ids = append(ids, id)
	}
	// Dominant first; ties broken by id so the assignment is deterministic.
	sort.Slice(ids, func(i, j int) bool {
		if talk[ids[i]] != talk[ids[j]] {
			return talk[ids[i]] > talk[ids[j]]
		}
		return ids[i] < ids[j]
	})

	var total float64
	for _, d := range talk {
		total += d
	}

	roles := types.RoleAssignment{Professor: ids[0], Students: ids[1:]}
	if total > 0 {
		roles.Confidence = talk[ids[0]] / total
	}
	return roles
}

// SeparationQuality scores how well the backend separated the voices, in
// [0,1]. A single detected speaker scores 1.0; otherwise the score is the
// mean pairwise cosine distance of the speaker embeddings scaled by 2 and
// clamped, so orthogonal voice embeddings already reach full quality.
func SeparationQuality(speakerEmbeddings map[string][]float32) float64 {
	if len(speakerEmbeddings) <= 1 {
		return 1.0
	}

	ids := make([]string, 0, len(speakerEmbeddings))
	for id := range speakerEmbeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sum float64
	var pairs int
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			sim := embeddings.CosineSimilarity(speakerEmbeddings[ids[i]], speakerEmbeddings[ids[j]])
			sum += 1 - sim
			pairs++
		}
	}
	if pairs == 0 {
		return 1.0
	}

	quality := (sum / float64(pairs)) * 2
	if quality > 1 {
		return 1
	}
	if quality < 0 {
		return 0
	}
	return quality
}
