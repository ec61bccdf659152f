package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aulavox/aulavox/pkg/blob"
	"github.com/aulavox/aulavox/pkg/recognizer/diarize"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

// defaultVoiceDistance is the maximum cosine distance at which a diarized
// professor voice is accepted as an enrolled lecturer.
const defaultVoiceDistance = 0.35

var _ StageRunner = (*DiarizeStage)(nil)

// DiarizeStage separates the recording into speaker turns and, when a
// voiceprint store is attached, matches the professor-role voice against
// enrolled lecturers.
type DiarizeStage struct {
	blobs    blob.Store
	diarizer diarize.Diarizer

	// voices is optional; nil disables lecturer matching.
	voices           store.VoiceprintStore
	maxVoiceDistance float64
}

// NewDiarizeStage builds the diarization stage runner. voices may be nil.
func NewDiarizeStage(blobs blob.Store, d diarize.Diarizer, voices store.VoiceprintStore) *DiarizeStage {
	return &DiarizeStage{
		blobs:            blobs,
		diarizer:         d,
		voices:           voices,
		maxVoiceDistance: defaultVoiceDistance,
	}
}

// Stage implements StageRunner.
func (s *DiarizeStage) Stage() types.Stage { return types.StageDiarization }

// Run implements StageRunner.
func (s *DiarizeStage) Run(ctx context.Context, env StageEnv) (any, error) {
	cfg := env.Preset.Diarize
	if err := cfg.Validate(); err != nil {
		return nil, types.WithKind(types.KindConfiguration, err)
	}

	pcm, key, err := loadRecording(ctx, s.blobs, env.Session)
	if err != nil {
		return nil, err
	}
	in := diarize.Audio{Ref: key, PCM: pcm, SampleRate: recognizerRate, Channels: 1}
	result, err := s.diarizer.Diarize(ctx, in, cfg, diarize.ProgressFunc(env.Progress))
	if err != nil {
		return nil, err
	}
	result.JobID = env.Job.ID
	result.ClassSessionID = env.Session.ID
	s.matchLecturer(ctx, env, result)
	return result, nil
}

// matchLecturer fills result.MatchedLecturerID when the professor-role voice
// is close enough to an enrolled voiceprint. Matching is best effort: lookup
// failures are logged and the result stays unmatched.
func (s *DiarizeStage) matchLecturer(ctx context.Context, env StageEnv, result *types.DiarizationResult) {
	if s.voices == nil || result.Roles.Professor == "" {
		return
	}
	embedding := result.Embeddings[result.Roles.Professor]
	if len(embedding) == 0 {
		return
	}
	lecturer, distance, err := s.voices.MatchLecturerVoice(ctx, embedding, s.maxVoiceDistance)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.Debug("no enrolled lecturer within range",
			"class_session_id", env.Session.ID, "speaker", result.Roles.Professor)
	case err != nil:
		slog.Warn("voiceprint lookup failed",
			"class_session_id", env.Session.ID, "error", err)
	default:
		slog.Info("lecturer voice matched",
			"class_session_id", env.Session.ID, "lecturer_id", lecturer.ID,
			"lecturer", lecturer.Name, "distance", distance)
		result.MatchedLecturerID = lecturer.ID
	}
}
