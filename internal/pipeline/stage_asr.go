package pipeline

import (
	"context"

	"github.com/aulavox/aulavox/pkg/blob"
	"github.com/aulavox/aulavox/pkg/recognizer/asr"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ StageRunner = (*ASRStage)(nil)

// ASRStage transcribes the session recording.
type ASRStage struct {
	blobs      blob.Store
	recognizer asr.Recognizer
}

// NewASRStage builds the transcription stage runner.
func NewASRStage(blobs blob.Store, rec asr.Recognizer) *ASRStage {
	return &ASRStage{blobs: blobs, recognizer: rec}
}

// Stage implements StageRunner.
func (s *ASRStage) Stage() types.Stage { return types.StageASR }

// Run implements StageRunner.
func (s *ASRStage) Run(ctx context.Context, env StageEnv) (any, error) {
	cfg, err := asr.ConfigFor(env.Preset.ASR)
	if err != nil {
		return nil, types.WithKind(types.KindConfiguration, err)
	}
	// The session's declared language wins over the preset hint; an empty
	// hint (multilingual preset) keeps backend auto-detection.
	if cfg.Language != "" && env.Session.Language != "" {
		cfg.Language = env.Session.Language
	}

	pcm, key, err := loadRecording(ctx, s.blobs, env.Session)
	if err != nil {
		return nil, err
	}
	in := asr.Audio{Ref: key, PCM: pcm, SampleRate: recognizerRate, Channels: 1}
	result, err := s.recognizer.Transcribe(ctx, in, cfg, asr.ProgressFunc(env.Progress))
	if err != nil {
		return nil, err
	}
	result.JobID = env.Job.ID
	result.ClassSessionID = env.Session.ID
	return result, nil
}
