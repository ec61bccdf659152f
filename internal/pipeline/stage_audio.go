package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aulavox/aulavox/pkg/audio"
	"github.com/aulavox/aulavox/pkg/blob"
	"github.com/aulavox/aulavox/pkg/types"
)

// recognizerRate is the sample rate every recognizer input is normalized to.
const recognizerRate = 16000

// loadRecording fetches the session's assembled recording from the object
// store and decodes it to the canonical recognizer input: 16-bit mono PCM at
// 16 kHz. It returns the PCM and the object key it was loaded from.
func loadRecording(ctx context.Context, blobs blob.Store, session *types.ClassSession) ([]byte, string, error) {
	if session.AudioURL == "" {
		return nil, "", types.Errorf(types.KindInvalidState,
			"pipeline: class session %s has no assembled recording", session.ID)
	}
	prefix := blob.RecordingPrefix(session.ID)
	keys, err := blobs.List(ctx, prefix)
	if err != nil {
		return nil, "", types.WithKind(types.KindTransient,
			fmt.Errorf("pipeline: list recordings under %s: %w", prefix, err))
	}
	if len(keys) == 0 {
		return nil, "", types.Errorf(types.KindInvalidState,
			"pipeline: no recording object under %s", prefix)
	}
	key := keys[0]
	if len(keys) > 1 {
		slog.Warn("multiple recording objects, using first",
			"class_session_id", session.ID, "count", len(keys), "key", key)
	}
	raw, err := blobs.Get(ctx, key)
	if err != nil {
		return nil, "", types.WithKind(types.KindTransient,
			fmt.Errorf("pipeline: fetch recording %s: %w", key, err))
	}
	pcm, info, err := audio.DecodeWAV(raw)
	if err != nil {
		return nil, "", types.WithKind(types.KindValidation,
			fmt.Errorf("pipeline: decode recording %s: %w", key, err))
	}
	return audio.Normalize(pcm, info.Format(), recognizerRate), key, nil
}
