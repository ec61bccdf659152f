package ttsjob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/aulavox/aulavox/pkg/audio"
	"github.com/aulavox/aulavox/pkg/types"
)

// transcode encodes mono PCM at the mix rate into the requested container.
// WAV and Ogg/Opus are encoded natively; MP3 shells out to ffmpeg and is a
// validation failure when the binary is absent.
func (s *Service) transcode(ctx context.Context, pcm []byte, format types.AudioFormat) (data []byte, contentType string, err error) {
	switch format {
	case types.AudioWAV:
		return audio.EncodeWAV(pcm, mixRate, 1), "audio/wav", nil
	case types.AudioOGG:
		data, err := audio.EncodeOggOpus(pcm, audio.Format{SampleRate: mixRate, Channels: 1})
		if err != nil {
			return nil, "", fmt.Errorf("ttsjob: encode ogg: %w", err)
		}
		return data, "audio/ogg", nil
	case types.AudioMP3:
		data, err := s.encodeMP3(ctx, pcm)
		if err != nil {
			return nil, "", err
		}
		return data, "audio/mpeg", nil
	default:
		return nil, "", types.Errorf(types.KindValidation, "ttsjob: unsupported format %q", format)
	}
}

// encodeMP3 pipes a WAV rendition through ffmpeg. The WAV detour keeps the
// invocation free of raw-PCM geometry flags.
func (s *Service) encodeMP3(ctx context.Context, pcm []byte) ([]byte, error) {
	path := s.ffmpeg
	if path == "" {
		found, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, types.Errorf(types.KindValidation, "ttsjob: mp3 output requires ffmpeg: %v", err)
		}
		path = found
	}

	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame", "-b:a", "128k",
		"-f", "mp3", "pipe:1",
	)
	cmd.Stdin = bytes.NewReader(audio.EncodeWAV(pcm, mixRate, 1))
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return nil, types.Errorf(types.KindExternal, "ttsjob: ffmpeg: %s", msg)
		}
		return nil, types.WithKind(types.KindExternal, fmt.Errorf("ttsjob: ffmpeg: %w", err))
	}
	if out.Len() == 0 {
		return nil, types.WithKind(types.KindExternal, errors.New("ttsjob: ffmpeg produced no output"))
	}
	return out.Bytes(), nil
}
