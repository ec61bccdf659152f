// Package ttsjob renders study artifacts to audio. It normalizes the input
// text (abbreviation expansion, keyword emphasis), synthesizes each segment
// through a tts.Engine, splices the clips with phrasing pauses, transcodes
// the result to the requested container and writes it to the object store
// under generated/.
//
// The package produces two artifact shapes: free text (SynthesizeText) and a
// narrated micro-memo deck (SynthesizeDeck, the export service's
// DeckSynthesizer). Study mode stretches the pause between a card's question
// and its answer so listeners can attempt the answer first.
package ttsjob

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aulavox/aulavox/pkg/audio"
	"github.com/aulavox/aulavox/pkg/blob"
	"github.com/aulavox/aulavox/pkg/tts"
	"github.com/aulavox/aulavox/pkg/types"
)

// mixRate is the internal PCM rate every synthesized clip is normalized to
// before splicing and transcoding.
const mixRate = 24000

// Pause defaults, tuned for spoken Italian card decks.
const (
	DefaultSegmentPause  = 800 * time.Millisecond
	DefaultAnswerPause   = 1200 * time.Millisecond
	DefaultQuestionPause = 3 * time.Second
)

// Config tunes one synthesis run. Zero values fall back to the service
// defaults set at construction.
type Config struct {
	// Voice is the engine speaker identifier.
	Voice string

	// Speed is the speaking-rate multiplier; 1.0 is the native rate.
	Speed float64

	// Format selects the output container. Defaults to the service format.
	Format types.AudioFormat

	// StudyMode inserts a long pause after each question so the listener
	// can answer before the narration does.
	StudyMode bool

	// QuestionPause overrides the study-mode pause length.
	QuestionPause time.Duration
}

// segment is one synthesis unit: a stretch of text followed by silence.
type segment struct {
	text  string
	pause time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithFormat sets the default output container. Defaults to Ogg/Opus.
func WithFormat(f types.AudioFormat) Option {
	return func(s *Service) { s.format = f }
}

// WithVoice sets the default voice identifier.
func WithVoice(voice string) Option {
	return func(s *Service) { s.voice = voice }
}

// WithLanguage sets the synthesis language hint. Defaults to "it".
func WithLanguage(lang string) Option {
	return func(s *Service) { s.language = lang }
}

// WithSpeed sets the default speaking-rate multiplier.
func WithSpeed(speed float64) Option {
	return func(s *Service) { s.speed = speed }
}

// WithVocabulary installs the medical terms the normalizer emphasizes and
// counts. Typically the lecture glossary plus the lexicon's canonical terms.
func WithVocabulary(terms []string) Option {
	return func(s *Service) { s.vocab = newVocabulary(terms) }
}

// WithSSML emits SSML markup (speak/emphasis elements) instead of plain
// punctuation cues. Only for engines that accept SSML input.
func WithSSML(enabled bool) Option {
	return func(s *Service) { s.ssml = enabled }
}

// WithFFmpeg sets the ffmpeg binary used for MP3 transcoding. Without it the
// service looks up "ffmpeg" on PATH at the first MP3 run.
func WithFFmpeg(path string) Option {
	return func(s *Service) { s.ffmpeg = path }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service synthesizes audio artifacts. It is safe for concurrent use.
type Service struct {
	engine tts.Engine
	blobs  blob.Store

	format   types.AudioFormat
	voice    string
	language string
	speed    float64
	vocab    vocabulary
	ssml     bool
	ffmpeg   string
	now      func() time.Time
}

// New builds a synthesis service over the given engine and object store.
func New(engine tts.Engine, blobs blob.Store, opts ...Option) (*Service, error) {
	s := &Service{
		engine:   engine,
		blobs:    blobs,
		format:   types.AudioOGG,
		language: "it",
		speed:    1.0,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.engine == nil {
		return nil, types.Errorf(types.KindConfiguration, "ttsjob: engine is required")
	}
	if s.blobs == nil {
		return nil, types.Errorf(types.KindConfiguration, "ttsjob: blob store is required")
	}
	if !s.format.IsValid() {
		return nil, types.Errorf(types.KindConfiguration, "ttsjob: unsupported format %q", s.format)
	}
	if s.speed <= 0 {
		return nil, types.Errorf(types.KindConfiguration, "ttsjob: speed %v must be positive", s.speed)
	}
	return s, nil
}

// SynthesizeText narrates free text into one audio object. prefix names the
// artifact family in the object key (e.g. "summary", "custom").
func (s *Service) SynthesizeText(ctx context.Context, prefix, text string, cfg Config) (*types.TTSResult, error) {
	segs := splitSentences(text)
	if len(segs) == 0 {
		return nil, types.Errorf(types.KindValidation, "ttsjob: text is empty")
	}
	return s.run(ctx, prefix, segs, cfg)
}

// SynthesizeDeck narrates a micro-memo deck: each card is read as a numbered
// question, a pause, and the answer. Satisfies export.DeckSynthesizer.
func (s *Service) SynthesizeDeck(ctx context.Context, session *types.ClassSession, memos []types.MicroMemo) (*types.TTSResult, error) {
	if len(memos) == 0 {
		return nil, types.Errorf(types.KindValidation, "ttsjob: deck is empty")
	}
	cfg := Config{StudyMode: true}

	segs := make([]segment, 0, 2*len(memos)+1)
	if session != nil {
		title := strings.TrimSpace(session.Topic)
		if title == "" {
			title = strings.TrimSpace(session.Subject)
		}
		intro := fmt.Sprintf("Ripasso di %d domande.", len(memos))
		if title != "" {
			intro = fmt.Sprintf("%s. %s", title, intro)
		}
		segs = append(segs, segment{text: intro, pause: DefaultSegmentPause})
	}
	for i, m := range memos {
		segs = append(segs,
			segment{text: fmt.Sprintf("Domanda %d. %s", i+1, m.Question), pause: questionPause(cfg)},
			segment{text: "Risposta. " + m.Answer, pause: DefaultAnswerPause},
		)
	}
	return s.run(ctx, "deck", segs, cfg)
}

func questionPause(cfg Config) time.Duration {
	if cfg.QuestionPause > 0 {
		return cfg.QuestionPause
	}
	if cfg.StudyMode {
		return DefaultQuestionPause
	}
	return DefaultSegmentPause
}

// run is the shared synthesis pipeline: normalize, synthesize, splice,
// transcode, store.
func (s *Service) run(ctx context.Context, prefix string, segs []segment, cfg Config) (*types.TTSResult, error) {
	format := cfg.Format
	if format == "" {
		format = s.format
	}
	if !format.IsValid() {
		return nil, types.Errorf(types.KindValidation, "ttsjob: unsupported format %q", format)
	}
	voice := cfg.Voice
	if voice == "" {
		voice = s.voice
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = s.speed
	}

	var (
		pcm          []byte
		textRunes    int
		termsHandled int
	)
	for _, seg := range segs {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		norm := s.normalize(seg.text)
		if norm.text == "" {
			continue
		}
		textRunes += len([]rune(norm.text))
		termsHandled += norm.terms

		clip, err := s.engine.Synthesize(ctx, norm.text, tts.Params{
			Voice:    voice,
			Language: s.language,
			Speed:    speed,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, types.ErrCancelled
			}
			return nil, fmt.Errorf("ttsjob: synthesize segment: %w", err)
		}
		pcm = append(pcm, audio.Normalize(clip.PCM, audio.Format{SampleRate: clip.SampleRate, Channels: clip.Channels}, mixRate)...)
		pcm = append(pcm, silence(seg.pause)...)
	}
	if len(pcm) == 0 {
		return nil, types.Errorf(types.KindValidation, "ttsjob: no synthesizable text")
	}

	durationSec := audio.DurationSec(pcm, audio.Format{SampleRate: mixRate, Channels: 1})
	data, contentType, err := s.transcode(ctx, pcm, format)
	if err != nil {
		return nil, err
	}

	key := blob.GeneratedAudioKey(prefix, blob.RandomSuffix(), string(format))
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType, map[string]string{
		"engine": s.engine.Name(),
		"voice":  voice,
	}); err != nil {
		return nil, fmt.Errorf("ttsjob: store %s: %w", key, err)
	}

	return &types.TTSResult{
		Key:          key,
		Format:       format,
		DurationSec:  durationSec,
		SizeBytes:    int64(len(data)),
		Voice:        voice,
		TermsHandled: termsHandled,
		QualityScore: qualityScore(textRunes, durationSec, int64(len(data)), format, termsHandled),
		CreatedAt:    s.now().UTC(),
	}, nil
}

// silence returns d worth of zero PCM at the mix rate.
func silence(d time.Duration) []byte {
	if d <= 0 {
		return nil
	}
	samples := int(d.Seconds() * mixRate)
	return make([]byte, samples*2)
}

// splitSentences cuts free text into synthesis segments at sentence
// boundaries, so engine calls stay short and pauses land where a reader
// would breathe.
func splitSentences(text string) []segment {
	var segs []segment
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if t := strings.TrimSpace(b.String()); t != "" && t != "." {
				segs = append(segs, segment{text: t, pause: DefaultSegmentPause})
			}
			b.Reset()
		}
	}
	if t := strings.TrimSpace(b.String()); t != "" {
		segs = append(segs, segment{text: t, pause: DefaultSegmentPause})
	}
	return segs
}
