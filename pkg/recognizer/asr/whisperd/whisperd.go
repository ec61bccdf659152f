// Package whisperd provides an asr.Recognizer backed by a running
// whisper-server binary (whisper.cpp), which exposes a REST API at
// POST /inference.
//
// Lecture recordings regularly exceed an hour, so the recognizer does not
// submit the whole file in one request. It splits the PCM into windows of
// roughly windowSec seconds, cutting each window at the quietest frame near
// the target boundary so words are not sliced in half, and submits the
// windows sequentially. Segment timestamps in each response are shifted by
// the window offset, which keeps the assembled segment list covering
// [0, duration] without overlap. Progress is reported after every window.
//
// Usage:
//
//	r, err := whisperd.New("http://localhost:8080",
//	    whisperd.WithWindowSeconds(240),
//	)
//	result, err := r.Transcribe(ctx, audio, cfg, progress)
package whisperd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aulavox/aulavox/pkg/audio"
	"github.com/aulavox/aulavox/pkg/recognizer/asr"
	"github.com/aulavox/aulavox/pkg/types"
)

const (
	// defaultWindowSec is the target window length submitted per request.
	defaultWindowSec = 300

	// boundaryBacktrackSec is how far before the target cut the splitter
	// searches for the quietest frame.
	boundaryBacktrackSec = 10

	// frameMs is the granularity of the silence search.
	frameMs = 10

	defaultRequestTimeout = 10 * time.Minute
)

// Compile-time assertion that Recognizer implements asr.Recognizer.
var _ asr.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithHTTPClient replaces the default HTTP client, e.g. to tighten timeouts
// in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) {
		r.httpClient = c
	}
}

// WithWindowSeconds sets the target window length per inference request.
// Defaults to 300 s.
func WithWindowSeconds(sec int) Option {
	return func(r *Recognizer) {
		if sec > 0 {
			r.windowSec = sec
		}
	}
}

// Recognizer implements asr.Recognizer against a whisper-server instance.
// It holds no per-call state; one instance serves all jobs of a worker
// process.
type Recognizer struct {
	serverURL  string
	windowSec  int
	httpClient *http.Client
}

// New creates a Recognizer that connects to the whisper-server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	if serverURL == "" {
		return nil, errors.New("whisperd: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		windowSec:  defaultWindowSec,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Name identifies this backend in logs and job metadata.
func (r *Recognizer) Name() string { return "whisperd" }

// Transcribe splits the recording into silence-aligned windows and submits
// each to the whisper-server, assembling the responses into one result.
func (r *Recognizer) Transcribe(ctx context.Context, in asr.Audio, cfg asr.Config, progress asr.ProgressFunc) (*types.TranscriptionResult, error) {
	if len(in.PCM) == 0 {
		return nil, types.Errorf(types.KindValidation, "whisperd: empty audio for %q", in.Ref)
	}
	if in.Channels != 1 {
		return nil, types.Errorf(types.KindValidation, "whisperd: audio must be mono, got %d channels", in.Channels)
	}

	start := time.Now()
	totalDur := in.DurationSec()
	windows := splitAtSilence(in.PCM, in.SampleRate, r.windowSec)

	result := &types.TranscriptionResult{
		Language:         cfg.Language,
		Model:            cfg.Model,
		AudioDurationSec: totalDur,
	}

	var texts []string
	var confSum float64 // duration-weighted segment confidence
	var confDur float64
	offsetSec := 0.0

	for i, win := range windows {
		if err := ctx.Err(); err != nil {
			return nil, types.ErrCancelled
		}

		resp, err := r.infer(ctx, win, in.SampleRate, cfg)
		if err != nil {
			return nil, err
		}

		if lang := resp.Language; lang != "" && result.Language == "" {
			result.Language = lang
		}
		if t := strings.TrimSpace(resp.Text); t != "" {
			texts = append(texts, t)
		}
		for _, seg := range resp.Segments {
			conf := confidenceFromLogprob(seg.AvgLogprob)
			result.Segments = append(result.Segments, types.TranscriptSegment{
				Start:      offsetSec + seg.Start,
				End:        offsetSec + seg.End,
				Text:       strings.TrimSpace(seg.Text),
				Confidence: conf,
			})
			if d := seg.End - seg.Start; d > 0 {
				confSum += conf * d
				confDur += d
			}
			for _, w := range seg.Words {
				result.Words = append(result.Words, types.WordTiming{
					Word:       strings.TrimSpace(w.Word),
					Start:      offsetSec + w.Start,
					End:        offsetSec + w.End,
					Confidence: w.Probability,
				})
			}
		}

		offsetSec += audio.DurationSec(win, audio.Format{SampleRate: in.SampleRate, Channels: 1})
		if progress != nil {
			progress(float64(i+1) / float64(len(windows)))
		}
	}

	result.Text = strings.Join(texts, " ")
	if confDur > 0 {
		result.Confidence = confSum / confDur
	}
	result.ProcessingTimeSec = time.Since(start).Seconds()
	return result, nil
}

// inferenceResponse mirrors the verbose_json reply of whisper-server.
type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
		Words      []struct {
			Word        string  `json:"word"`
			Start       float64 `json:"start"`
			End         float64 `json:"end"`
			Probability float64 `json:"probability"`
		} `json:"words,omitempty"`
	} `json:"segments"`
}

// infer encodes pcm as WAV and POSTs it to /inference as multipart/form-data
// with the preset parameters mapped to form fields.
func (r *Recognizer) infer(ctx context.Context, pcm []byte, sampleRate int, cfg asr.Config) (*inferenceResponse, error) {
	wav := audio.EncodeWAV(pcm, sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisperd: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisperd: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
	}
	if cfg.Language != "" {
		fields["language"] = cfg.Language
	}
	if cfg.Model != "" {
		fields["model"] = cfg.Model
	}
	if cfg.BeamSize > 0 {
		fields["beam_size"] = strconv.Itoa(cfg.BeamSize)
	}
	if len(cfg.Temperatures) > 0 {
		fields["temperature"] = formatFloat(cfg.Temperatures[0])
		if len(cfg.Temperatures) > 1 {
			fields["temperature_inc"] = formatFloat(temperatureStep(cfg.Temperatures))
		}
	}
	if cfg.InitialPrompt != "" {
		fields["prompt"] = cfg.InitialPrompt
	}
	if cfg.WordTimestamps {
		fields["word_timestamps"] = "true"
	}
	if cfg.VAD.Enabled {
		fields["vad"] = "true"
		fields["vad_threshold"] = formatFloat(cfg.VAD.Threshold)
		fields["vad_min_silence_duration_ms"] = strconv.Itoa(cfg.VAD.MinSilenceMs)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisperd: write field %s: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisperd: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisperd: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		return nil, types.Errorf(types.KindTransient, "whisperd: http request: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.Errorf(types.KindTransient, "whisperd: server returned HTTP %d", resp.StatusCode)
	default:
		return nil, types.Errorf(types.KindExternal, "whisperd: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Errorf(types.KindTransient, "whisperd: read response body: %v", err)
	}

	var out inferenceResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, types.Errorf(types.KindExternal, "whisperd: parse JSON response: %v", err)
	}
	return &out, nil
}

// splitAtSilence cuts mono PCM into windows of at most windowSec seconds,
// placing each cut at the quietest 10 ms frame within the final
// boundaryBacktrackSec of the window so speech is not split mid-word.
func splitAtSilence(pcm []byte, sampleRate, windowSec int) [][]byte {
	bytesPerSec := sampleRate * 2
	windowBytes := windowSec * bytesPerSec
	if windowBytes <= 0 || len(pcm) <= windowBytes {
		return [][]byte{pcm}
	}

	frameBytes := sampleRate * frameMs / 1000 * 2
	backtrackBytes := boundaryBacktrackSec * bytesPerSec

	var windows [][]byte
	start := 0
	for len(pcm)-start > windowBytes {
		target := start + windowBytes
		searchFrom := max(target-backtrackBytes, start+frameBytes)

		// Find the quietest frame in [searchFrom, target].
		cut := target
		best := math.Inf(1)
		for off := searchFrom; off+frameBytes <= target; off += frameBytes {
			if rms := audio.RMS(pcm[off : off+frameBytes]); rms < best {
				best = rms
				cut = off + frameBytes
			}
		}

		windows = append(windows, pcm[start:cut])
		start = cut
	}
	if start < len(pcm) {
		windows = append(windows, pcm[start:])
	}
	return windows
}

// confidenceFromLogprob maps whisper's average token log-probability to a
// [0,1] confidence. exp(avg_logprob) is the geometric-mean token probability.
func confidenceFromLogprob(avgLogprob float64) float64 {
	if avgLogprob >= 0 {
		return 1
	}
	c := math.Exp(avgLogprob)
	if c > 1 {
		return 1
	}
	return c
}

// temperatureStep derives the fallback increment from a schedule, matching
// whisper-server's single temperature_inc knob.
func temperatureStep(temps []float64) float64 {
	if len(temps) < 2 {
		return 0.2
	}
	step := temps[1] - temps[0]
	if step <= 0 {
		return 0.2
	}
	return step
}

// formatFloat renders a float without exponent notation for form fields.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
