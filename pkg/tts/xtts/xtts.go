// Package xtts implements the tts.Engine interface against an
// XTTS-compatible synthesis server.
//
// The server exposes POST /api/tts taking a JSON body with the text, voice,
// language and speed, and answers with a complete WAV file. The engine
// decodes the WAV to PCM so downstream transcoding never re-parses headers.
package xtts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aulavox/aulavox/pkg/audio"
	"github.com/aulavox/aulavox/pkg/tts"
	"github.com/aulavox/aulavox/pkg/types"
)

const (
	ttsEndpoint = "/api/tts"

	defaultLanguage       = "it"
	defaultRequestTimeout = 2 * time.Minute

	// maxResponseBytes bounds the WAV response read. A one-hour mono
	// 24 kHz clip is under 180 MiB; anything bigger is a server fault.
	maxResponseBytes = 256 << 20
)

// Compile-time assertion that Engine implements tts.Engine.
var _ tts.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the default HTTP client, e.g. to tighten timeouts
// in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = c
	}
}

// WithVoice sets the voice used when a call does not name one.
func WithVoice(voice string) Option {
	return func(e *Engine) {
		e.voice = voice
	}
}

// WithLanguage sets the language used when a call does not name one.
// Defaults to "it".
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		e.language = lang
	}
}

// Engine implements tts.Engine against an XTTS-compatible server. It holds
// no per-call state; one instance serves all jobs of a worker process.
type Engine struct {
	serverURL  string
	voice      string
	language   string
	httpClient *http.Client
}

// New creates an Engine that connects to the synthesis server at serverURL
// (e.g. "http://localhost:8020"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("xtts: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name identifies this backend in logs and artifact metadata.
func (e *Engine) Name() string { return "xtts" }

// ttsRequest is the JSON body sent to POST /api/tts.
type ttsRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// Synthesize renders text into one clip via a single server call.
func (e *Engine) Synthesize(ctx context.Context, text string, params tts.Params) (*tts.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.Errorf(types.KindValidation, "xtts: empty text")
	}

	body := ttsRequest{
		Text:     text,
		Voice:    params.Voice,
		Language: params.Language,
		Speed:    params.Speed,
	}
	if body.Voice == "" {
		body.Voice = e.voice
	}
	if body.Language == "" {
		body.Language = e.language
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("xtts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xtts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		return nil, types.Errorf(types.KindTransient, "xtts: http request: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.Errorf(types.KindTransient, "xtts: server returned HTTP %d", resp.StatusCode)
	default:
		return nil, types.Errorf(types.KindExternal, "xtts: server returned HTTP %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		return nil, types.Errorf(types.KindTransient, "xtts: read response: %v", err)
	}

	pcm, info, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, types.Errorf(types.KindExternal, "xtts: bad WAV response: %v", err)
	}
	return &tts.Clip{
		PCM:        pcm,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}, nil
}
