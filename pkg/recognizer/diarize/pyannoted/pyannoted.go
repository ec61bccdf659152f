// Package pyannoted provides a diarize.Diarizer backed by a pyannote-style
// diarization gateway.
//
// The gateway runs the GPU pipeline out of process: the recognizer submits
// the recording with POST /v1/jobs (multipart WAV plus speaker-count policy
// fields), then subscribes to the job's WebSocket event stream at
// /v1/jobs/{id}/events. The stream carries JSON envelopes of three types:
//
//	{"type": "progress", "pct": 0.4}
//	{"type": "result",   "result": {speakers, segments, embeddings}}
//	{"type": "error",    "message": "...", "retriable": false}
//
// Progress envelopes are forwarded to the stage progress callback; the
// result envelope terminates the stream.
package pyannoted

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/aulavox/aulavox/pkg/audio"
	"github.com/aulavox/aulavox/pkg/recognizer/diarize"
	"github.com/aulavox/aulavox/pkg/types"
)

const defaultSubmitTimeout = 2 * time.Minute

// Compile-time assertion that Diarizer implements diarize.Diarizer.
var _ diarize.Diarizer = (*Diarizer)(nil)

// Option is a functional option for configuring a Diarizer.
type Option func(*Diarizer)

// WithHTTPClient replaces the HTTP client used for job submission.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Diarizer) {
		d.httpClient = c
	}
}

// WithAuthToken sets a bearer token attached to the submission request and
// the WebSocket handshake.
func WithAuthToken(token string) Option {
	return func(d *Diarizer) {
		d.authToken = token
	}
}

// Diarizer implements diarize.Diarizer against a diarization gateway.
type Diarizer struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a Diarizer for the gateway at baseURL (e.g.
// "http://localhost:9090"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Diarizer, error) {
	if baseURL == "" {
		return nil, errors.New("pyannoted: baseURL must not be empty")
	}
	d := &Diarizer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultSubmitTimeout},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Name identifies this backend in logs and job metadata.
func (d *Diarizer) Name() string { return "pyannoted" }

// Diarize submits the recording and follows the job's event stream until a
// result or error envelope arrives.
func (d *Diarizer) Diarize(ctx context.Context, in diarize.Audio, cfg diarize.Config, progress diarize.ProgressFunc) (*types.DiarizationResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, types.WithKind(types.KindConfiguration, err)
	}
	if len(in.PCM) == 0 {
		return nil, types.Errorf(types.KindValidation, "pyannoted: empty audio for %q", in.Ref)
	}

	start := time.Now()

	jobID, err := d.submit(ctx, in, cfg)
	if err != nil {
		return nil, err
	}

	payload, err := d.follow(ctx, jobID, progress)
	if err != nil {
		return nil, err
	}

	result := &types.DiarizationResult{
		SpeakerCount:      payload.Speakers,
		Embeddings:        payload.Embeddings,
		Model:             cfg.Model,
		ProcessingTimeSec: time.Since(start).Seconds(),
	}
	for _, seg := range payload.Segments {
		if seg.End <= seg.Start {
			continue
		}
		result.Segments = append(result.Segments, types.SpeakerSegment{
			Start:      seg.Start,
			End:        seg.End,
			SpeakerID:  seg.Speaker,
			Confidence: seg.Confidence,
		})
	}
	if result.SpeakerCount == 0 {
		result.SpeakerCount = len(result.Embeddings)
	}
	result.Roles = diarize.AssignRoles(result.Segments)
	result.SeparationQuality = diarize.SeparationQuality(result.Embeddings)

	if progress != nil {
		progress(1.0)
	}
	return result, nil
}

// submit uploads the recording as multipart WAV and returns the gateway job id.
func (d *Diarizer) submit(ctx context.Context, in diarize.Audio, cfg diarize.Config) (string, error) {
	wav := audio.EncodeWAV(in.PCM, in.SampleRate, in.Channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("pyannoted: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("pyannoted: write wav data: %w", err)
	}

	fields := map[string]string{}
	if cfg.KnownCount > 0 {
		fields["num_speakers"] = strconv.Itoa(cfg.KnownCount)
	}
	if cfg.MinSpeakers > 0 {
		fields["min_speakers"] = strconv.Itoa(cfg.MinSpeakers)
	}
	if cfg.MaxSpeakers > 0 {
		fields["max_speakers"] = strconv.Itoa(cfg.MaxSpeakers)
	}
	if cfg.Model != "" {
		fields["model"] = cfg.Model
	}
	fields["embeddings"] = "true"
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("pyannoted: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("pyannoted: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/jobs", &body)
	if err != nil {
		return "", fmt.Errorf("pyannoted: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if d.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.authToken)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", types.ErrCancelled
		}
		return "", types.Errorf(types.KindTransient, "pyannoted: submit job: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated ||
		resp.StatusCode == http.StatusAccepted:
		// fall through to decode
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", types.Errorf(types.KindTransient, "pyannoted: gateway returned HTTP %d", resp.StatusCode)
	default:
		return "", types.Errorf(types.KindExternal, "pyannoted: gateway returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.Errorf(types.KindTransient, "pyannoted: read submit response: %v", err)
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", types.Errorf(types.KindExternal, "pyannoted: parse submit response: %v", err)
	}
	if out.JobID == "" {
		return "", types.Errorf(types.KindExternal, "pyannoted: gateway returned no job_id")
	}
	return out.JobID, nil
}

// eventEnvelope is one message of the job event stream.
type eventEnvelope struct {
	Type      string         `json:"type"`
	Pct       float64        `json:"pct"`
	Message   string         `json:"message"`
	Retriable bool           `json:"retriable"`
	Result    *resultPayload `json:"result"`
}

// resultPayload is the terminal payload of a successful diarization job.
type resultPayload struct {
	Speakers int `json:"speakers"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Speaker    string  `json:"speaker"`
		Confidence float64 `json:"confidence"`
	} `json:"segments"`
	Embeddings map[string][]float32 `json:"embeddings"`
}

// follow subscribes to the job's event stream and blocks until a terminal
// envelope arrives. Progress envelopes are forwarded along the way.
func (d *Diarizer) follow(ctx context.Context, jobID string, progress diarize.ProgressFunc) (*resultPayload, error) {
	wsURL := httpToWS(d.baseURL) + "/v1/jobs/" + jobID + "/events"

	headers := http.Header{}
	if d.authToken != "" {
		headers.Set("Authorization", "Bearer "+d.authToken)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		return nil, types.Errorf(types.KindTransient, "pyannoted: dial event stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Diarization of a long lecture produces hours of silence on the wire
	// between progress ticks; the read limit only bounds message size.
	conn.SetReadLimit(16 << 20)

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, types.ErrCancelled
			}
			return nil, types.Errorf(types.KindTransient, "pyannoted: event stream closed: %v", err)
		}

		var env eventEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue // tolerate unknown frames
		}

		switch env.Type {
		case "progress":
			if progress != nil && env.Pct >= 0 {
				pct := env.Pct
				if pct > 1 {
					pct /= 100
				}
				progress(min(pct, 1.0))
			}
		case "result":
			if env.Result == nil {
				return nil, types.Errorf(types.KindExternal, "pyannoted: result envelope without payload")
			}
			return env.Result, nil
		case "error":
			kind := types.KindExternal
			if env.Retriable {
				kind = types.KindTransient
			}
			return nil, types.Errorf(kind, "pyannoted: gateway job failed: %s", env.Message)
		}
	}
}

// httpToWS converts an http(s) base URL to its ws(s) equivalent.
func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
