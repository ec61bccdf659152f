// Package types defines the shared domain model of the aulavox processing
// pipeline: class sessions, chunked upload sessions, processing jobs, the
// typed result rows each pipeline stage produces, and the error-kind
// classification used to drive retry decisions.
//
// The types here are deliberately free of behaviour beyond validation and
// small derivations; persistence lives in pkg/store and orchestration in
// internal/pipeline.
package types

import (
	"time"
)

// PipelineState is the position of a ClassSession in the processing pipeline.
// States advance strictly in the declared order; ERROR is a terminal sink
// reachable from any non-terminal state and DONE is terminal.
type PipelineState string

const (
	StateUploaded    PipelineState = "UPLOADED"
	StateASR         PipelineState = "ASR"
	StateDiarization PipelineState = "DIARIZATION"
	StatePostprocess PipelineState = "POSTPROCESS"
	StateNLP         PipelineState = "NLP"
	StateResearch    PipelineState = "RESEARCH"
	StateExport      PipelineState = "EXPORT"
	StateDone        PipelineState = "DONE"
	StateError       PipelineState = "ERROR"
)

// pipelineOrder lists the non-error states in their mandatory order.
var pipelineOrder = []PipelineState{
	StateUploaded,
	StateASR,
	StateDiarization,
	StatePostprocess,
	StateNLP,
	StateResearch,
	StateExport,
	StateDone,
}

// Index returns the position of s in the pipeline order, or -1 when s is
// ERROR or unknown. Monotonicity checks compare indices.
func (s PipelineState) Index() int {
	for i, st := range pipelineOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValid reports whether s is one of the declared pipeline states.
func (s PipelineState) IsValid() bool {
	return s == StateError || s.Index() >= 0
}

// Terminal reports whether no further transitions may leave s.
func (s PipelineState) Terminal() bool {
	return s == StateDone || s == StateError
}

// Next returns the state that follows s in the pipeline order. ok is false
// for terminal or unknown states.
func (s PipelineState) Next() (next PipelineState, ok bool) {
	i := s.Index()
	if i < 0 || i == len(pipelineOrder)-1 {
		return "", false
	}
	return pipelineOrder[i+1], true
}

// CanTransitionTo reports whether a ClassSession in state s may move to
// target: either the single next state in order, or ERROR from any
// non-terminal state.
func (s PipelineState) CanTransitionTo(target PipelineState) bool {
	if s.Terminal() {
		return false
	}
	if target == StateError {
		return true
	}
	next, ok := s.Next()
	return ok && target == next
}

// Stage identifies one worker-backed processing phase. Stages map one-to-one
// onto the pipeline states that have workers; UPLOADED, DONE and ERROR have
// none.
type Stage string

const (
	StageASR         Stage = "asr"
	StageDiarization Stage = "diarization"
	StagePostprocess Stage = "postprocess"
	StageNLP         Stage = "nlp"
	StageResearch    Stage = "research"
	StageExport      Stage = "export"
)

// StageOrder lists the stages in execution order.
var StageOrder = []Stage{
	StageASR,
	StageDiarization,
	StagePostprocess,
	StageNLP,
	StageResearch,
	StageExport,
}

// stageCeilings maps each stage to the nominal overall job progress (percent)
// reached when the stage completes.
var stageCeilings = map[Stage]float64{
	StageASR:         20,
	StageDiarization: 35,
	StagePostprocess: 50,
	StageNLP:         65,
	StageResearch:    85,
	StageExport:      100,
}

// IsValid reports whether st is a declared stage.
func (st Stage) IsValid() bool {
	_, ok := stageCeilings[st]
	return ok
}

// State returns the pipeline state a ClassSession occupies while st runs.
func (st Stage) State() PipelineState {
	switch st {
	case StageASR:
		return StateASR
	case StageDiarization:
		return StateDiarization
	case StagePostprocess:
		return StatePostprocess
	case StageNLP:
		return StateNLP
	case StageResearch:
		return StateResearch
	case StageExport:
		return StateExport
	}
	return StateError
}

// Next returns the stage that follows st. ok is false after the last stage.
func (st Stage) Next() (next Stage, ok bool) {
	for i, s := range StageOrder {
		if s == st && i < len(StageOrder)-1 {
			return StageOrder[i+1], true
		}
	}
	return "", false
}

// ProgressCeiling returns the nominal overall job progress percentage
// associated with completing st.
func (st Stage) ProgressCeiling() float64 {
	return stageCeilings[st]
}

// ClassSession is the logical unit representing one recorded lecture. It owns
// its upload sessions, processing jobs and stage results; deleting a session
// cascades to all of them.
type ClassSession struct {
	ID           string
	Date         time.Time
	Subject      string
	Topic        string
	LecturerName string
	// LecturerID references an enrolled lecturer when known. It may be set
	// manually at creation or filled in after diarization by voiceprint
	// matching.
	LecturerID string
	// Language is the expected lecture language as a BCP-47 code ("it" by
	// default); recognizers may override it with the detected language.
	Language string

	// AudioURL is set once chunk assembly has produced the immutable
	// recording object. Non-empty iff the session has reached ASR.
	AudioURL string
	// AudioDurationSec is set from the transcription result, so it is
	// non-zero only after ASR completed successfully.
	AudioDurationSec float64

	PipelineState PipelineState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lecturer is an enrolled teaching voice that diarization results can be
// matched against.
type Lecturer struct {
	ID   string
	Name string
}

// JobState describes the lifecycle of a ProcessingJob.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobRunning   JobState = "RUNNING"
	JobDone      JobState = "DONE"
	JobError     JobState = "ERROR"
	JobCancelled JobState = "CANCELLED"
	JobPaused    JobState = "PAUSED"
)

// Terminal reports whether the job state admits no further transitions.
// CANCELLED is terminal; ERROR permits an explicit retry which resets the
// job rather than transitioning it.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobCancelled
}

// JobKind selects which part of the pipeline a ProcessingJob runs.
type JobKind string

const (
	KindFull                 JobKind = "FULL"
	KindASROnly              JobKind = "ASR_ONLY"
	KindDiarizationOnly      JobKind = "DIARIZATION_ONLY"
	KindReprocessASR         JobKind = "REPROCESS_ASR"
	KindReprocessDiarization JobKind = "REPROCESS_DIARIZATION"
)

// StartStage returns the first stage the kind executes.
func (k JobKind) StartStage() Stage {
	switch k {
	case KindDiarizationOnly, KindReprocessDiarization:
		return StageDiarization
	default:
		return StageASR
	}
}

// FinalStage returns the last stage the kind executes. For single-stage kinds
// the job finishes after that stage without advancing the class session
// further.
func (k JobKind) FinalStage() Stage {
	switch k {
	case KindASROnly, KindReprocessASR:
		return StageASR
	case KindDiarizationOnly, KindReprocessDiarization:
		return StageDiarization
	default:
		return StageExport
	}
}

// Reprocess reports whether the kind restarts the state machine from its
// start stage, overwriting that stage's existing result row.
func (k JobKind) Reprocess() bool {
	return k == KindReprocessASR || k == KindReprocessDiarization
}

// IsValid reports whether k is a declared job kind.
func (k JobKind) IsValid() bool {
	switch k {
	case KindFull, KindASROnly, KindDiarizationOnly, KindReprocessASR, KindReprocessDiarization:
		return true
	}
	return false
}

// ProcessingJob coordinates one pipeline run over a ClassSession. Stage
// results reference the job; the job never holds references back to them.
type ProcessingJob struct {
	ID             string
	ClassSessionID string
	Kind           JobKind
	Priority       int

	State        JobState
	CurrentStage Stage
	// ProgressPct is the overall job progress in [0,100]. It is monotonic
	// within a (job, stage) pair and only resets on stage rollback.
	ProgressPct float64

	StartedAt  *time.Time
	FinishedAt *time.Time

	// RetryCount counts pipeline-level retries across the whole run. Once it
	// exceeds MaxRetries the job fails terminally.
	RetryCount int
	MaxRetries int

	// DeviceUsed records the compute device of the worker that served the
	// current stage ("cpu", "cuda:0", ...). Informational.
	DeviceUsed  string
	QueueTaskID string

	LastError    string
	ErrorDetails map[string]any
	Warnings     []string

	// Preset names the pipeline preset (e.g. "MEDICAL_BALANCED") resolved to
	// per-stage recognizer configs at dispatch time.
	Preset string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobStatus is the external projection of a job served by the status API.
type JobStatus struct {
	JobID        string
	State        JobState
	CurrentStage Stage
	ProgressPct  float64
	ETASeconds   float64
	LastError    string
	Warnings     []string
}
