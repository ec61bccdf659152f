package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// ResultStore — stage completions and typed result rows
// ─────────────────────────────────────────────────────────────────────────────

// AdvanceStage implements [store.ResultStore]. Completion marker, typed
// result row, job bookkeeping and the class session transition commit or roll
// back together.
func (s *Store) AdvanceStage(ctx context.Context, adv store.StageAdvance) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("results: advance stage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if adv.Overwrite {
		const q = `
			INSERT INTO stage_completions (job_id, stage, completed_at)
			VALUES ($1, $2, now())
			ON CONFLICT (job_id, stage) DO UPDATE SET completed_at = now()`
		if _, err := tx.Exec(ctx, q, adv.JobID, string(adv.Stage)); err != nil {
			return fmt.Errorf("results: advance stage: completion: %w", err)
		}
	} else {
		const q = `
			INSERT INTO stage_completions (job_id, stage, completed_at)
			VALUES ($1, $2, now())
			ON CONFLICT (job_id, stage) DO NOTHING`
		tag, err := tx.Exec(ctx, q, adv.JobID, string(adv.Stage))
		if err != nil {
			return fmt.Errorf("results: advance stage: completion: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("results: advance stage %s/%s: %w", adv.JobID, adv.Stage, store.ErrStageCompleted)
		}
	}

	switch r := adv.Result.(type) {
	case nil:
		// Research and export persist their rows incrementally.
	case *types.TranscriptionResult:
		err = upsertTranscription(ctx, tx, r)
	case *types.DiarizationResult:
		err = upsertDiarization(ctx, tx, r)
	case *types.PostProcessingResult:
		err = upsertPostProcessing(ctx, tx, r)
	case *types.LLMAnalysisResult:
		err = upsertLLMAnalysis(ctx, tx, r)
	default:
		err = fmt.Errorf("unsupported result type %T", adv.Result)
	}
	if err != nil {
		return fmt.Errorf("results: advance stage: %w", err)
	}

	jobUpdate := `
		UPDATE processing_jobs
		SET    current_stage = $2,
		       progress_pct  = GREATEST(progress_pct, $3),
		       updated_at    = now()
		WHERE  id = $1`
	if adv.FinishJob {
		jobUpdate = `
		UPDATE processing_jobs
		SET    state         = 'DONE',
		       current_stage = $2,
		       progress_pct  = GREATEST(progress_pct, $3),
		       finished_at   = now(),
		       updated_at    = now()
		WHERE  id = $1`
	}
	tag, err := tx.Exec(ctx, jobUpdate, adv.JobID, string(adv.Stage), adv.JobProgress)
	if err != nil {
		return fmt.Errorf("results: advance stage: job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("results: advance stage: job %s: %w", adv.JobID, store.ErrNotFound)
	}

	const qSession = `
		UPDATE class_sessions
		SET    pipeline_state = $3,
		       updated_at     = now()
		WHERE  id = $1 AND pipeline_state = $2`
	from := adv.Stage.State()
	tag, err = tx.Exec(ctx, qSession, adv.ClassSessionID, string(from), string(adv.SessionState))
	if err != nil {
		return fmt.Errorf("results: advance stage: session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("results: advance stage: session %s from %s to %s: %w",
			adv.ClassSessionID, from, adv.SessionState, store.ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("results: advance stage: commit: %w", err)
	}
	return nil
}

// HasStageCompletion implements [store.ResultStore].
func (s *Store) HasStageCompletion(ctx context.Context, jobID string, stage types.Stage) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM stage_completions WHERE job_id = $1 AND stage = $2)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, jobID, string(stage)).Scan(&exists); err != nil {
		return false, fmt.Errorf("results: has completion: %w", err)
	}
	return exists, nil
}

func upsertTranscription(ctx context.Context, tx pgx.Tx, r *types.TranscriptionResult) error {
	segments, err := json.Marshal(r.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	words, err := json.Marshal(r.Words)
	if err != nil {
		return fmt.Errorf("marshal words: %w", err)
	}

	const q = `
		INSERT INTO transcriptions
		    (job_id, class_session_id, text, segments, words, language, confidence,
		     audio_duration_sec, model, processing_time_sec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (job_id) DO UPDATE SET
		    text                = EXCLUDED.text,
		    segments            = EXCLUDED.segments,
		    words               = EXCLUDED.words,
		    language            = EXCLUDED.language,
		    confidence          = EXCLUDED.confidence,
		    audio_duration_sec  = EXCLUDED.audio_duration_sec,
		    model               = EXCLUDED.model,
		    processing_time_sec = EXCLUDED.processing_time_sec,
		    created_at          = now()`

	_, err = tx.Exec(ctx, q,
		r.JobID, r.ClassSessionID, r.Text, segments, words,
		r.Language, r.Confidence, r.AudioDurationSec, r.Model, r.ProcessingTimeSec,
	)
	if err != nil {
		return fmt.Errorf("upsert transcription: %w", err)
	}

	// The session's audio duration is known once ASR has measured it.
	const qDur = `
		UPDATE class_sessions
		SET    audio_duration_sec = $2, updated_at = now()
		WHERE  id = $1`
	if _, err := tx.Exec(ctx, qDur, r.ClassSessionID, r.AudioDurationSec); err != nil {
		return fmt.Errorf("upsert transcription: session duration: %w", err)
	}
	return nil
}

func upsertDiarization(ctx context.Context, tx pgx.Tx, r *types.DiarizationResult) error {
	segments, err := json.Marshal(r.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	embeddings, err := json.Marshal(r.Embeddings)
	if err != nil {
		return fmt.Errorf("marshal embeddings: %w", err)
	}
	roles, err := json.Marshal(r.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}

	const q = `
		INSERT INTO diarizations
		    (job_id, class_session_id, speaker_count, segments, embeddings, roles,
		     separation_quality, matched_lecturer_id, model, processing_time_sec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (job_id) DO UPDATE SET
		    speaker_count       = EXCLUDED.speaker_count,
		    segments            = EXCLUDED.segments,
		    embeddings          = EXCLUDED.embeddings,
		    roles               = EXCLUDED.roles,
		    separation_quality  = EXCLUDED.separation_quality,
		    matched_lecturer_id = EXCLUDED.matched_lecturer_id,
		    model               = EXCLUDED.model,
		    processing_time_sec = EXCLUDED.processing_time_sec,
		    created_at          = now()`

	_, err = tx.Exec(ctx, q,
		r.JobID, r.ClassSessionID, r.SpeakerCount, segments, embeddings, roles,
		r.SeparationQuality, r.MatchedLecturerID, r.Model, r.ProcessingTimeSec,
	)
	if err != nil {
		return fmt.Errorf("upsert diarization: %w", err)
	}

	if r.MatchedLecturerID != "" {
		const qLect = `
			UPDATE class_sessions
			SET    lecturer_id = $2, updated_at = now()
			WHERE  id = $1 AND lecturer_id = ''`
		if _, err := tx.Exec(ctx, qLect, r.ClassSessionID, r.MatchedLecturerID); err != nil {
			return fmt.Errorf("upsert diarization: session lecturer: %w", err)
		}
	}
	return nil
}

func upsertPostProcessing(ctx context.Context, tx pgx.Tx, r *types.PostProcessingResult) error {
	corrections, err := json.Marshal(r.Corrections)
	if err != nil {
		return fmt.Errorf("marshal corrections: %w", err)
	}
	entities, err := json.Marshal(r.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	glossary, err := json.Marshal(r.Glossary)
	if err != nil {
		return fmt.Errorf("marshal glossary: %w", err)
	}
	activities, err := json.Marshal(r.Activities)
	if err != nil {
		return fmt.Errorf("marshal activities: %w", err)
	}

	const q = `
		INSERT INTO postprocessings
		    (job_id, class_session_id, corrected_text, corrections, entities,
		     glossary, activities, processing_time_sec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (job_id) DO UPDATE SET
		    corrected_text      = EXCLUDED.corrected_text,
		    corrections         = EXCLUDED.corrections,
		    entities            = EXCLUDED.entities,
		    glossary            = EXCLUDED.glossary,
		    activities          = EXCLUDED.activities,
		    processing_time_sec = EXCLUDED.processing_time_sec,
		    created_at          = now()`

	_, err = tx.Exec(ctx, q,
		r.JobID, r.ClassSessionID, r.CorrectedText, corrections, entities,
		glossary, activities, r.ProcessingTimeSec,
	)
	if err != nil {
		return fmt.Errorf("upsert postprocessing: %w", err)
	}
	return nil
}

func upsertLLMAnalysis(ctx context.Context, tx pgx.Tx, r *types.LLMAnalysisResult) error {
	concepts, err := json.Marshal(r.KeyConcepts)
	if err != nil {
		return fmt.Errorf("marshal key concepts: %w", err)
	}
	structure, err := json.Marshal(r.Structure)
	if err != nil {
		return fmt.Errorf("marshal structure: %w", err)
	}
	terminology, err := json.Marshal(r.Terminology)
	if err != nil {
		return fmt.Errorf("marshal terminology: %w", err)
	}
	moments, err := json.Marshal(r.KeyMoments)
	if err != nil {
		return fmt.Errorf("marshal key moments: %w", err)
	}
	quality, err := json.Marshal(r.Quality)
	if err != nil {
		return fmt.Errorf("marshal quality: %w", err)
	}

	const q = `
		INSERT INTO llm_analyses
		    (job_id, class_session_id, summary, key_concepts, structure, terminology,
		     key_moments, quality, needs_review, model, processing_time_sec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (job_id) DO UPDATE SET
		    summary             = EXCLUDED.summary,
		    key_concepts        = EXCLUDED.key_concepts,
		    structure           = EXCLUDED.structure,
		    terminology         = EXCLUDED.terminology,
		    key_moments         = EXCLUDED.key_moments,
		    quality             = EXCLUDED.quality,
		    needs_review        = EXCLUDED.needs_review,
		    model               = EXCLUDED.model,
		    processing_time_sec = EXCLUDED.processing_time_sec,
		    created_at          = now()`

	_, err = tx.Exec(ctx, q,
		r.JobID, r.ClassSessionID, r.Summary, concepts, structure, terminology,
		moments, quality, r.NeedsReview, r.Model, r.ProcessingTimeSec,
	)
	if err != nil {
		return fmt.Errorf("upsert llm analysis: %w", err)
	}
	return nil
}

// GetTranscription implements [store.ResultStore].
func (s *Store) GetTranscription(ctx context.Context, jobID string) (*types.TranscriptionResult, error) {
	const q = `
		SELECT job_id, class_session_id, text, segments, words, language, confidence,
		       audio_duration_sec, model, processing_time_sec, created_at
		FROM   transcriptions
		WHERE  job_id = $1`

	var (
		r        types.TranscriptionResult
		segments []byte
		words    []byte
	)
	err := s.pool.QueryRow(ctx, q, jobID).Scan(
		&r.JobID, &r.ClassSessionID, &r.Text, &segments, &words, &r.Language,
		&r.Confidence, &r.AudioDurationSec, &r.Model, &r.ProcessingTimeSec, &r.CreatedAt,
	)
	if err != nil {
		return nil, resultErr("transcription", jobID, err)
	}
	if err := json.Unmarshal(segments, &r.Segments); err != nil {
		return nil, fmt.Errorf("results: decode transcription segments: %w", err)
	}
	if err := json.Unmarshal(words, &r.Words); err != nil {
		return nil, fmt.Errorf("results: decode transcription words: %w", err)
	}
	return &r, nil
}

// GetDiarization implements [store.ResultStore].
func (s *Store) GetDiarization(ctx context.Context, jobID string) (*types.DiarizationResult, error) {
	const q = `
		SELECT job_id, class_session_id, speaker_count, segments, embeddings, roles,
		       separation_quality, matched_lecturer_id, model, processing_time_sec, created_at
		FROM   diarizations
		WHERE  job_id = $1`

	var (
		r          types.DiarizationResult
		segments   []byte
		embeddings []byte
		roles      []byte
	)
	err := s.pool.QueryRow(ctx, q, jobID).Scan(
		&r.JobID, &r.ClassSessionID, &r.SpeakerCount, &segments, &embeddings, &roles,
		&r.SeparationQuality, &r.MatchedLecturerID, &r.Model, &r.ProcessingTimeSec, &r.CreatedAt,
	)
	if err != nil {
		return nil, resultErr("diarization", jobID, err)
	}
	if err := json.Unmarshal(segments, &r.Segments); err != nil {
		return nil, fmt.Errorf("results: decode diarization segments: %w", err)
	}
	if err := json.Unmarshal(embeddings, &r.Embeddings); err != nil {
		return nil, fmt.Errorf("results: decode diarization embeddings: %w", err)
	}
	if err := json.Unmarshal(roles, &r.Roles); err != nil {
		return nil, fmt.Errorf("results: decode diarization roles: %w", err)
	}
	return &r, nil
}

// GetPostProcessing implements [store.ResultStore].
func (s *Store) GetPostProcessing(ctx context.Context, jobID string) (*types.PostProcessingResult, error) {
	const q = `
		SELECT job_id, class_session_id, corrected_text, corrections, entities,
		       glossary, activities, processing_time_sec, created_at
		FROM   postprocessings
		WHERE  job_id = $1`

	var (
		r           types.PostProcessingResult
		corrections []byte
		entities    []byte
		glossary    []byte
		activities  []byte
	)
	err := s.pool.QueryRow(ctx, q, jobID).Scan(
		&r.JobID, &r.ClassSessionID, &r.CorrectedText, &corrections, &entities,
		&glossary, &activities, &r.ProcessingTimeSec, &r.CreatedAt,
	)
	if err != nil {
		return nil, resultErr("postprocessing", jobID, err)
	}
	if err := json.Unmarshal(corrections, &r.Corrections); err != nil {
		return nil, fmt.Errorf("results: decode corrections: %w", err)
	}
	if err := json.Unmarshal(entities, &r.Entities); err != nil {
		return nil, fmt.Errorf("results: decode entities: %w", err)
	}
	if err := json.Unmarshal(glossary, &r.Glossary); err != nil {
		return nil, fmt.Errorf("results: decode glossary: %w", err)
	}
	if err := json.Unmarshal(activities, &r.Activities); err != nil {
		return nil, fmt.Errorf("results: decode activities: %w", err)
	}
	return &r, nil
}

// GetLLMAnalysis implements [store.ResultStore].
func (s *Store) GetLLMAnalysis(ctx context.Context, jobID string) (*types.LLMAnalysisResult, error) {
	const q = `
		SELECT job_id, class_session_id, summary, key_concepts, structure, terminology,
		       key_moments, quality, needs_review, model, processing_time_sec, created_at
		FROM   llm_analyses
		WHERE  job_id = $1`

	var (
		r           types.LLMAnalysisResult
		concepts    []byte
		structure   []byte
		terminology []byte
		moments     []byte
		quality     []byte
	)
	err := s.pool.QueryRow(ctx, q, jobID).Scan(
		&r.JobID, &r.ClassSessionID, &r.Summary, &concepts, &structure, &terminology,
		&moments, &quality, &r.NeedsReview, &r.Model, &r.ProcessingTimeSec, &r.CreatedAt,
	)
	if err != nil {
		return nil, resultErr("llm analysis", jobID, err)
	}
	if err := json.Unmarshal(concepts, &r.KeyConcepts); err != nil {
		return nil, fmt.Errorf("results: decode key concepts: %w", err)
	}
	if err := json.Unmarshal(structure, &r.Structure); err != nil {
		return nil, fmt.Errorf("results: decode structure: %w", err)
	}
	if err := json.Unmarshal(terminology, &r.Terminology); err != nil {
		return nil, fmt.Errorf("results: decode terminology: %w", err)
	}
	if err := json.Unmarshal(moments, &r.KeyMoments); err != nil {
		return nil, fmt.Errorf("results: decode key moments: %w", err)
	}
	if err := json.Unmarshal(quality, &r.Quality); err != nil {
		return nil, fmt.Errorf("results: decode quality: %w", err)
	}
	return &r, nil
}

func resultErr(kind, jobID string, err error) error {
	if isNoRows(err) {
		return fmt.Errorf("results: get %s for job %s: %w", kind, jobID, store.ErrNotFound)
	}
	return fmt.Errorf("results: get %s: %w", kind, err)
}
