package medlex

import (
	"strings"

	"github.com/aulavox/aulavox/pkg/types"
)

// activityPattern binds one pedagogical activity to the keyword patterns
// that vote for it. Patterns are matched as substrings of the lowercased
// segment text; each occurrence counts one hit. Order matters: when two
// activities tie on hits, the one declared earlier wins.
type activityPattern struct {
	activity types.Activity
	patterns []string
}

// activityPatterns are tuned for Italian-language medical lectures.
var activityPatterns = []activityPattern{
	{types.ActivityIntro, []string{
		"buongiorno", "benvenut", "oggi parleremo", "oggi parliamo",
		"oggi vedremo", "iniziamo", "cominciamo", "argomento di oggi",
		"lezione di oggi", "prima di iniziare",
	}},
	{types.ActivityExplanation, []string{
		"si definisce", "si intende", "si tratta di", "e caratterizzato",
		"e caratterizzata", "in altre parole", "dal punto di vista",
		"il meccanismo", "la funzione", "la fisiopatologia", "vale a dire",
		"per esempio", "ad esempio",
	}},
	{types.ActivityQuestion, []string{
		"?", "domanda", "chi sa", "qualcuno sa", "chi mi sa dire",
		"cosa succede se", "come mai", "secondo voi",
	}},
	{types.ActivityAnswer, []string{
		"esatto", "corretto", "la risposta", "proprio cosi", "appunto",
		"infatti", "non proprio",
	}},
	{types.ActivityInteraction, []string{
		"proviamo insieme", "discutiamo", "discutiamone", "confrontatevi",
		"lavorate", "alzi la mano", "alzate la mano", "a coppie",
		"in gruppo",
	}},
	{types.ActivitySummary, []string{
		"ricapitolando", "riassumendo", "in sintesi", "per riassumere",
		"abbiamo visto che", "i punti chiave", "i concetti chiave",
		"quindi ricordate",
	}},
	{types.ActivityClosing, []string{
		"alla prossima", "abbiamo finito", "concludiamo", "per oggi e tutto",
		"ci vediamo", "grazie per l attenzione", "grazie a tutti",
		"buono studio", "arrivederci",
	}},
}

// speakerSignals holds the diarization-derived hits added to the keyword
// scores of a span: a span dominated by a non-professor voice votes for
// question, a span with several voices votes for interaction.
type speakerSignals struct {
	question    int
	interaction int
}

// segment classifies each transcript segment by keyword-pattern scoring and
// merges adjacent spans of the same activity. Spans with no hits default to
// explanation, the bulk activity of a lecture.
func segment(segments []types.TranscriptSegment, diarization *types.DiarizationResult) []types.ActivitySegment {
	if len(segments) == 0 {
		return nil
	}

	var out []types.ActivitySegment
	for _, seg := range segments {
		activity, score := classify(seg, diarization)

		if n := len(out); n > 0 && out[n-1].Activity == activity {
			prev := &out[n-1]
			prevDur := prev.End - prev.Start
			segDur := seg.End - seg.Start
			if total := prevDur + segDur; total > 0 {
				prev.Score = (prev.Score*prevDur + score*segDur) / total
			}
			prev.End = seg.End
			continue
		}
		out = append(out, types.ActivitySegment{
			Start:    seg.Start,
			End:      seg.End,
			Activity: activity,
			Score:    score,
		})
	}
	return out
}

// classify scores one transcript segment against every activity pattern
// list plus the speaker signals. The score is the winner's share of all
// hits, so an uncontested single hit scores 1.0.
func classify(seg types.TranscriptSegment, diarization *types.DiarizationResult) (types.Activity, float64) {
	text := normFolder.Replace(strings.ToLower(seg.Text))
	signals := signalsFor(seg, diarization)

	hits := make([]int, len(activityPatterns))
	total := 0
	for i, ap := range activityPatterns {
		for _, p := range ap.patterns {
			hits[i] += strings.Count(text, p)
		}
		switch ap.activity {
		case types.ActivityQuestion:
			hits[i] += signals.question
		case types.ActivityInteraction:
			hits[i] += signals.interaction
		}
		total += hits[i]
	}

	if total == 0 {
		return types.ActivityExplanation, 0
	}

	winner := 0
	for i := 1; i < len(hits); i++ {
		if hits[i] > hits[winner] {
			winner = i
		}
	}
	return activityPatterns[winner].activity, float64(hits[winner]) / float64(total)
}

// signalsFor derives speaker signals for the span [seg.Start, seg.End) from
// the diarization: overlap dominated by a voice other than the professor
// suggests a student question, two or more overlapping voices suggest an
// exchange.
func signalsFor(seg types.TranscriptSegment, diarization *types.DiarizationResult) speakerSignals {
	if diarization == nil || len(diarization.Segments) == 0 {
		return speakerSignals{}
	}

	overlap := make(map[string]float64)
	for _, sp := range diarization.Segments {
		start := max(seg.Start, sp.Start)
		end := min(seg.End, sp.End)
		if end > start {
			overlap[sp.SpeakerID] += end - start
		}
	}
	if len(overlap) == 0 {
		return speakerSignals{}
	}

	var signals speakerSignals
	if len(overlap) >= 2 {
		signals.interaction = 1
	}

	dominant := ""
	for id, d := range overlap {
		if dominant == "" || d > overlap[dominant] || (d == overlap[dominant] && id < dominant) {
			dominant = id
		}
	}
	if dominant != diarization.Roles.Professor {
		signals.question = 1
	}
	return signals
}
