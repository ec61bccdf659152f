package llmdriven

import (
	"fmt"
	"strings"

	"github.com/aulavox/aulavox/pkg/types"
)

// systemPromptTemplate is the base system prompt for the structured analysis
// call. Formatted with the output language code and the list caps.
const systemPromptTemplate = `You are an analysis assistant for recorded university lectures in medicine.

Your task: derive the didactic view of the lecture from the transcript provided by the user.

Rules:
- Use ONLY information present in the transcript. Do not invent content, names or numbers.
- Write the summary, section titles and key-moment titles in the language with ISO 639-1 code %q.
- Keep medical terms in their original form; do not translate them inside the summary.
- Timestamps are seconds from the start of the recording. Derive them from the activity outline and transcript context; when unsure, omit the moment rather than guessing.
- List at most %d key concepts and at most %d key moments, most important first.
- For every terminology entry provide the Italian and Spanish forms; add English when you are certain.
- Report quality scores between 0.0 and 1.0 for your own output: confidence (how sure you are the analysis is right), coherence (internal consistency), completeness (coverage of the lecture), medical_relevance (share of genuinely medical content).

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "summary": "<multi-sentence summary of the lecture>",
  "key_concepts": ["<concept>", ...],
  "class_structure": [
    {"title": "<section title>", "start_sec": <number>, "summary": "<one sentence>"}
  ],
  "terminology": [
    {"term": "<canonical term>", "definition": "<short definition>", "translations": {"it": "<italian>", "es": "<spanish>", "en": "<english or empty>"}}
  ],
  "key_moments": [
    {"time_sec": <number>, "title": "<title>", "description": "<one sentence>"}
  ],
  "quality": {"confidence": <0.0-1.0>, "coherence": <0.0-1.0>, "completeness": <0.0-1.0>, "medical_relevance": <0.0-1.0>}
}`

// chunkPromptTemplate condenses one portion of an oversized transcript. The
// condensed parts are concatenated and analysed in a second pass.
const chunkPromptTemplate = `You are condensing part %d of %d of a university medicine lecture transcript.

Write a dense plain-text digest of this part in the language with ISO 639-1 code %q. Preserve every medical term verbatim, keep the order of topics, and keep any timestamps or timing cues present in the text. Output only the digest, no preamble.`

// maxGlossaryHints bounds the lexicon-term list embedded in the user message.
const maxGlossaryHints = 40

func buildSystemPrompt(language string, maxConcepts, maxMoments int) string {
	return fmt.Sprintf(systemPromptTemplate, language, maxConcepts, maxMoments)
}

// buildUserMessage assembles the analysis input: lecture timing, the
// activity outline from post-processing, the lexicon terms found in the
// lecture, and the transcript itself. condensed marks transcript as a
// chunk-digest concatenation rather than verbatim text.
func buildUserMessage(post *types.PostProcessingResult, transcript string, condensed bool) string {
	var sb strings.Builder

	if d := lectureDuration(post); d > 0 {
		fmt.Fprintf(&sb, "Lecture duration: %.0f seconds.\n\n", d)
	}

	if len(post.Activities) > 0 {
		sb.WriteString("Activity outline:\n")
		for _, a := range post.Activities {
			fmt.Fprintf(&sb, "- [%.0f-%.0f] %s\n", a.Start, a.End, a.Activity)
		}
		sb.WriteByte('\n')
	}

	if len(post.Glossary) > 0 {
		sb.WriteString("Medical terms found by lexicon annotation:\n")
		for i, g := range post.Glossary {
			if i == maxGlossaryHints {
				break
			}
			fmt.Fprintf(&sb, "- %s (%s)\n", g.Term, g.Category)
		}
		sb.WriteByte('\n')
	}

	if condensed {
		sb.WriteString("Condensed transcript (digest of the full recording):\n")
	} else {
		sb.WriteString("Transcript:\n")
	}
	sb.WriteString(transcript)
	return sb.String()
}

// lectureDuration derives the lecture length from the activity outline.
// Returns 0 when no segmentation is available.
func lectureDuration(post *types.PostProcessingResult) float64 {
	var max float64
	for _, a := range post.Activities {
		if a.End > max {
			max = a.End
		}
	}
	return max
}

// splitTranscript packs the transcript into chunks of at most maxChars
// bytes, cutting at sentence boundaries where possible and at word
// boundaries inside oversized sentences. maxChars <= 0 disables splitting.
func splitTranscript(text string, maxChars int) []string {
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			chunks = append(chunks, s)
		}
		b.Reset()
	}

	for _, sentence := range splitSentences(text) {
		if len(sentence) > maxChars {
			flush()
			chunks = append(chunks, packWords(sentence, maxChars)...)
			continue
		}
		if b.Len()+len(sentence) > maxChars {
			flush()
		}
		b.WriteString(sentence)
	}
	flush()
	return chunks
}

// splitSentences cuts text after sentence terminators (and newlines),
// keeping the trailing whitespace with the preceding sentence so that
// re-joining chunks loses nothing.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?', '\n':
			end := i + 1
			for end < len(text) && (text[end] == ' ' || text[end] == '\t' || text[end] == '\n') {
				end++
			}
			out = append(out, text[start:end])
			start = end
			i = end - 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// packWords splits one oversized sentence at word boundaries. A single word
// longer than maxChars becomes its own chunk rather than being cut mid-rune.
func packWords(sentence string, maxChars int) []string {
	var chunks []string
	var b strings.Builder
	for _, w := range strings.Fields(sentence) {
		if b.Len() > 0 && b.Len()+1+len(w) > maxChars {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
