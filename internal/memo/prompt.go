package memo

import (
	"fmt"
	"strings"
)

// systemPromptTemplate is the base system prompt for deck generation.
// Formatted with the output language code, the length bounds and the card
// cap.
const systemPromptTemplate = `You are a flashcard author for university medicine students.

Your task: turn the lecture material provided by the user into question/answer study cards.

Rules:
- Use ONLY facts present in the material. Do not invent content, names or numbers.
- Write questions and answers in the language with ISO 639-1 code %q.
- type is one of: definition, concept, process, case, fact, comparison, symptom, treatment. Pick the one that fits the card.
- difficulty is one of: very_easy, easy, medium, hard, expert. Spread the deck across difficulties.
- Keep every question between %d and %d characters and every answer between %d and %d characters.
- Name at least two medical terms from the material in every card.
- tags are 1-4 lowercase topic labels per card.
- confidence is 0.0-1.0: how directly the material supports the card.
- Produce at most %d cards, most valuable first.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "cards": [
    {"type": "<type>", "question": "<question>", "answer": "<answer>", "difficulty": "<difficulty>", "confidence": <0.0-1.0>, "tags": ["<tag>", ...]}
  ]
}`

func buildSystemPrompt(language string, maxCards int) string {
	return fmt.Sprintf(systemPromptTemplate, language,
		MinQuestionChars, MaxQuestionChars, MinAnswerChars, MaxAnswerChars,
		maxCards)
}

// List caps for the user message. The summary carries the narrative; the
// lists are supporting material, not the whole lecture.
const (
	maxConceptHints  = 12
	maxResearchHints = 25
	maxTermHints     = 40
	maxGlossaryHints = 30
)

// buildUserMessage assembles the deck material: the analysis summary and key
// concepts, the researched terminology with graded definitions, the raw
// analysis terminology, the lexicon glossary and the key moments.
func buildUserMessage(in Inputs) string {
	var sb strings.Builder

	sb.WriteString("Lecture summary:\n")
	sb.WriteString(in.Analysis.Summary)
	sb.WriteString("\n\n")

	if len(in.Analysis.KeyConcepts) > 0 {
		sb.WriteString("Key concepts:\n")
		for i, c := range in.Analysis.KeyConcepts {
			if i == maxConceptHints {
				break
			}
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		sb.WriteByte('\n')
	}

	if len(in.Research) > 0 {
		sb.WriteString("Researched terminology (definitions verified against medical sources):\n")
		for i, r := range in.Research {
			if i == maxResearchHints {
				break
			}
			fmt.Fprintf(&sb, "- %s", r.Term)
			if r.Grade != "" {
				fmt.Fprintf(&sb, " [grade %s]", r.Grade)
			}
			if r.Definition.Text != "" {
				fmt.Fprintf(&sb, ": %s", r.Definition.Text)
			}
			if len(r.Synonyms) > 0 {
				fmt.Fprintf(&sb, " (synonyms: %s)", strings.Join(r.Synonyms, ", "))
			}
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	if len(in.Analysis.Terminology) > 0 {
		sb.WriteString("Lecture terminology:\n")
		for i, t := range in.Analysis.Terminology {
			if i == maxTermHints {
				break
			}
			fmt.Fprintf(&sb, "- %s", t.Term)
			if t.Definition != "" {
				fmt.Fprintf(&sb, ": %s", t.Definition)
			}
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	if in.Post != nil && len(in.Post.Glossary) > 0 {
		sb.WriteString("Lexicon glossary:\n")
		for i, g := range in.Post.Glossary {
			if i == maxGlossaryHints {
				break
			}
			fmt.Fprintf(&sb, "- %s (%s)\n", g.Term, g.Category)
		}
		sb.WriteByte('\n')
	}

	if len(in.Analysis.KeyMoments) > 0 {
		sb.WriteString("Key moments:\n")
		for _, m := range in.Analysis.KeyMoments {
			fmt.Fprintf(&sb, "- %s", m.Title)
			if m.Description != "" {
				fmt.Fprintf(&sb, ": %s", m.Description)
			}
			sb.WriteByte('\n')
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}
