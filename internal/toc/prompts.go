package toc

import (
	"fmt"
	"strings"

	"chapterflow/internal/models"
	"chapterflow/internal/util"
)

const (
	OperationExtract = "toc_extract"
	OperationExpand  = "toc_expand"

	extractInputRunes = 8000
	excerptRunes      = 2000
)

const expandSystemPrompt = "You are an educational content analyst specializing in curriculum design."

const extractPromptTemplate = `Analyze this textbook chapter and extract its table of contents.
Ignore image descriptions and figure captions.

Chapter: %d
Chapter title: %s

Section types:
- "teaching_text": core concepts, definitions, explanations (numbered sub-headings such as %d.1)
- "activity": hands-on activities ("Activity %d.1") and "Let us ..." tasks
- "example": worked examples and demonstrations
- "practice": end-of-chapter questions and exercises

Priorities: "high" for core teaching, "medium" for activities and examples, "low" for practice.

Output STRICT JSON with this schema:
{
  "sections": [
    {"id": "%d.1", "title": "string", "type": "teaching_text", "content_priority": "high", "start_text": "first words of the section, copied verbatim"}
  ]
}

Rules:
- Activity ids look like "activity_%d.1".
- Keep sections in document order.
- If nothing can be found, return {"sections":[]}.

Chapter text:
%s`

const expandPromptTemplate = `Analyze this textbook section and provide educational metadata.

Section id: %s
Title: %s
Type: %s
Priority: %s
Chapter: %d

Section content:
%s

Return STRICT JSON:
{
  "expanded_description": "2-3 sentences on what the section teaches",
  "key_concepts": ["3-5 key terms introduced"],
  "learning_objectives": ["1-2 things a student should be able to do"],
  "difficulty_level": "beginner|intermediate|advanced",
  "cognitive_level": "remember|understand|apply|analyze|evaluate|create",
  "related_activities": ["activity ids mentioned, e.g. activity_%d.1"]
}`

func buildExtractPrompt(rawText string, info models.ChapterInfo) string {
	ch := info.Number
	text := []rune(rawText)
	if len(text) > extractInputRunes {
		text = text[:extractInputRunes]
	}
	return fmt.Sprintf(extractPromptTemplate, ch, strings.TrimSpace(info.Title), ch, ch, ch, ch, string(text))
}

func buildExpandPrompt(s models.Section, chapter int, excerpt string) string {
	return fmt.Sprintf(expandPromptTemplate, s.ID, s.Title, s.Type, s.ContentPriority, chapter, excerpt, chapter)
}

// sectionExcerpt is up to excerptRunes of text starting at the section's
// anchor, or at the chapter start when the anchor cannot be found.
func sectionExcerpt(rawText, anchorText string) string {
	start := 0
	if a := strings.TrimSpace(anchorText); a != "" {
		if i := strings.Index(rawText, a); i >= 0 {
			start = i
		}
	}
	r := []rune(rawText[start:])
	if len(r) > excerptRunes {
		r = r[:excerptRunes]
	}
	return util.SanitizeText(string(r))
}

// jsonObject pulls the outermost JSON object out of an oracle reply that may
// be wrapped in a code fence or prose.
func jsonObject(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(raw, "```")
		raw = strings.TrimSpace(raw)
	}
	i := strings.IndexByte(raw, '{')
	j := strings.LastIndexByte(raw, '}')
	if i < 0 || j <= i {
		return raw
	}
	return raw[i : j+1]
}
