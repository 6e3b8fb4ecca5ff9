package toc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chapterflow/internal/logger"
	"chapterflow/internal/models"
	"chapterflow/internal/providers"
	"chapterflow/internal/util"
)

// OracleExtractor asks the text oracle for the section list and falls back
// to another extractor when the reply is unusable.
type OracleExtractor struct {
	llm      providers.LLMProvider
	fallback Extractor
	timeout  time.Duration
	log      *logger.Logger
}

func NewOracleExtractor(llm providers.LLMProvider, fallback Extractor, timeout time.Duration, log *logger.Logger) *OracleExtractor {
	if fallback == nil {
		fallback = NewHeuristicExtractor()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OracleExtractor{llm: llm, fallback: fallback, timeout: timeout, log: logger.OrNop(log)}
}

type oracleSection struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Type            string `json:"type"`
	ContentPriority string `json:"content_priority"`
	StartText       string `json:"start_text"`
}

func (o *OracleExtractor) Extract(ctx context.Context, rawText string, info models.ChapterInfo) (models.TOC, error) {
	if strings.TrimSpace(rawText) == "" {
		return models.TOC{}, util.ErrEmptyDocument
	}
	sections, err := o.ask(ctx, rawText, info)
	if err != nil || len(sections) == 0 {
		o.log.Warn("oracle toc unusable, using heuristic", "chapter", info.Number, "error", err, "sections", len(sections))
		return o.fallback.Extract(ctx, rawText, info)
	}
	chapter := info.Number
	if chapter <= 0 {
		chapter = 1
	}
	return models.TOC{Chapter: chapter, Title: info.Title, Sections: sections}, nil
}

func (o *OracleExtractor) ask(ctx context.Context, rawText string, info models.ChapterInfo) ([]models.Section, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, _, err := o.llm.Generate(callCtx, providers.GenerateRequest{
		Operation: OperationExtract,
		Prompt:    buildExtractPrompt(rawText, info),
		JSONMode:  true,
	})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Sections []oracleSection `json:"sections"`
	}
	if err := json.Unmarshal([]byte(jsonObject(resp.Text)), &payload); err != nil {
		return nil, fmt.Errorf("decode toc reply: %w", err)
	}
	return validateSections(payload.Sections), nil
}

// validateSections drops entries without id or title and repeated ids, and
// defaults unknown enums to teaching_text / medium.
func validateSections(in []oracleSection) []models.Section {
	seen := map[string]struct{}{}
	out := make([]models.Section, 0, len(in))
	for _, s := range in {
		id := strings.TrimSpace(s.ID)
		title := strings.TrimSpace(s.Title)
		if id == "" || title == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		typ, ok := models.ParseSectionType(s.Type)
		if !ok {
			typ = models.SectionTeachingText
		}
		prio, ok := models.ParsePriority(s.ContentPriority)
		if !ok {
			prio = models.PriorityMedium
		}
		out = append(out, models.Section{
			ID:              id,
			Title:           title,
			Type:            typ,
			ContentPriority: prio,
			AnchorText:      anchor(strings.TrimSpace(s.StartText)),
		})
	}
	return out
}
