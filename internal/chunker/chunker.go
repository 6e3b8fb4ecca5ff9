package chunker

import (
	"math"
	"strings"

	"chapterflow/internal/logger"
	"chapterflow/internal/models"
)

const (
	DefaultMinSize = 400
	DefaultMaxSize = 800
)

var (
	priorityWeights = map[models.Priority]float64{
		models.PriorityHigh:   1.0,
		models.PriorityMedium: 0.85,
		models.PriorityLow:    0.7,
	}
	typeWeights = map[models.SectionType]float64{
		models.SectionTeachingText: 1.0,
		models.SectionActivity:     0.95,
		models.SectionExample:      0.85,
		models.SectionPractice:     0.75,
	}
)

const unknownWeight = 0.85

// SpanReport records where a section was placed and which tier found it.
// Start and End are byte offsets into the chapter text.
type SpanReport struct {
	SectionID string        `json:"section_id"`
	Strategy  MatchStrategy `json:"strategy"`
	Start     int           `json:"start"`
	End       int           `json:"end"`
	Chunks    int           `json:"chunks"`
}

type Options struct {
	MinSize int
	MaxSize int
	Logger  *logger.Logger
}

type Chunker struct {
	minSize int
	maxSize int
	log     *logger.Logger
}

func New(opts Options) *Chunker {
	if opts.MinSize <= 0 {
		opts.MinSize = DefaultMinSize
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MinSize > opts.MaxSize {
		opts.MinSize = opts.MaxSize
	}
	return &Chunker{minSize: opts.MinSize, maxSize: opts.MaxSize, log: logger.OrNop(opts.Logger)}
}

// Weight is round2(priority weight × type weight); unknown values weigh 0.85.
func Weight(p models.Priority, t models.SectionType) float64 {
	pw, ok := priorityWeights[p]
	if !ok {
		pw = unknownWeight
	}
	tw, ok := typeWeights[t]
	if !ok {
		tw = unknownWeight
	}
	return math.Round(pw*tw*100+1e-9) / 100
}

// Chunk splits the chapter text along the TOC. The result depends only on
// its inputs: ids start at 1 in document order and chunk_index restarts at
// 0 for every section.
func (c *Chunker) Chunk(rawText string, toc models.TOC) ([]models.Chunk, []SpanReport) {
	spans := c.spans(rawText, toc.Sections)

	var chunks []models.Chunk
	nextID := 1
	for i, sec := range toc.Sections {
		span := rawText[spans[i].Start:spans[i].End]
		var contents []string
		if sec.Type == models.SectionActivity {
			content := strings.TrimSpace(span)
			if content == "" {
				content = strings.TrimSpace(sec.Title)
			}
			contents = []string{content}
		} else {
			contents = segment(span, c.minSize, c.maxSize)
		}

		md := metadataFor(toc, sec)
		weight := Weight(sec.ContentPriority, sec.Type)
		for idx, content := range contents {
			chunks = append(chunks, models.Chunk{
				ID:            nextID,
				Content:       content,
				SectionID:     sec.ID,
				ChunkIndex:    idx,
				ContentWeight: weight,
				Metadata:      md,
			})
			nextID++
		}
		spans[i].Chunks = len(contents)
	}
	c.log.Debug("chapter chunked", "chapter", toc.Chapter, "sections", len(toc.Sections), "chunks", len(chunks))
	return chunks, spans
}

// spans partitions rawText: the first section starts at 0, starts never move
// backwards, and each section ends where the next begins.
func (c *Chunker) spans(rawText string, sections []models.Section) []SpanReport {
	out := make([]SpanReport, len(sections))
	from := 0
	for i, sec := range sections {
		pos, strategy := locate(rawText, sec, i, len(sections), from)
		if i == 0 {
			pos = 0
		} else if pos < out[i-1].Start {
			pos = out[i-1].Start
		}
		out[i] = SpanReport{SectionID: sec.ID, Strategy: strategy, Start: pos}
		if strategy != StrategyAnchor && strategy != StrategyNumeral {
			c.log.Debug("section located by fallback", "section", sec.ID, "strategy", strategy)
		}
		from = pos + 1
		if from > len(rawText) {
			from = len(rawText)
		}
		for from < len(rawText) && !isRuneStart(rawText[from]) {
			from++
		}
	}
	for i := range out {
		if i+1 < len(out) {
			out[i].End = out[i+1].Start
		} else {
			out[i].End = len(rawText)
		}
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func metadataFor(toc models.TOC, s models.Section) models.ChunkMetadata {
	s.ApplyMetadataDefaults()
	return models.ChunkMetadata{
		Chapter:            toc.Chapter,
		ChapterTitle:       toc.Title,
		SectionTitle:       s.Title,
		SectionType:        s.Type,
		ContentPriority:    s.ContentPriority,
		KeyConcepts:        s.KeyConcepts,
		LearningObjectives: s.LearningObjectives,
		DifficultyLevel:    s.DifficultyLevel,
		CognitiveLevel:     s.CognitiveLevel,
		RelatedActivities:  s.RelatedActivities,
		IsActivity:         s.Type == models.SectionActivity,
	}
}
