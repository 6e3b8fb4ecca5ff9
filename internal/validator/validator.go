package validator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chapterflow/internal/logger"
	"chapterflow/internal/models"
	"chapterflow/internal/providers"
)

const (
	DefaultThreshold = 0.50
	OperationEmbed   = "validate_embed"
)

// Options tune one Validate call. A nil Threshold means DefaultThreshold;
// zero is a real threshold and flags nothing.
type Options struct {
	Threshold   *float64
	KeepFlagged bool
}

// Threshold returns a pointer to t, for Options literals.
func Threshold(t float64) *float64 { return &t }

func (o Options) threshold() float64 {
	if o.Threshold == nil {
		return DefaultThreshold
	}
	return *o.Threshold
}

type Config struct {
	Dimension   int
	Timeout     time.Duration
	Concurrency int
	Logger      *logger.Logger
}

// Result partitions the chapter's chunks. Vectors holds every chunk
// embedding that was computed, keyed by chunk id, so publication can reuse it.
type Result struct {
	Valid       []models.Chunk            `json:"-"`
	Flagged     []models.ValidationResult `json:"flagged"`
	Results     []models.ValidationResult `json:"results"`
	Vectors     map[int][]float32         `json:"-"`
	Unvalidated int                       `json:"unvalidated"`
}

type Validator struct {
	embedder    providers.EmbeddingProvider
	dim         int
	timeout     time.Duration
	concurrency int
	log         *logger.Logger
}

func New(embedder providers.EmbeddingProvider, cfg Config) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Validator{
		embedder:    embedder,
		dim:         cfg.Dimension,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		log:         logger.OrNop(cfg.Logger),
	}
}

// SectionDescription is the text a chunk is compared against.
func SectionDescription(s models.Section) string {
	parts := []string{strings.TrimSpace(s.Title)}
	if d := strings.TrimSpace(s.ExpandedDescription); d != "" {
		parts = append(parts, d)
	}
	if len(s.KeyConcepts) > 0 {
		parts = append(parts, strings.Join(s.KeyConcepts, ", "))
	}
	return strings.Join(parts, ". ")
}

func (v *Validator) Validate(ctx context.Context, chunks []models.Chunk, toc models.TOC, opts Options) Result {
	threshold := opts.threshold()

	inputs := make([]string, 0, len(chunks)*2)
	for _, c := range chunks {
		inputs = append(inputs, c.Content)
	}
	descIndex := map[string]int{}
	for _, c := range chunks {
		if _, ok := descIndex[c.SectionID]; ok {
			continue
		}
		descIndex[c.SectionID] = len(inputs)
		inputs = append(inputs, describe(toc, c))
	}
	vectors := v.embedAll(ctx, inputs)

	res := Result{Vectors: map[int][]float32{}}
	for i, c := range chunks {
		chunkVec := vectors[i]
		if chunkVec != nil {
			res.Vectors[c.ID] = chunkVec
		}
		vr := models.ValidationResult{ChunkID: c.ID, SectionID: c.SectionID, Threshold: threshold}
		score, ok := Cosine(chunkVec, vectors[descIndex[c.SectionID]])
		if !ok {
			res.Unvalidated++
			res.Results = append(res.Results, vr)
			res.Valid = append(res.Valid, c)
			continue
		}
		vr.SimilarityScore = &score
		vr.Flagged = score < threshold
		if vr.Flagged {
			vr.Reason = fmt.Sprintf("low topical alignment (similarity %.2f < %.2f)", score, threshold)
			res.Flagged = append(res.Flagged, vr)
		}
		res.Results = append(res.Results, vr)
		if !vr.Flagged || opts.KeepFlagged {
			res.Valid = append(res.Valid, c)
		}
	}
	v.log.Info("chunks validated", "chapter", toc.Chapter, "chunks", len(chunks), "flagged", len(res.Flagged),
		"unvalidated", res.Unvalidated, "threshold", threshold)
	return res
}

func describe(toc models.TOC, c models.Chunk) string {
	if s, ok := toc.SectionByID(c.SectionID); ok {
		return SectionDescription(s)
	}
	return SectionDescription(models.Section{Title: c.Metadata.SectionTitle, KeyConcepts: c.Metadata.KeyConcepts})
}

// embedAll tries one batched call and falls back to per-text calls, so a
// failing text only costs its own vector. Missing vectors stay nil.
func (v *Validator) embedAll(ctx context.Context, inputs []string) [][]float32 {
	out := make([][]float32, len(inputs))
	if len(inputs) == 0 {
		return out
	}
	batchCtx, cancel := context.WithTimeout(ctx, v.timeout)
	vecs, info, err := v.embedder.Embed(batchCtx, providers.EmbedRequest{Operation: OperationEmbed, Inputs: inputs, Dimension: v.dim})
	cancel()
	if err == nil && len(vecs) == len(inputs) {
		copy(out, vecs)
		return out
	}
	v.log.Warn("batch embedding failed, embedding one by one", "provider", info.Name, "inputs", len(inputs), "error", err)

	var mu sync.Mutex
	failures := 0
	g := new(errgroup.Group)
	g.SetLimit(v.concurrency)
	for i := range inputs {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, v.timeout)
			defer cancel()
			vecs, _, err := v.embedder.Embed(callCtx, providers.EmbedRequest{Operation: OperationEmbed, Inputs: inputs[i : i+1], Dimension: v.dim})
			if err != nil || len(vecs) != 1 {
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			out[i] = vecs[0]
			return nil
		})
	}
	_ = g.Wait()
	if failures > 0 {
		v.log.Warn("texts left unembedded", "failures", failures)
	}
	return out
}

// Cosine reports false when either vector is missing, empty, zero or the
// lengths differ.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
