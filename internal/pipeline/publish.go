package pipeline

import (
	"context"
	"sort"
	"sync"

	"chapterflow/internal/graph"
	"chapterflow/internal/models"
)

// Publisher makes a processed chapter visible. Implementations either apply
// the whole chapter or nothing.
type Publisher interface {
	Publish(ctx context.Context, collection string, res ChapterResult) (graph.Delta, error)
}

// GraphPublisher keeps everything in memory: one shared graph plus the
// records each chapter would have written. Used for previews and tests.
type GraphPublisher struct {
	g           *graph.Graph
	keepFlagged bool

	mu      sync.Mutex
	records map[int][]models.VectorRecord
}

func NewGraphPublisher(g *graph.Graph, keepFlagged bool) *GraphPublisher {
	if g == nil {
		g = graph.New()
	}
	return &GraphPublisher{g: g, keepFlagged: keepFlagged, records: map[int][]models.VectorRecord{}}
}

func (p *GraphPublisher) Publish(ctx context.Context, collection string, res ChapterResult) (graph.Delta, error) {
	if err := ctx.Err(); err != nil {
		return graph.Delta{}, err
	}
	delta, err := p.g.Merge(res.GraphInput())
	if err != nil {
		return graph.Delta{}, err
	}
	records := res.Records(collection, p.keepFlagged)

	p.mu.Lock()
	p.records[res.Chapter.Number] = records
	p.mu.Unlock()
	return delta, nil
}

func (p *GraphPublisher) Graph() *graph.Graph { return p.g }

func (p *GraphPublisher) Records(chapter int) []models.VectorRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.VectorRecord(nil), p.records[chapter]...)
}

func (p *GraphPublisher) Chapters() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.records))
	for ch := range p.records {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}
