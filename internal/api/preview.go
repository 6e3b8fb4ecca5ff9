package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chapterflow/internal/activities"
	"chapterflow/internal/graph"
	"chapterflow/internal/models"
	"chapterflow/internal/pipeline"
	"chapterflow/internal/validator"
)

const (
	previewCollection  = "preview"
	previewMaxBody     = 8 << 20
	previewMaxChapters = 32
)

type previewChapter struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type previewRequest struct {
	Chapters []previewChapter `json:"chapters"`
}

type previewResponse struct {
	Outcomes  []pipeline.ChapterOutcome `json:"outcomes"`
	Graph     graph.Stats               `json:"graph"`
	Important []graph.RankedSection     `json:"important"`
	Pending   []graph.PendingRef        `json:"pending"`
}

// handlePreview runs the chapter pipeline in memory. Nothing is persisted;
// the graph lives only for the request.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req previewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, previewMaxBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if len(req.Chapters) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no chapters provided"))
		return
	}
	if len(req.Chapters) > previewMaxChapters {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("too many chapters: at most %d per preview", previewMaxChapters))
		return
	}

	docs := make([]models.RawDocument, 0, len(req.Chapters))
	for i, ch := range req.Chapters {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			name = fmt.Sprintf("chapter%d.txt", i+1)
		}
		doc := activities.TextDocument(ch.Text, name)
		// Names may repeat; the position keeps each posted chapter distinct.
		doc.Source = fmt.Sprintf("%d:%s", i+1, name)
		docs = append(docs, doc)
	}

	proc := pipeline.NewProcessor(s.stages, pipeline.Options{
		Threshold:   validator.Threshold(s.cfg.ValidationThreshold),
		KeepFlagged: s.cfg.KeepFlagged,
		Logger:      s.log,
	})
	pub := pipeline.NewGraphPublisher(nil, s.cfg.KeepFlagged)
	outcomes, err := pipeline.NewRunner(proc, pub, s.cfg.MaxParallelChapters, s.log).Run(r.Context(), previewCollection, docs)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	g := pub.Graph()
	writeJSON(w, http.StatusOK, previewResponse{
		Outcomes:  outcomes,
		Graph:     g.Stats(),
		Important: g.MostImportantSections(defaultImportantLimit),
		Pending:   g.Pending(),
	})
}
