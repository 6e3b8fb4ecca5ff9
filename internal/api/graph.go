package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/patrickmn/go-cache"

	"chapterflow/internal/graph"
)

const defaultImportantLimit = 10

// loadGraph restores the textbook's published graph, cached per textbook
// until an ingest is started or the TTL lapses.
func (s *Server) loadGraph(ctx context.Context, textbookID string) (*graph.Graph, error) {
	if v, ok := s.graphCache.Get(textbookID); ok {
		return v.(*graph.Graph), nil
	}
	snap, err := s.graphs.LoadSnapshot(ctx, textbookID)
	if err != nil {
		return nil, err
	}
	g, err := graph.Restore(snap)
	if err != nil {
		return nil, err
	}
	s.graphCache.Set(textbookID, g, cache.DefaultExpiration)
	return g, nil
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request, textbookID, sub string) {
	g, err := s.loadGraph(r.Context(), textbookID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	q := r.URL.Query()

	switch sub {
	case "", "stats":
		writeJSON(w, http.StatusOK, g.Stats())
	case "important":
		limit, err := strconv.Atoi(q.Get("limit"))
		if err != nil || limit <= 0 {
			limit = defaultImportantLimit
		}
		writeJSON(w, http.StatusOK, map[string]any{"sections": g.MostImportantSections(limit)})
	case "concepts":
		concept := strings.TrimSpace(q.Get("q"))
		if concept == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("q is required"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"concept": concept, "sections": g.FindSectionsByConcept(concept)})
	case "related":
		key := strings.TrimSpace(q.Get("section"))
		if key == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("section is required"))
			return
		}
		if _, ok := g.Section(key); !ok {
			writeErr(w, http.StatusNotFound, fmt.Errorf("unknown section %q", key))
			return
		}
		depth, _ := strconv.Atoi(q.Get("depth"))
		writeJSON(w, http.StatusOK, map[string]any{"section": key, "related": g.RelatedSections(key, depth)})
	case "path":
		from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
		if from == "" || to == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("from and to are required"))
			return
		}
		path, ok := g.PrerequisitePath(from, to)
		writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "found": ok, "path": path})
	case "dot":
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(g.DOT()))
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}
