package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chapterflow/internal/activities"
	"chapterflow/internal/config"
	"chapterflow/internal/graph"
	"chapterflow/internal/logger"
	"chapterflow/internal/models"
	"chapterflow/internal/pipeline"
	"chapterflow/internal/providers"
	"chapterflow/internal/storage"
	"chapterflow/internal/util"
	"chapterflow/internal/vector"
	"chapterflow/internal/workflows"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

const operationSearchQuery = "search_query"

type snapshotLoader interface {
	LoadSnapshot(ctx context.Context, textbookID string) (graph.Snapshot, error)
}

type Server struct {
	cfg          config.Config
	log          *logger.Logger
	textbookRepo *storage.TextbookRepo
	chapterRepo  *storage.ChapterRepo
	refRepo      *storage.ReferenceRepo
	flagRepo     *storage.ValidationRepo
	graphs       snapshotLoader
	graphCache   *cache.Cache
	searcher     *vector.Searcher
	embedder     providers.EmbeddingProvider
	stages       pipeline.Stages
	temporal     tclient.Client
}

// NewServer shares one failover oracle between search and preview; its calls
// are audited like the worker's.
func NewServer(cfg config.Config, db *storage.DB, tc tclient.Client, log *logger.Logger) (*Server, error) {
	log = logger.OrNop(log)
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	oracle := providers.NewFailover(pm, cfg.ProviderCooldown(),
		storage.AuditRecorder{Repo: storage.NewOracleAuditRepo(db), Log: log})
	embedder := providers.NewCachedEmbedder(oracle, cfg.EmbedCacheTTL())
	return &Server{
		cfg:          cfg,
		log:          log,
		textbookRepo: storage.NewTextbookRepo(db),
		chapterRepo:  storage.NewChapterRepo(db),
		refRepo:      storage.NewReferenceRepo(db),
		flagRepo:     storage.NewValidationRepo(db),
		graphs:       storage.NewGraphRepo(db),
		graphCache:   cache.New(cfg.GraphCacheTTL(), 2*cfg.GraphCacheTTL()),
		searcher:     vector.NewSearcher(db.Pool),
		embedder:     embedder,
		stages:       activities.NewStages(cfg, oracle, embedder, log),
		temporal:     tc,
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/textbooks", s.handleTextbooks)
	mux.HandleFunc("/textbooks/", s.handleTextbooksScoped)
	mux.HandleFunc("/preview", s.handlePreview)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTextbooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		textbooks, err := s.textbookRepo.ListTextbooks(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"textbooks": textbooks})
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("name is required"))
			return
		}

		textbookID := uuid.NewString()
		if err := s.textbookRepo.CreateTextbook(r.Context(), models.Textbook{TextbookID: textbookID, Name: req.Name}); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		if err := util.EnsureDir(filepath.Join(s.cfg.DataInRoot, textbookID)); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		if err := util.EnsureDir(filepath.Join(s.cfg.DataOutRoot, textbookID)); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"textbook_id": textbookID, "name": req.Name})
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) handleTextbooksScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/textbooks/"), "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	textbookID := parts[0]

	if parts[1] == "graph" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		sub := ""
		if len(parts) == 3 {
			sub = parts[2]
		}
		s.handleGraph(w, r, textbookID, sub)
		return
	}
	if len(parts) != 2 && !(len(parts) == 3 && parts[1] == "references" && parts[2] == "dangling") {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}

	switch parts[1] {
	case "upload":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleUpload(w, r, textbookID)
	case "ingest":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleIngest(w, r, textbookID)
	case "backfill":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleBackfill(w, r, textbookID)
	case "progress":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleProgress(w, r, textbookID)
	case "chapters":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		chapters, err := s.chapterRepo.ListChaptersByTextbook(r.Context(), textbookID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chapters": chapters})
	case "flagged":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		chapter, err := strconv.Atoi(r.URL.Query().Get("chapter"))
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("chapter is required"))
			return
		}
		flagged, err := s.flagRepo.ListFlagged(r.Context(), textbookID, chapter)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chapter": chapter, "flagged": flagged})
	case "search":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleSearch(w, r, textbookID)
	case "references":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		if len(parts) == 3 {
			refs, err := s.refRepo.ListDangling(r.Context(), textbookID)
			if err != nil {
				writeErr(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"dangling": refs})
			return
		}
		target := strings.TrimSpace(r.URL.Query().Get("target"))
		if target == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("target is required"))
			return
		}
		refs, err := s.refRepo.ListByTarget(r.Context(), textbookID, target)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"target": target, "references": refs})
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, textbookID string) {
	if err := r.ParseMultipartForm(128 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		if single, ok := firstSingleFile(r.MultipartForm.File); ok {
			files = append(files, single)
		}
	}
	if len(files) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}

	inDir := filepath.Join(s.cfg.DataInRoot, textbookID)
	if err := util.EnsureDir(inDir); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	type uploadResult struct {
		Filename  string `json:"filename"`
		ChapterID string `json:"chapter_id"`
	}
	out := make([]uploadResult, 0, len(files))

	for _, fh := range files {
		if !isChapterFile(fh.Filename) {
			continue
		}
		fileHash, savedPath, err := saveUploadedFile(inDir, fh)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		chapterID := activities.ChapterID(textbookID, fileHash)
		if err := s.chapterRepo.UpsertChapter(r.Context(), models.Chapter{
			ChapterID:  chapterID,
			TextbookID: textbookID,
			Filename:   filepath.Base(savedPath),
			Status:     storage.ChapterPending,
		}); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, uploadResult{Filename: filepath.Base(savedPath), ChapterID: chapterID})
	}

	writeJSON(w, http.StatusOK, map[string]any{"uploaded": out})
}

func isChapterFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range activities.ChapterExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, textbookID string) {
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       ingestWorkflowID(textbookID),
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.TextbookIngestWorkflow, workflows.TextbookIngestInput{
		TextbookID:            textbookID,
		InputDir:              filepath.Join(s.cfg.DataInRoot, textbookID),
		MaxConcurrentChildren: s.cfg.IngestMaxChildren,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	s.graphCache.Delete(textbookID)
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request, textbookID string) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if req.Mode == "" {
		req.Mode = workflows.BackfillFailed
	}
	if req.Mode != workflows.BackfillFailed && req.Mode != workflows.BackfillGraphMirror {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("unknown backfill mode %q", req.Mode))
		return
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        "backfill-" + textbookID + "-" + uuid.NewString(),
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.BackfillWorkflow, workflows.BackfillInput{
		TextbookID: textbookID,
		Mode:       req.Mode,
		DataInRoot: s.cfg.DataInRoot,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID(), "mode": req.Mode})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, textbookID string) {
	var prog workflows.TextbookIngestProgress
	resp, err := s.temporal.QueryWorkflow(r.Context(), ingestWorkflowID(textbookID), "", workflows.QueryGetProgress)
	if err != nil {
		// Fall back to the chapter rows when the ingest workflow cannot be queried.
		chapters, cErr := s.chapterRepo.ListChaptersByTextbook(r.Context(), textbookID)
		if cErr != nil {
			writeErr(w, http.StatusInternalServerError, cErr)
			return
		}
		writeJSON(w, http.StatusOK, progressFromChapters(textbookID, chapters))
		return
	}
	if err := resp.Get(&prog); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func progressFromChapters(textbookID string, chapters []models.Chapter) workflows.TextbookIngestProgress {
	prog := workflows.TextbookIngestProgress{
		TextbookID: textbookID,
		Total:      len(chapters),
		PerChapter: make(map[string]string, len(chapters)),
	}
	for _, c := range chapters {
		prog.PerChapter[c.Filename] = c.Status
		switch c.Status {
		case storage.ChapterPublished:
			prog.Done++
		case storage.ChapterFailed:
			prog.Done++
			prog.Failed++
		}
	}
	return prog
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, textbookID string) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("q is required"))
		return
	}
	topK, _ := strconv.Atoi(q.Get("k"))
	chapter, _ := strconv.Atoi(q.Get("chapter"))
	activitiesOnly, _ := strconv.ParseBool(q.Get("activities"))

	vecs, info, err := s.embedder.Embed(r.Context(), providers.EmbedRequest{
		Operation: operationSearchQuery,
		Inputs:    []string{query},
		Dimension: s.cfg.EmbedDim,
	})
	if err != nil {
		writeErr(w, http.StatusBadGateway, fmt.Errorf("embed query: %w", err))
		return
	}
	if len(vecs) == 0 {
		writeErr(w, http.StatusBadGateway, fmt.Errorf("embed query: no vector returned"))
		return
	}
	results, err := s.searcher.SearchChunks(r.Context(), textbookID, vecs[0], topK, vector.SearchFilters{
		Chapter:          chapter,
		ActivitiesOnly:   activitiesOnly,
		EmbeddingVersion: s.cfg.EmbedVersion,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	for i := range results {
		results[i].Snippet = util.EvidenceSnippet(results[i].Content, query, 420)
		results[i].Content = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "provider": info.Name, "results": results})
}

func ingestWorkflowID(textbookID string) string {
	return "ingest-" + textbookID
}

// saveUploadedFile streams the upload into place and returns its sha256.
func saveUploadedFile(dstDir string, fh *multipart.FileHeader) (fileHash, path string, err error) {
	src, err := fh.Open()
	if err != nil {
		return "", "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dstDir, "upload-*"+strings.ToLower(filepath.Ext(fh.Filename)))
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), src); err != nil {
		return "", "", fmt.Errorf("write upload: %w", err)
	}

	fileHash = fmt.Sprintf("%x", h.Sum(nil))
	finalPath := filepath.Join(dstDir, filepath.Base(fh.Filename))
	if err := tmp.Close(); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", "", fmt.Errorf("atomic move upload: %w", err)
	}
	return fileHash, finalPath, nil
}

func firstSingleFile(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	for _, v := range m {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "CF-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusBadGateway:
		return apiError{Code: "CF-API-5020", Message: "Oracle providers unavailable. Retry shortly."}
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "CF-DB-5001",
				Message: "Database schema is not initialized. Start the worker once and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "CF-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "CF-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "CF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "CF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "CF-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "CF-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusRequestEntityTooLarge:
		code = "CF-API-4013"
		msg = "Request body is too large."
	}

	// 4xx messages only echo known validation context.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "name is required"):
			msg = "Textbook name is required."
		case strings.Contains(raw, "no files provided"):
			msg = "No chapter files were provided."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "is required"), strings.Contains(raw, "unknown backfill mode"),
			strings.Contains(raw, "unknown section"), strings.Contains(raw, "no chapters"),
			strings.Contains(raw, "too many chapters"):
			msg = err.Error()
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
