package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chapterflow/internal/activities"
	"chapterflow/internal/config"
	"chapterflow/internal/graph"
	"chapterflow/internal/logger"
	"chapterflow/internal/models"
	"chapterflow/internal/providers"
	"chapterflow/internal/storage"
)

type fakeLoader struct {
	snap  graph.Snapshot
	err   error
	calls int
}

func (f *fakeLoader) LoadSnapshot(ctx context.Context, textbookID string) (graph.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

func ptr(s string) *string { return &s }

func publishedSnapshot() graph.Snapshot {
	return graph.Build(
		models.TOC{Chapter: 1, Title: "Life Processes", Sections: []models.Section{
			{ID: "1.1", Title: "Nutrition", Type: models.SectionTeachingText, KeyConcepts: []string{"photosynthesis"}},
			{ID: "activity_1.1", Title: "Activity 1.1", Type: models.SectionActivity, KeyConcepts: []string{"Photosynthesis"}},
			{ID: "1.2", Title: "Respiration", Type: models.SectionTeachingText, KeyConcepts: []string{"respiration"}},
		}},
		[]models.Chunk{{ID: 1, SectionID: "1.1"}, {ID: 2, SectionID: "activity_1.1"}, {ID: 3, SectionID: "1.2"}},
		map[int][]models.Reference{
			3: {{Type: models.RefActivity, SourceID: 3, TargetID: ptr("activity_1.1"), Chapter: 1}},
		},
	).Snapshot()
}

func testServer(t *testing.T, loader snapshotLoader) *Server {
	t.Helper()
	cfg := config.Config{
		DataOutRoot:         t.TempDir(),
		EmbedDim:            32,
		ValidationThreshold: 0.1,
		TOCMode:             "heuristic",
		MaxParallelChapters: 2,
	}
	mock := providers.NewMockProvider(cfg.EmbedDim)
	return &Server{
		cfg:        cfg,
		log:        logger.Nop(),
		graphs:     loader,
		graphCache: cache.New(time.Minute, time.Minute),
		embedder:   mock,
		stages:     activities.NewStages(cfg, mock, mock, nil),
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	s := testServer(t, &fakeLoader{})
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestCORSPreflight(t *testing.T) {
	s := testServer(t, &fakeLoader{})
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/textbooks", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGraphStatsIsCached(t *testing.T) {
	loader := &fakeLoader{snap: publishedSnapshot()}
	s := testServer(t, loader)
	h := s.Routes()

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/textbooks/tb1/graph/stats", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.EqualValues(t, 3, body["sections"])
		assert.EqualValues(t, 2, body["concepts"])
	}
	assert.Equal(t, 1, loader.calls)
}

func TestGraphQueries(t *testing.T) {
	s := testServer(t, &fakeLoader{snap: publishedSnapshot()})
	h := s.Routes()
	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/textbooks/tb1/graph/important?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["sections"], 2)

	rec = get("/textbooks/tb1/graph/concepts?q=" + url.QueryEscape(" PHOTOSYNTHESIS "))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["sections"], 2)

	from := graph.SectionKey(1, "1.2")
	to := graph.SectionKey(1, "1.1")
	rec = get("/textbooks/tb1/graph/path?from=" + url.QueryEscape(from) + "&to=" + url.QueryEscape(to))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["found"])
	path := body["path"].([]any)
	assert.Equal(t, from, path[0])
	assert.Equal(t, to, path[len(path)-1])

	rec = get("/textbooks/tb1/graph/related?section=" + url.QueryEscape(from))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["related"])

	rec = get("/textbooks/tb1/graph/related?section=nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get("/textbooks/tb1/graph/dot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "digraph chapterflow {"))
}

func TestGraphLoadFailure(t *testing.T) {
	s := testServer(t, &fakeLoader{err: errors.New("dial tcp 127.0.0.1:5432: connection refused")})
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/textbooks/tb1/graph/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	errBody := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "CF-DB-5002", errBody["code"])
}

func TestUnknownRoutes(t *testing.T) {
	s := testServer(t, &fakeLoader{})
	h := s.Routes()
	for _, path := range []string{"/textbooks/tb1", "/textbooks/tb1/nope", "/textbooks/tb1/chapters/extra"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/textbooks/tb1/graph/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPreviewRunsPipelineInMemory(t *testing.T) {
	s := testServer(t, &fakeLoader{})
	chapter := "Chapter 3\nMaterials Around Us\n\nMaterials around us are made of many different substances.\n\n" +
		"Activity 3.1 Let us record the materials\nCollect five objects from your classroom and note what each is made of.\n\n" +
		"After Activity 3.1 you will notice that the same material can be used to make many objects."
	body, err := json.Marshal(previewRequest{Chapters: []previewChapter{
		{Name: "ch3.txt", Text: chapter},
		{Name: "blank.txt", Text: "   "},
	}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Outcomes []struct {
			Chapter models.ChapterInfo `json:"chapter"`
			Status  string             `json:"status"`
			Chunks  int                `json:"chunks"`
		} `json:"outcomes"`
		Graph graph.Stats `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Outcomes, 2)
	assert.Equal(t, 3, resp.Outcomes[0].Chapter.Number)
	assert.Equal(t, "published", resp.Outcomes[0].Status)
	assert.Positive(t, resp.Outcomes[0].Chunks)
	assert.Equal(t, "failed", resp.Outcomes[1].Status)
	assert.Equal(t, 1, resp.Graph.Chapters)
	assert.Positive(t, resp.Graph.Sections)
}

func TestPreviewReportsChapterNumberCollision(t *testing.T) {
	s := testServer(t, &fakeLoader{})
	s.cfg.MaxParallelChapters = 1
	body, err := json.Marshal(previewRequest{Chapters: []previewChapter{
		{Name: "intro.txt", Text: "1.1 Plants\nPlants make their own food from sunlight and water."},
		{Name: "glossary.txt", Text: "1.1 Animals\nAnimals eat plants or other animals.\n\n1.2 Habitats\nA habitat is the home of a living thing."},
	}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Outcomes []struct {
			Chapter models.ChapterInfo `json:"chapter"`
			Status  string             `json:"status"`
			Error   string             `json:"error"`
		} `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Outcomes, 2)
	assert.Equal(t, 1, resp.Outcomes[0].Chapter.Number)
	assert.Equal(t, 1, resp.Outcomes[1].Chapter.Number)
	assert.Equal(t, "published", resp.Outcomes[0].Status)
	assert.Equal(t, "failed", resp.Outcomes[1].Status)
	assert.Contains(t, resp.Outcomes[1].Error, graph.ErrChapterConflict.Error())
}

func TestPreviewRejectsBadInput(t *testing.T) {
	s := testServer(t, &fakeLoader{})
	h := s.Routes()
	cases := map[string]string{
		"empty":     `{"chapters":[]}`,
		"malformed": `{"chapters":`,
	}
	for name, body := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	var many []previewChapter
	for i := 0; i <= previewMaxChapters; i++ {
		many = append(many, previewChapter{Text: fmt.Sprintf("Chapter %d\nT\n\nbody", i+1)})
	}
	b, err := json.Marshal(previewRequest{Chapters: many})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(string(b))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"].(map[string]any)["message"], "too many chapters")
}

func TestProgressFromChapters(t *testing.T) {
	prog := progressFromChapters("tb1", []models.Chapter{
		{Filename: "ch1.pdf", Status: storage.ChapterPublished},
		{Filename: "ch2.pdf", Status: storage.ChapterFailed},
		{Filename: "ch3.pdf", Status: storage.ChapterProcessing},
	})
	assert.Equal(t, 3, prog.Total)
	assert.Equal(t, 2, prog.Done)
	assert.Equal(t, 1, prog.Failed)
	assert.Equal(t, storage.ChapterProcessing, prog.PerChapter["ch3.pdf"])
}

func TestIsChapterFile(t *testing.T) {
	assert.True(t, isChapterFile("ch1.PDF"))
	assert.True(t, isChapterFile("notes.txt"))
	assert.False(t, isChapterFile("cover.png"))
}

func TestToAPIError(t *testing.T) {
	cases := []struct {
		status int
		err    error
		code   string
		msg    string
	}{
		{http.StatusBadRequest, errors.New("name is required"), "CF-API-4001", "Textbook name is required."},
		{http.StatusBadRequest, errors.New("invalid json: unexpected EOF"), "CF-API-4001", "Malformed JSON request body."},
		{http.StatusBadRequest, errors.New("q is required"), "CF-API-4001", "q is required"},
		{http.StatusBadRequest, errors.New("secret internals"), "CF-API-4001", "Invalid request. Check inputs and retry."},
		{http.StatusNotFound, errors.New("not found"), "CF-API-4004", "Requested resource was not found."},
		{http.StatusBadGateway, errors.New("all embedding providers failed"), "CF-API-5020", "Oracle providers unavailable. Retry shortly."},
		{http.StatusInternalServerError, errors.New(`relation "chunks" does not exist`), "CF-DB-5001", ""},
		{http.StatusInternalServerError, errors.New("boom"), "CF-API-5000", ""},
	}
	for _, tc := range cases {
		got := toAPIError(tc.status, tc.err)
		assert.Equal(t, tc.code, got.Code, tc.err.Error())
		if tc.msg != "" {
			assert.Equal(t, tc.msg, got.Message)
		}
	}
}
