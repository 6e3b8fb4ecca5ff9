package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chapterflow/internal/util"
)

type scriptedLLM struct {
	name  string
	err   error
	calls int
}

func (s *scriptedLLM) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	s.calls++
	info := ProviderInfo{Name: s.name}
	if s.err != nil {
		return GenerateResponse{}, info, s.err
	}
	return GenerateResponse{Text: s.name}, info, nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []CallRecord
}

func (m *memRecorder) RecordCall(ctx context.Context, rec CallRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
}

func TestFailoverSkipsFailingProviderAndCoolsItDown(t *testing.T) {
	bad := &scriptedLLM{name: "openai", err: errors.New("429 rate limited")}
	good := &scriptedLLM{name: "groq"}
	m := NewStaticManager([]NamedLLMProvider{
		{Ref: ProviderRef{Raw: "openai", Name: "openai"}, Provider: bad},
		{Ref: ProviderRef{Raw: "groq", Name: "groq"}, Provider: good},
	}, nil)
	rec := &memRecorder{}
	f := NewFailover(m, time.Minute, rec)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return clock }

	resp, info, err := f.Generate(context.Background(), GenerateRequest{Operation: "toc_expand"})
	require.NoError(t, err)
	require.Equal(t, "groq", resp.Text)
	require.Equal(t, "groq", info.Name)
	require.Len(t, rec.recs, 2)
	require.Equal(t, "failed", rec.recs[0].Status)
	require.Equal(t, ErrorRate, rec.recs[0].ErrorType)

	_, _, err = f.Generate(context.Background(), GenerateRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, bad.calls, "benched provider must be skipped")

	clock = clock.Add(2 * time.Minute)
	_, _, _ = f.Generate(context.Background(), GenerateRequest{})
	require.Equal(t, 2, bad.calls)
}

func TestFailoverExhausted(t *testing.T) {
	m := NewStaticManager([]NamedLLMProvider{
		{Ref: ProviderRef{Raw: "openai", Name: "openai"}, Provider: &scriptedLLM{name: "openai", err: errors.New("bad request")}},
	}, nil)
	f := NewFailover(m, time.Minute, nil)
	_, _, err := f.Generate(context.Background(), GenerateRequest{})
	require.ErrorIs(t, err, util.ErrProvidersExhausted)

	_, _, err = f.Generate(context.Background(), GenerateRequest{})
	require.ErrorIs(t, err, util.ErrProviderCoolingOff)
}

func TestFailoverContextErrorStopsImmediately(t *testing.T) {
	first := &scriptedLLM{name: "a", err: errors.New("maximum context length exceeded")}
	second := &scriptedLLM{name: "b"}
	m := NewStaticManager([]NamedLLMProvider{
		{Ref: ProviderRef{Raw: "a", Name: "a"}, Provider: first},
		{Ref: ProviderRef{Raw: "b", Name: "b"}, Provider: second},
	}, nil)
	_, _, err := NewFailover(m, time.Minute, nil).Generate(context.Background(), GenerateRequest{})
	require.Error(t, err)
	require.Zero(t, second.calls)
}

func TestFailoverEmbedFallsBackToMock(t *testing.T) {
	m := NewStaticManager(nil, []NamedEmbedProvider{
		{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider(8)},
	})
	vecs, info, err := NewFailover(m, 0, nil).Embed(context.Background(), EmbedRequest{Inputs: []string{"a b c"}})
	require.NoError(t, err)
	require.Equal(t, "mock", info.Name)
	require.Len(t, vecs[0], 8)
}
