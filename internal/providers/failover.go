package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chapterflow/internal/util"
)

// Failover walks the manager's providers in preferred order, benching a
// provider for a class-dependent cooldown after it fails. Context-length
// errors are returned immediately since another provider would see the
// same request.
type Failover struct {
	m        *Manager
	cooldown time.Duration
	recorder CallRecorder
	now      func() time.Time

	mu            sync.Mutex
	disabledUntil map[string]time.Time
}

func NewFailover(m *Manager, cooldown time.Duration, recorder CallRecorder) *Failover {
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Failover{
		m:             m,
		cooldown:      cooldown,
		recorder:      recorder,
		now:           time.Now,
		disabledUntil: map[string]time.Time{},
	}
}

func (f *Failover) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	return attempt(ctx, f, "llm", req.Operation, f.m.LLMs(), func(p LLMProvider) (GenerateResponse, ProviderInfo, error) {
		return p.Generate(ctx, req)
	})
}

func (f *Failover) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	return attempt(ctx, f, "embed", req.Operation, f.m.Embedders(), func(p EmbeddingProvider) ([][]float32, ProviderInfo, error) {
		return p.Embed(ctx, req)
	})
}

func attempt[T, P any](ctx context.Context, f *Failover, kind, op string, providers []Named[P], call func(P) (T, ProviderInfo, error)) (T, ProviderInfo, error) {
	var (
		zero     T
		lastErr  error
		lastInfo ProviderInfo
	)
	for _, n := range providers {
		key := kind + "/" + n.Ref.Raw
		if f.disabled(key) {
			continue
		}
		start := f.now()
		out, info, err := call(n.Provider)
		f.record(ctx, op, info, start, err)
		if err == nil {
			return out, info, nil
		}
		lastErr, lastInfo = err, info
		if ctx.Err() != nil {
			return zero, info, ctx.Err()
		}
		errType := ClassifyError(err)
		if errType == ErrorContext {
			return zero, info, err
		}
		f.disable(key, errType.Cooldown(f.cooldown))
	}
	return zero, lastInfo, exhausted(kind, lastErr)
}

func exhausted(kind string, lastErr error) error {
	if lastErr == nil {
		return fmt.Errorf("%s: %w: %w", kind, util.ErrProvidersExhausted, util.ErrProviderCoolingOff)
	}
	return fmt.Errorf("%s: %w: %w", kind, util.ErrProvidersExhausted, lastErr)
}

func (f *Failover) disabled(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.disabledUntil[key]
	return ok && f.now().Before(until)
}

func (f *Failover) disable(key string, d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.disabledUntil[key] = f.now().Add(d)
	f.mu.Unlock()
}

func (f *Failover) record(ctx context.Context, op string, info ProviderInfo, start time.Time, err error) {
	if f.recorder == nil {
		return
	}
	rec := CallRecord{
		Operation: op,
		Provider:  info,
		Status:    "ok",
		LatencyMS: f.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		rec.Status = "failed"
		rec.ErrorType = ClassifyError(err)
	}
	f.recorder.RecordCall(ctx, rec)
}
