package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"chapterflow/internal/logger"
	"chapterflow/internal/providers"
)

type OracleCallRecord struct {
	CallID       string
	Operation    string
	TextbookID   string
	ChapterID    string
	ProviderName string
	Model        string
	ProviderKey  string
	Status       string
	ErrorType    string
	LatencyMS    int64
}

type OracleAuditRepo struct {
	db *DB
}

func NewOracleAuditRepo(db *DB) *OracleAuditRepo {
	return &OracleAuditRepo{db: db}
}

func (r *OracleAuditRepo) Insert(ctx context.Context, rec OracleCallRecord) error {
	if rec.CallID == "" {
		rec.CallID = uuid.NewString()
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO oracle_calls(call_id, operation, textbook_id, chapter_id, provider_name, model, provider_key, status, error_type, latency_ms)
VALUES ($1::uuid, $2, NULLIF($3,'')::uuid, NULLIF($4,''), $5, $6, $7, $8, NULLIF($9,''), $10)`,
		rec.CallID, rec.Operation, rec.TextbookID, rec.ChapterID, rec.ProviderName, rec.Model, rec.ProviderKey,
		rec.Status, rec.ErrorType, rec.LatencyMS)
	if err != nil {
		return fmt.Errorf("insert oracle call: %w", err)
	}
	return nil
}

type auditScopeKey struct{}

type auditScope struct {
	textbookID string
	chapterID  string
}

// WithAuditScope attributes oracle calls made under ctx to a textbook and
// chapter. A shared recorder uses it when its own ids are empty.
func WithAuditScope(ctx context.Context, textbookID, chapterID string) context.Context {
	return context.WithValue(ctx, auditScopeKey{}, auditScope{textbookID: textbookID, chapterID: chapterID})
}

// AuditRecorder adapts the repo to providers.CallRecorder. Audit failures are
// logged and never reach the caller.
type AuditRecorder struct {
	Repo       *OracleAuditRepo
	TextbookID string
	ChapterID  string
	Log        *logger.Logger
}

func (a AuditRecorder) RecordCall(ctx context.Context, rec providers.CallRecord) {
	if a.Repo == nil {
		return
	}
	textbookID, chapterID := a.TextbookID, a.ChapterID
	if scope, ok := ctx.Value(auditScopeKey{}).(auditScope); ok {
		if textbookID == "" {
			textbookID = scope.textbookID
		}
		if chapterID == "" {
			chapterID = scope.chapterID
		}
	}
	err := a.Repo.Insert(context.WithoutCancel(ctx), OracleCallRecord{
		Operation:    rec.Operation,
		TextbookID:   textbookID,
		ChapterID:    chapterID,
		ProviderName: rec.Provider.Name,
		Model:        rec.Provider.Model,
		ProviderKey:  rec.Provider.Key,
		Status:       rec.Status,
		ErrorType:    string(rec.ErrorType),
		LatencyMS:    rec.LatencyMS,
	})
	if err != nil {
		logger.OrNop(a.Log).Warn("oracle audit insert failed", "operation", rec.Operation, "error", err)
	}
}
