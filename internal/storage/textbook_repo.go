package storage

import (
	"context"
	"fmt"

	"chapterflow/internal/models"
)

type TextbookRepo struct {
	db *DB
}

func NewTextbookRepo(db *DB) *TextbookRepo {
	return &TextbookRepo{db: db}
}

func (r *TextbookRepo) CreateTextbook(ctx context.Context, tb models.Textbook) error {
	_, err := r.db.Pool.Exec(ctx, `INSERT INTO textbooks (textbook_id, name) VALUES ($1, $2)`, tb.TextbookID, tb.Name)
	if err != nil {
		return fmt.Errorf("insert textbook: %w", err)
	}
	return nil
}

func (r *TextbookRepo) GetTextbook(ctx context.Context, textbookID string) (models.Textbook, error) {
	var tb models.Textbook
	err := r.db.Pool.QueryRow(ctx, `SELECT textbook_id::text, name, created_at FROM textbooks WHERE textbook_id=$1::uuid`, textbookID).
		Scan(&tb.TextbookID, &tb.Name, &tb.CreatedAt)
	if err != nil {
		return models.Textbook{}, fmt.Errorf("get textbook: %w", err)
	}
	return tb, nil
}

func (r *TextbookRepo) ListTextbooks(ctx context.Context) ([]models.Textbook, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT textbook_id::text, name, created_at FROM textbooks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list textbooks: %w", err)
	}
	defer rows.Close()

	out := make([]models.Textbook, 0)
	for rows.Next() {
		var tb models.Textbook
		if err := rows.Scan(&tb.TextbookID, &tb.Name, &tb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan textbook: %w", err)
		}
		out = append(out, tb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate textbooks: %w", err)
	}
	return out, nil
}
