package storage

import (
	"context"
	"fmt"
)

const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS textbooks (
  textbook_id UUID PRIMARY KEY,
  name TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chapters (
  chapter_id TEXT PRIMARY KEY,
  textbook_id UUID NOT NULL REFERENCES textbooks(textbook_id) ON DELETE CASCADE,
  filename TEXT NOT NULL,
  chapter_number INT NOT NULL DEFAULT 0,
  title TEXT,
  status TEXT NOT NULL CHECK (status IN ('pending','processing','published','failed')),
  fail_reason TEXT,
  section_count INT NOT NULL DEFAULT 0,
  chunk_count INT NOT NULL DEFAULT 0,
  flagged_count INT NOT NULL DEFAULT 0,
  reference_count INT NOT NULL DEFAULT 0,
  dangling_count INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chapters_textbook ON chapters(textbook_id, chapter_number);

CREATE TABLE IF NOT EXISTS chunks (
  record_id UUID PRIMARY KEY,
  textbook_id UUID NOT NULL REFERENCES textbooks(textbook_id) ON DELETE CASCADE,
  chapter_number INT NOT NULL,
  chunk_id INT NOT NULL,
  chunk_index INT NOT NULL,
  toc_section_id TEXT NOT NULL,
  section_title TEXT NOT NULL DEFAULT '',
  content_type TEXT NOT NULL,
  content_weight DOUBLE PRECISION NOT NULL,
  is_activity BOOLEAN NOT NULL DEFAULT FALSE,
  content TEXT NOT NULL,
  payload JSONB NOT NULL DEFAULT '{}'::jsonb,
  similarity DOUBLE PRECISION,
  flagged BOOLEAN NOT NULL DEFAULT FALSE,
  embedding_version TEXT NOT NULL DEFAULT '',
  embedding vector,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (textbook_id, chapter_number, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_chunks_section ON chunks(textbook_id, toc_section_id);

CREATE TABLE IF NOT EXISTS validation_flags (
  textbook_id UUID NOT NULL REFERENCES textbooks(textbook_id) ON DELETE CASCADE,
  chapter_number INT NOT NULL,
  chunk_id INT NOT NULL,
  toc_section_id TEXT NOT NULL,
  similarity DOUBLE PRECISION,
  threshold DOUBLE PRECISION NOT NULL,
  reason TEXT NOT NULL,
  PRIMARY KEY (textbook_id, chapter_number, chunk_id)
);

CREATE TABLE IF NOT EXISTS chunk_references (
  id BIGSERIAL PRIMARY KEY,
  textbook_id UUID NOT NULL REFERENCES textbooks(textbook_id) ON DELETE CASCADE,
  chapter_number INT NOT NULL,
  source_chunk_id INT NOT NULL,
  ref_type TEXT NOT NULL CHECK (ref_type IN ('activity','section','chapter','figure','table','page','implicit')),
  target_id TEXT,
  reference_text TEXT NOT NULL,
  context TEXT NOT NULL,
  position INT NOT NULL,
  requires_resolution BOOLEAN NOT NULL DEFAULT FALSE,
  resolved BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_refs_target ON chunk_references(textbook_id, target_id);

CREATE TABLE IF NOT EXISTS graph_chapters (
  textbook_id UUID NOT NULL REFERENCES textbooks(textbook_id) ON DELETE CASCADE,
  chapter_number INT NOT NULL,
  source TEXT NOT NULL DEFAULT '',
  merged_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (textbook_id, chapter_number)
);
ALTER TABLE graph_chapters ADD COLUMN IF NOT EXISTS source TEXT NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS graph_nodes (
  textbook_id UUID NOT NULL REFERENCES textbooks(textbook_id) ON DELETE CASCADE,
  node_id INT NOT NULL,
  node_key TEXT NOT NULL,
  kind TEXT NOT NULL CHECK (kind IN ('section','concept')),
  label TEXT NOT NULL,
  chapter_number INT,
  section_id TEXT,
  section_type TEXT,
  PRIMARY KEY (textbook_id, node_id),
  UNIQUE (textbook_id, node_key)
);

CREATE TABLE IF NOT EXISTS graph_edges (
  textbook_id UUID NOT NULL REFERENCES textbooks(textbook_id) ON DELETE CASCADE,
  source_node_id INT NOT NULL,
  target_node_id INT NOT NULL,
  kind TEXT NOT NULL CHECK (kind IN ('covers','references')),
  weight DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (textbook_id, source_node_id, target_node_id, kind)
);

CREATE TABLE IF NOT EXISTS graph_pending_refs (
  textbook_id UUID NOT NULL REFERENCES textbooks(textbook_id) ON DELETE CASCADE,
  seq BIGSERIAL,
  from_key TEXT NOT NULL,
  target_key TEXT NOT NULL,
  ref_count INT NOT NULL,
  PRIMARY KEY (textbook_id, from_key, target_key)
);

CREATE TABLE IF NOT EXISTS oracle_calls (
  call_id UUID PRIMARY KEY,
  operation TEXT NOT NULL,
  textbook_id UUID,
  chapter_id TEXT,
  provider_name TEXT NOT NULL,
  model TEXT NOT NULL DEFAULT '',
  provider_key TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL CHECK (status IN ('ok','failed')),
  error_type TEXT,
  latency_ms BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_oracle_calls_op ON oracle_calls(operation, created_at DESC);
`

// EnsureSchema creates every table the service needs. Safe to run on each start.
func EnsureSchema(ctx context.Context, db *DB) error {
	if _, err := db.Pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
