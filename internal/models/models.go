package models

import "time"

type Textbook struct {
	TextbookID string    `json:"textbook_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Chapter is the persisted processing status of one chapter file.
type Chapter struct {
	ChapterID      string    `json:"chapter_id"`
	TextbookID     string    `json:"textbook_id"`
	Filename       string    `json:"filename"`
	Number         int       `json:"chapter_number"`
	Title          string    `json:"title,omitempty"`
	Status         string    `json:"status"`
	FailReason     string    `json:"fail_reason,omitempty"`
	SectionCount   int       `json:"section_count"`
	ChunkCount     int       `json:"chunk_count"`
	FlaggedCount   int       `json:"flagged_count"`
	ReferenceCount int       `json:"reference_count"`
	DanglingCount  int       `json:"dangling_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ChapterInfo struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

type Page struct {
	Number int    `json:"page_number"`
	Text   string `json:"text"`
}

// RawDocument is the extraction collaborator's output for one chapter.
// Source identifies the document (chapter id or file name); two documents
// must never share one.
type RawDocument struct {
	Source   string      `json:"source,omitempty"`
	Pages    []Page      `json:"pages"`
	FullText string      `json:"full_text"`
	Chapter  ChapterInfo `json:"chapter_info"`
}

type SearchResult struct {
	RecordID      string  `json:"record_id"`
	ChapterNumber int     `json:"chapter_number"`
	ChunkID       int     `json:"chunk_id"`
	SectionID     string  `json:"toc_section_id"`
	SectionTitle  string  `json:"section_title"`
	ContentType   string  `json:"content_type"`
	ContentWeight float64 `json:"content_weight"`
	Similarity    float64 `json:"similarity"`
	Score         float64 `json:"score"`
	Snippet       string  `json:"snippet"`
	Content       string  `json:"content,omitempty"`
}
