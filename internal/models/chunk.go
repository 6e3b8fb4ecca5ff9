package models

type ChunkMetadata struct {
	Chapter            int         `json:"chapter_number"`
	ChapterTitle       string      `json:"chapter_title"`
	SectionTitle       string      `json:"section_title"`
	SectionType        SectionType `json:"section_type"`
	ContentPriority    Priority    `json:"content_priority"`
	KeyConcepts        []string    `json:"key_concepts"`
	LearningObjectives []string    `json:"learning_objectives"`
	DifficultyLevel    string      `json:"difficulty_level"`
	CognitiveLevel     string      `json:"cognitive_level"`
	RelatedActivities  []string    `json:"related_activities"`
	IsActivity         bool        `json:"is_activity"`
}

type Chunk struct {
	ID            int           `json:"id"`
	Content       string        `json:"content"`
	SectionID     string        `json:"toc_section_id"`
	ChunkIndex    int           `json:"chunk_index"`
	ContentWeight float64       `json:"content_weight"`
	Metadata      ChunkMetadata `json:"metadata"`
}

// ValidationResult is advisory: a nil SimilarityScore means the chunk could not be scored.
type ValidationResult struct {
	ChunkID         int      `json:"chunk_id"`
	SectionID       string   `json:"toc_section_id"`
	SimilarityScore *float64 `json:"similarity_score"`
	Threshold       float64  `json:"threshold"`
	Flagged         bool     `json:"flagged"`
	Reason          string   `json:"reason,omitempty"`
}

// ChunkPayload is what the content store keeps next to each vector.
type ChunkPayload struct {
	ChunkMetadata
	ChunkID         int      `json:"chunk_id"`
	ChunkIndex      int      `json:"chunk_index"`
	TOCSectionID    string   `json:"toc_section_id"`
	ContentType     string   `json:"content_type"`
	ContentWeight   float64  `json:"content_weight"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
	Flagged         bool     `json:"validation_flagged"`
}

type VectorRecord struct {
	ID      string       `json:"id"`
	Content string       `json:"content"`
	Vector  []float32    `json:"vector,omitempty"`
	Payload ChunkPayload `json:"payload"`
}
