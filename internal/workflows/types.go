package workflows

type TextbookIngestInput struct {
	TextbookID            string `json:"textbook_id"`
	InputDir              string `json:"input_dir"`
	MaxConcurrentChildren int    `json:"max_concurrent_children"`
}

type ChapterIngestInput struct {
	TextbookID  string `json:"textbook_id"`
	ChapterPath string `json:"chapter_path"`
}

type BackfillInput struct {
	TextbookID string `json:"textbook_id"`
	// Mode is "failed" (re-run failed chapters) or "graph_mirror".
	Mode       string `json:"mode"`
	DataInRoot string `json:"data_in_root,omitempty"`
}

// ChapterCounts mirrors what ends up on the chapters row.
type ChapterCounts struct {
	Sections    int `json:"sections"`
	Enriched    int `json:"enriched"`
	Defaulted   int `json:"defaulted"`
	Chunks      int `json:"chunks"`
	Records     int `json:"records"`
	Flagged     int `json:"flagged"`
	Unvalidated int `json:"unvalidated"`
	References  int `json:"references"`
	Dangling    int `json:"dangling"`
	NewNodes    int `json:"new_nodes"`
	Pending     int `json:"pending_added"`
}

type ChapterStatus struct {
	ChapterID     string            `json:"chapter_id"`
	ChapterPath   string            `json:"chapter_path"`
	ChapterNumber int               `json:"chapter_number,omitempty"`
	Title         string            `json:"title,omitempty"`
	CurrentStep   string            `json:"current_step"`
	Status        string            `json:"status"`
	FailReason    string            `json:"fail_reason,omitempty"`
	Steps         map[string]string `json:"steps"`
	Counts        ChapterCounts     `json:"counts"`
}

type TextbookIngestProgress struct {
	TextbookID    string            `json:"textbook_id"`
	Total         int               `json:"total"`
	Done          int               `json:"done"`
	Failed        int               `json:"failed"`
	PerChapter    map[string]string `json:"per_chapter_status"`
	ChildWorkflow map[string]string `json:"child_workflow_ids,omitempty"`
}
