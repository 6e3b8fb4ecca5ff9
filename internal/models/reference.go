package models

type ReferenceType string

const (
	RefActivity ReferenceType = "activity"
	RefSection  ReferenceType = "section"
	RefChapter  ReferenceType = "chapter"
	RefFigure   ReferenceType = "figure"
	RefTable    ReferenceType = "table"
	RefPage     ReferenceType = "page"
	RefImplicit ReferenceType = "implicit"
)

// ReferenceTypes lists every reference kind in reporting order.
var ReferenceTypes = []ReferenceType{RefActivity, RefSection, RefChapter, RefFigure, RefTable, RefPage, RefImplicit}

func (t ReferenceType) Valid() bool {
	switch t {
	case RefActivity, RefSection, RefChapter, RefFigure, RefTable, RefPage, RefImplicit:
		return true
	default:
		return false
	}
}

type Reference struct {
	Type               ReferenceType `json:"type"`
	SourceID           int           `json:"source_id"`
	TargetID           *string       `json:"target_id"`
	ReferenceText      string        `json:"reference_text"`
	Context            string        `json:"context"`
	Position           int           `json:"position"`
	Chapter            int           `json:"chapter"`
	RequiresResolution bool          `json:"requires_resolution,omitempty"`
}

func (r Reference) Target() string {
	if r.TargetID == nil {
		return ""
	}
	return *r.TargetID
}
