package types

// SectionFormat distinguishes a prose section from a list-style section
// eligible for table construction.
type SectionFormat string

const (
	FormatSynthesis SectionFormat = "synthesis"
	FormatList      SectionFormat = "list"
)

// SectionPlan is one entry in an Outline: a named, typed group of quote
// handles. Section names are unique within an Outline.
type SectionPlan struct {
	Name    string        `json:"name" yaml:"name"`
	Format  SectionFormat `json:"format" yaml:"format"`
	Quotes  []QuoteHandle `json:"quotes" yaml:"quotes"`
}

// Outline is the ordered list of Section Plans produced by the Outline
// Planner. Section order determines the order sections are synthesized
// and the order they appear in the final Result.
type Outline struct {
	Sections []SectionPlan `json:"sections" yaml:"sections"`
}

// SummaryOutline builds the degraded single-section plan used when the
// Outline Planner's structured call keeps violating its schema: every
// quote lands in one "Summary" section, in reference order.
func SummaryOutline(quoteSets []ExtractedQuoteSet) Outline {
	var handles []QuoteHandle
	for _, qs := range quoteSets {
		for i := range qs.Quotes {
			handles = append(handles, QuoteHandle{ReferenceNumber: qs.ReferenceNumber, QuoteIndex: i})
		}
	}
	return Outline{Sections: []SectionPlan{{
		Name:   "Summary",
		Format: FormatSynthesis,
		Quotes: handles,
	}}}
}
