package types

import "strconv"

// SnippetKind classifies the origin of a Candidate Passage's text.
type SnippetKind string

const (
	SnippetAbstract SnippetKind = "abstract"
	SnippetBody     SnippetKind = "body"
	SnippetTitle    SnippetKind = "title"
	SnippetOther    SnippetKind = "other"
)

// Offsets locates a passage within its source document, when known.
type Offsets struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// CandidatePassage is a short span of text within a paper, as returned by
// the Paper Index Adapter's snippet or keyword search. The pair
// (CorpusID, Offsets) is the dedup key: a paper location is unique.
type CandidatePassage struct {
	CorpusID string      `json:"corpus_id" yaml:"corpus_id"`
	Text     string      `json:"text" yaml:"text"`
	Section  string      `json:"section,omitempty" yaml:"section,omitempty"`
	Kind     SnippetKind `json:"kind" yaml:"kind"`
	Score    float64     `json:"score" yaml:"score"`
	Offsets  *Offsets    `json:"offsets,omitempty" yaml:"offsets,omitempty"`
}

// DedupKey identifies the paper location a passage came from. Passages
// lacking offsets (e.g. a synthetic abstract passage) key on CorpusID plus
// Kind alone, since there is at most one such synthetic passage per paper.
func (c CandidatePassage) DedupKey() string {
	if c.Offsets == nil {
		return c.CorpusID + "|" + string(c.Kind)
	}
	return c.CorpusID + "|" + strconv.Itoa(c.Offsets.Start) + "-" + strconv.Itoa(c.Offsets.End)
}

// RerankedPassage pairs a Candidate Passage with its reranker score.
// Passages scoring below the configured context threshold are dropped
// before they reach RerankedPassage.
type RerankedPassage struct {
	CandidatePassage
	RerankScore float64 `json:"rerank_score" yaml:"rerank_score"`
}

// PaperAggregate is the deduplicated, merged view of all kept passages for
// one paper within a Task. ReferenceNumber is assigned densely from 1 in
// descending AggregateScore order; each kept corpus id maps to exactly one
// reference number within a Task.
type PaperAggregate struct {
	CorpusID        string  `json:"corpus_id" yaml:"corpus_id"`
	MergedText      string  `json:"merged_text" yaml:"merged_text"`
	AggregateScore  float64 `json:"aggregate_score" yaml:"aggregate_score"`
	ReferenceNumber int     `json:"reference_number" yaml:"reference_number"`
	Record          PaperRecord `json:"record" yaml:"record"`
}
