package types

// Quote is one verbatim supporting quote extracted from a paper's merged
// text, tagged with an inline citation marker for its reference number.
// The owning internal/evidence package enforces the substring invariant
// before a Quote is constructed.
type Quote struct {
	ID     string `json:"id" yaml:"id"`
	Text   string `json:"text" yaml:"text"`
	Marker string `json:"marker" yaml:"marker"`
}

// ExtractedQuoteSet is the per-paper output of the Evidence Extractor.
type ExtractedQuoteSet struct {
	ReferenceNumber int     `json:"reference_number" yaml:"reference_number"`
	CorpusID        string  `json:"corpus_id" yaml:"corpus_id"`
	Quotes          []Quote `json:"quotes" yaml:"quotes"`
}

// QuoteHandle points at one quote within an ExtractedQuoteSet by reference
// number and index, without copying the quote text.
type QuoteHandle struct {
	ReferenceNumber int `json:"reference_number" yaml:"reference_number"`
	QuoteIndex      int `json:"quote_index" yaml:"quote_index"`
}
