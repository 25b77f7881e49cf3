package types

// Column is one proposed comparison dimension in a Table.
type Column struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Row is one paper's entry in a Table.
type Row struct {
	ID           string `json:"id" yaml:"id"`
	CorpusID     string `json:"corpus_id" yaml:"corpus_id"`
	DisplayLabel string `json:"display_label" yaml:"display_label"`
}

// Cell is one (row, column) entry's value: a short display string and an
// optional pointer back to the quote that supports it.
type Cell struct {
	Display  string       `json:"display" yaml:"display"`
	Evidence *QuoteHandle `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// NACell is the sentinel value used when a cell has no extractable value.
const NACell = "N/A"

// Table is a list section's comparison table: ordered columns, ordered
// rows, and a value for every (row, column) pair. CellKey is the string
// serialization used as the wire map key and as the in-memory index.
type Table struct {
	Columns []Column          `json:"columns" yaml:"columns"`
	Rows    []Row             `json:"rows" yaml:"rows"`
	Cells   map[string]Cell   `json:"cells" yaml:"cells"`
}

// CellKey builds the "<row_id>_<col_id>" wire key for a table cell.
func CellKey(rowID, colID string) string {
	return rowID + "_" + colID
}

// Get returns the cell at (rowID, colID), or the N/A sentinel if absent.
func (t Table) Get(rowID, colID string) Cell {
	if c, ok := t.Cells[CellKey(rowID, colID)]; ok {
		return c
	}
	return Cell{Display: NACell}
}

// Complete reports whether every (row, column) pair has an entry, per the
// Table invariant.
func (t Table) Complete() bool {
	for _, r := range t.Rows {
		for _, c := range t.Columns {
			if _, ok := t.Cells[CellKey(r.ID, c.ID)]; !ok {
				return false
			}
		}
	}
	return true
}
