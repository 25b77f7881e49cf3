// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tablebuilder implements the Table Builder: column proposal,
// bounded-fan-out cell extraction and column normalization for
// list-formatted sections. The cell fan-out pool mirrors
// internal/evidence's worker-pool shape.
package tablebuilder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pdiddy/scholarqa-engine/internal/llm"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

const columnSystemPrompt = `You propose comparison columns for a table summarizing several scientific papers in response to a
research question. Return a JSON object with field "columns": an ordered list of objects with "id"
(short snake_case string), "name" (display string) and "description" (what to extract per paper).`

const cellSystemPrompt = `Extract one short fact from a paper's abstract for a single table column. Respond with a phrase
of at most ten words, or the literal string "N/A" if the abstract does not support an answer. Do not
explain your answer.`

const normalizeSystemPrompt = `You normalize a column of short table cell values extracted from different papers so that they use
a consistent unit and representation (e.g. "1.3B", "1300M" and "approximately 1.3 billion" should all
become the same normalized form). Return a JSON object with field "values": a list of normalized
strings aligned 1:1 with the input list, in the same order. Preserve "N/A" values as-is.`

type columnPayload struct {
	Columns []types.Column `json:"columns"`
}

type normalizePayload struct {
	Values []string `json:"values"`
}

// Builder builds a Table for one list-formatted section.
type Builder struct {
	Client     *llm.Client
	Primary    llm.Model
	Fallbacks  []llm.Model
	Config     types.TableConfig
	MaxWorkers int
}

// Eligible reports whether a section qualifies for table construction:
// format=list and at least MinCitedPapers distinct cited papers.
func (b *Builder) Eligible(format types.SectionFormat, citedCount int) bool {
	return format == types.FormatList && citedCount >= b.Config.MinCitedPapers
}

// Build runs the three-stage pipeline. citedRefs is the ordered,
// deduplicated list of reference numbers cited in the section; papers is
// indexed by reference number. A column-proposal failure yields no table
// (nil, warning); cell and normalization failures degrade per-value and
// never abort table construction once columns exist.
func (b *Builder) Build(ctx context.Context, userQuery, sectionName string, citedRefs []int, papers map[int]types.PaperRecord) (*types.Table, []string) {
	var warnings []string

	columns, err := b.proposeColumns(ctx, userQuery, sectionName)
	if err != nil {
		return nil, []string{fmt.Sprintf("table column proposal failed, section emitted without a table: %v", err)}
	}
	if b.Config.MaxColumns > 0 && len(columns) > b.Config.MaxColumns {
		columns = columns[:b.Config.MaxColumns]
	}
	if len(columns) == 0 {
		return nil, []string{"table column proposal returned no columns, section emitted without a table"}
	}

	refs := citedRefs
	if b.Config.MaxRows > 0 && len(refs) > b.Config.MaxRows {
		refs = refs[:b.Config.MaxRows]
	}

	rows := make([]types.Row, 0, len(refs))
	for _, ref := range refs {
		rec := papers[ref]
		rows = append(rows, types.Row{
			ID:           fmt.Sprintf("row-%d", ref),
			CorpusID:     rec.CorpusID,
			DisplayLabel: fmt.Sprintf("%s %d", rec.FirstAuthorRef(), rec.Year),
		})
	}

	cells, cellWarnings := b.extractCells(ctx, rows, columns, papers, refs)
	warnings = append(warnings, cellWarnings...)

	b.normalizeColumns(ctx, columns, rows, cells)

	return &types.Table{Columns: columns, Rows: rows, Cells: cells}, warnings
}

func (b *Builder) proposeColumns(ctx context.Context, userQuery, sectionName string) ([]types.Column, error) {
	var payload columnPayload
	_, err := b.Client.CompleteStructured(ctx, b.Primary, b.Fallbacks,
		columnSystemPrompt,
		fmt.Sprintf("Question: %s\nSection: %s", userQuery, sectionName),
		llm.CompletionOptions{RequiredFields: []string{"columns"}},
		&payload)
	if err != nil {
		return nil, err
	}
	return payload.Columns, nil
}

func (b *Builder) extractCells(ctx context.Context, rows []types.Row, columns []types.Column, papers map[int]types.PaperRecord, refs []int) (map[string]types.Cell, []string) {
	type job struct {
		row types.Row
		col types.Column
		ref int
	}
	type result struct {
		key  string
		cell types.Cell
	}

	var jobs []job
	for i, row := range rows {
		for _, col := range columns {
			jobs = append(jobs, job{row: row, col: col, ref: refs[i]})
		}
	}

	workers := b.MaxWorkers
	if workers <= 0 {
		workers = 1
	}

	jobCh := make(chan job)
	resultCh := make(chan result, len(jobs))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				resultCh <- result{key: types.CellKey(j.row.ID, j.col.ID), cell: b.extractCell(ctx, j.row, j.col, papers[j.ref])}
			}
		}()
	}
	go func() {
		for _, j := range jobs {
			jobCh <- j
		}
		close(jobCh)
	}()
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	cells := make(map[string]types.Cell, len(jobs))
	for r := range resultCh {
		cells[r.key] = r.cell
	}
	return cells, nil
}

func (b *Builder) extractCell(ctx context.Context, row types.Row, col types.Column, paper types.PaperRecord) types.Cell {
	userText := fmt.Sprintf("Column: %s\nDescription: %s\nAbstract: %s", col.Name, col.Description, paper.Abstract)
	completion, err := b.Client.Complete(ctx, b.Primary, b.Fallbacks, cellSystemPrompt, userText, llm.CompletionOptions{MaxOutputTokens: 32})
	if err != nil {
		return types.Cell{Display: types.NACell}
	}
	display := strings.TrimSpace(completion.Text)
	if display == "" {
		display = types.NACell
	}
	return types.Cell{Display: display}
}

// normalizeColumns normalizes each column's values in place. A failed
// normalization call leaves that column's raw cell values untouched.
func (b *Builder) normalizeColumns(ctx context.Context, columns []types.Column, rows []types.Row, cells map[string]types.Cell) {
	for _, col := range columns {
		raw := make([]string, len(rows))
		for i, row := range rows {
			raw[i] = cells[types.CellKey(row.ID, col.ID)].Display
		}

		var payload normalizePayload
		_, err := b.Client.CompleteStructured(ctx, b.Primary, b.Fallbacks,
			normalizeSystemPrompt,
			fmt.Sprintf("Column: %s\nValues: %v", col.Name, raw),
			llm.CompletionOptions{RequiredFields: []string{"values"}},
			&payload)
		if err != nil || len(payload.Values) != len(rows) {
			continue
		}
		for i, row := range rows {
			key := types.CellKey(row.ID, col.ID)
			cell := cells[key]
			cell.Display = payload.Values[i]
			cells[key] = cell
		}
	}
}
