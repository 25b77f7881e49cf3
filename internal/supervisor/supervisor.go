// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package supervisor implements the Task Supervisor: the component that
// drives one Task from queued through each pipeline stage to a terminal
// state, appending Steps and trace Records along the way and enforcing
// cross-Task admission, per-Task timeout and cooperative cancellation.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/scholarqa-engine/internal/adapters/moderation"
	"github.com/pdiddy/scholarqa-engine/internal/decompose"
	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
	"github.com/pdiddy/scholarqa-engine/internal/evidence"
	"github.com/pdiddy/scholarqa-engine/internal/llm"
	"github.com/pdiddy/scholarqa-engine/internal/obslog"
	"github.com/pdiddy/scholarqa-engine/internal/outline"
	"github.com/pdiddy/scholarqa-engine/internal/paperfinder"
	"github.com/pdiddy/scholarqa-engine/internal/synthesize"
	"github.com/pdiddy/scholarqa-engine/internal/tablebuilder"
	"github.com/pdiddy/scholarqa-engine/internal/taskstore"
	"github.com/pdiddy/scholarqa-engine/internal/tracestore"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// Step estimated durations (seconds), matched to the original pipeline's
// step_estimated_time values so a polling client sees comparable progress
// estimates to the source implementation.
const (
	estModerate  = 2.0
	estDecompose = 5.0
	estRetrieve  = 5.0
	estRerank    = 10.0
	estExtract   = 15.0
	estPlan      = 15.0
	estPerSection = 15.0
	estTables    = 20.0
)

// Supervisor drives Tasks through the pipeline. It holds one long-lived
// instance per process; Submit starts a new Task's pipeline on its own
// goroutine and returns immediately with the queued Task snapshot.
type Supervisor struct {
	Store        *taskstore.Store
	TraceBackend tracestore.Backend
	Moderation   moderation.Classifier
	Decomposer   *decompose.Decomposer
	Finder       *paperfinder.Finder
	Extractor    *evidence.Extractor
	Planner      *outline.Planner
	Synthesizer  *synthesize.Synthesizer
	Tables       *tablebuilder.Builder
	Tasks        types.TasksConfig
	Validate     bool
	Logger       *slog.Logger

	sem     chan struct{}
	initSem sync.Once

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs a Supervisor. Stage dependencies are wired by the caller
// (the CLI's command-tree assembly); the stage packages themselves expose
// plain structs rather than their own constructors.
func New(store *taskstore.Store, traceBackend tracestore.Backend, mod moderation.Classifier,
	decomposer *decompose.Decomposer, finder *paperfinder.Finder, extractor *evidence.Extractor,
	planner *outline.Planner, synthesizer *synthesize.Synthesizer, tables *tablebuilder.Builder,
	tasksCfg types.TasksConfig, validate bool, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if mod == nil {
		mod = moderation.NoOp{}
	}
	concurrent := tasksCfg.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 1
	}
	return &Supervisor{
		Store: store, TraceBackend: traceBackend, Moderation: mod,
		Decomposer: decomposer, Finder: finder, Extractor: extractor,
		Planner: planner, Synthesizer: synthesizer, Tables: tables,
		Tasks: tasksCfg, Validate: validate, Logger: logger,
		sem:     make(chan struct{}, concurrent),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit creates a new queued Task for rawQuery and starts its pipeline
// on a background goroutine, returning the Task's initial snapshot.
func (s *Supervisor) Submit(ctx context.Context, rawQuery, userID string, cfg types.PipelineConfig) (types.Task, error) {
	taskID := uuid.NewString()
	now := time.Now()
	task := &types.Task{
		ID: taskID, UserID: userID, Query: rawQuery,
		Status: types.TaskQueued, CreatedAt: now, UpdatedAt: now, Config: cfg,
	}
	if err := s.Store.Put(ctx, task); err != nil {
		return types.Task{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.mu.Unlock()

	go s.run(runCtx, taskID, rawQuery)

	return s.Store.Get(ctx, taskID)
}

// Poll returns the current Task snapshot for id.
func (s *Supervisor) Poll(ctx context.Context, id string) (types.Task, error) {
	return s.Store.Get(ctx, id)
}

// Cancel requests cooperative cancellation of an in-flight Task. It is a
// no-op error (ErrTaskNotFound) if the Task has already reached a
// terminal state and its cancel func was cleaned up.
func (s *Supervisor) Cancel(id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return scholarerrors.ErrTaskNotFound
	}
	cancel()
	return nil
}

func (s *Supervisor) forgetCancel(id string) {
	s.mu.Lock()
	delete(s.cancels, id)
	s.mu.Unlock()
}

// run executes one Task's pipeline end to end. It always reaches a
// terminal Store transition before returning, even when admission or the
// pipeline itself is cancelled.
func (s *Supervisor) run(ctx context.Context, taskID, rawQuery string) {
	defer s.forgetCancel(taskID)

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.terminate(context.Background(), taskID, types.TaskCancelled, "cancelled while queued")
		return
	}

	if s.Tasks.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.Tasks.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	ctx = obslog.WithTaskID(ctx, taskID)

	accountant := newCostAccumulator()
	ctx = llm.WithCostRecorder(ctx, accountant)

	trace := tracestore.NewWriter(taskID, s.TraceBackend)
	defer trace.Close()

	if err := s.Store.UpdateStatus(ctx, taskID, types.TaskInProgress, ""); err != nil {
		s.Logger.Error("starting task", "task_id", taskID, "error", err)
		return
	}

	start := time.Now()
	result, stageDurations, err := s.execute(ctx, taskID, rawQuery, trace)
	if err != nil {
		// ctx.Err() distinguishes an explicit Cancel() from a deadline
		// breach authoritatively; the error chain alone cannot, since
		// adapters collapse both into the same scholarerrors.ErrCancelled
		// sentinel (internal/llm/cost.go: classifyTransportErr).
		status := types.TaskFailed
		detail := err.Error()
		switch ctx.Err() {
		case context.Canceled:
			status = types.TaskCancelled
			detail = "task was cancelled"
		case context.DeadlineExceeded:
			detail = "task exceeded its configured timeout"
		}
		s.Logger.Warn("task failed", "task_id", taskID, "status", status, "detail", detail)
		s.terminate(context.Background(), taskID, status, detail)
		return
	}

	result.Cost = accountant.Snapshot()
	result.Timing = types.TimingRecord{StageDurations: stageDurations, TotalDuration: time.Since(start)}

	if err := s.Store.SetResult(context.Background(), taskID, result); err != nil {
		s.Logger.Error("storing task result", "task_id", taskID, "error", err)
		return
	}
	s.terminate(context.Background(), taskID, types.TaskComplete, "")
}

// terminate closes any still-open Steps and transitions the Task to a
// terminal status. It uses a detached context so a cancelled or
// timed-out Task's final bookkeeping still completes.
func (s *Supervisor) terminate(ctx context.Context, taskID string, status types.TaskStatus, detail string) {
	if status != types.TaskComplete {
		if err := s.Store.CloseAllOpenSteps(ctx, taskID, detail); err != nil && !errors.Is(err, scholarerrors.ErrTaskNotFound) {
			s.Logger.Error("closing open steps", "task_id", taskID, "error", err)
		}
	}
	if err := s.Store.UpdateStatus(ctx, taskID, status, detail); err != nil {
		s.Logger.Error("updating task status", "task_id", taskID, "status", status, "error", err)
	}
}

// execute runs the pipeline stages in order, appending a Step and a
// trace Record around each one. A stage's fatal condition returns an
// error, which run() translates into a failed or cancelled Task.
func (s *Supervisor) execute(ctx context.Context, taskID, rawQuery string, trace *tracestore.Writer) (types.Result, map[string]time.Duration, error) {
	durations := make(map[string]time.Duration)

	if s.Validate {
		var verdict moderation.Verdict
		err := s.stage(ctx, taskID, trace, "moderate", "Validating query", estModerate, durations, func() error {
			v, vErr := s.Moderation.Classify(ctx, rawQuery)
			verdict = v
			return vErr
		})
		if err != nil {
			return types.Result{}, durations, fmt.Errorf("moderation check: %w", err)
		}
		if !verdict.Allow {
			return types.Result{}, durations, fmt.Errorf("%w: %s", scholarerrors.ErrModerationBlocked, verdict.Reason)
		}
	}

	if err := ctx.Err(); err != nil {
		return types.Result{}, durations, err
	}

	var decomposed types.DecomposedQuery
	err := s.stage(ctx, taskID, trace, "decompose", "Processing user query", estDecompose, durations, func() error {
		d, warning, dErr := s.Decomposer.Decompose(ctx, rawQuery)
		if dErr != nil {
			return dErr
		}
		decomposed = d
		if warning != "" {
			trace.Append(tracestore.Record{Stage: "decompose", Warning: warning})
		}
		return nil
	})
	if err != nil {
		return types.Result{}, durations, fmt.Errorf("decomposing query: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return types.Result{}, durations, err
	}

	var finderResult paperfinder.Result
	err = s.stage(ctx, taskID, trace, "retrieve", "Retrieving and reranking relevant papers", estRetrieve+estRerank, durations, func() error {
		r, fErr := s.Finder.Find(ctx, decomposed)
		if fErr != nil {
			return fErr
		}
		finderResult = r
		return nil
	})
	for _, w := range finderResult.Warnings {
		trace.Append(tracestore.Record{Stage: "retrieve", Warning: w})
	}
	if err != nil {
		return types.Result{}, durations, fmt.Errorf("retrieving papers: %w", err)
	}
	if len(finderResult.Papers) == 0 {
		return types.Result{}, durations, fmt.Errorf("no relevant papers found for the query: %w", scholarerrors.ErrRetrievalUnavailable)
	}

	if err := ctx.Err(); err != nil {
		return types.Result{}, durations, err
	}

	var quoteSets []types.ExtractedQuoteSet
	err = s.stage(ctx, taskID, trace, "extract", "Extracting salient key statements from papers", estExtract, durations, func() error {
		qs, warnings, eErr := s.Extractor.Extract(ctx, decomposed.RewrittenQuery, finderResult.Papers)
		if eErr != nil {
			return eErr
		}
		quoteSets = qs
		for _, w := range warnings {
			trace.Append(tracestore.Record{Stage: "extract", Warning: fmt.Sprintf("%s: %s", w.CorpusID, w.Detail)})
		}
		return nil
	})
	if err != nil {
		return types.Result{}, durations, fmt.Errorf("extracting evidence: %w", err)
	}
	if len(quoteSets) == 0 {
		return types.Result{}, durations, fmt.Errorf("no relevant quotes extracted from any paper: %w", scholarerrors.ErrRetrievalUnavailable)
	}

	if err := ctx.Err(); err != nil {
		return types.Result{}, durations, err
	}

	var plannedOutline types.Outline
	err = s.stage(ctx, taskID, trace, "plan", "Building an answer outline from extracted evidence", estPlan, durations, func() error {
		o, warnings, pErr := s.Planner.Plan(ctx, decomposed.RewrittenQuery, quoteSets)
		if pErr != nil {
			return pErr
		}
		plannedOutline = o
		for _, w := range warnings {
			trace.Append(tracestore.Record{Stage: "plan", Warning: w})
		}
		return nil
	})
	if err != nil {
		return types.Result{}, durations, fmt.Errorf("planning outline: %w", err)
	}
	if len(plannedOutline.Sections) == 0 {
		return types.Result{}, durations, fmt.Errorf("outline planning produced no sections: %w", scholarerrors.ErrRetrievalUnavailable)
	}

	if err := ctx.Err(); err != nil {
		return types.Result{}, durations, err
	}

	papersByRef := make(map[int]types.PaperRecord, len(finderResult.Papers))
	for _, p := range finderResult.Papers {
		papersByRef[p.ReferenceNumber] = p.Record
	}

	sectionNames := make([]string, len(plannedOutline.Sections))
	for i, sp := range plannedOutline.Sections {
		sectionNames[i] = sp.Name
	}
	genDescription := fmt.Sprintf("Generating sections: %s", strings.Join(sectionNames, ", "))
	genEstimate := 30.0 + estPerSection*float64(len(plannedOutline.Sections))

	var sections []types.GeneratedSection
	err = s.stage(ctx, taskID, trace, "synthesize", genDescription, genEstimate, durations, func() error {
		var synthWarnings []string
		sections, synthWarnings = s.Synthesizer.Synthesize(ctx, decomposed.RewrittenQuery, plannedOutline, quoteSets, papersByRef)
		for _, w := range synthWarnings {
			trace.Append(tracestore.Record{Stage: "synthesize", Warning: w})
		}
		return nil
	})
	if err != nil {
		return types.Result{}, durations, fmt.Errorf("synthesizing sections: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return types.Result{}, durations, err
	}

	if s.Tables != nil {
		err = s.stage(ctx, taskID, trace, "tables", "Generating comparison tables", estTables, durations, func() error {
			s.buildTables(ctx, decomposed.RewrittenQuery, plannedOutline, sections, papersByRef, trace)
			return nil
		})
		if err != nil {
			return types.Result{}, durations, fmt.Errorf("building tables: %w", err)
		}
	}

	return types.Result{
		Sections:         sections,
		ReferencedPapers: referencedPapers(sections),
	}, durations, nil
}

// buildTables constructs a Table concurrently for every eligible
// list-formatted section. Sections are matched to their GeneratedSection
// by index, since Synthesize preserves Outline order.
func (s *Supervisor) buildTables(ctx context.Context, userQuery string, outline types.Outline, sections []types.GeneratedSection, papersByRef map[int]types.PaperRecord, trace *tracestore.Writer) {
	var wg sync.WaitGroup
	for i, plan := range outline.Sections {
		if i >= len(sections) {
			continue
		}
		citedRefs := distinctRefs(plan)
		if !s.Tables.Eligible(plan.Format, len(citedRefs)) {
			continue
		}

		wg.Add(1)
		go func(idx int, sectionName string, refs []int) {
			defer wg.Done()
			table, warnings := s.Tables.Build(ctx, userQuery, sectionName, refs, papersByRef)
			for _, w := range warnings {
				trace.Append(tracestore.Record{Stage: "tables", Warning: fmt.Sprintf("%s: %s", sectionName, w)})
			}
			if table != nil {
				sections[idx].Table = table
			}
		}(i, plan.Name, citedRefs)
	}
	wg.Wait()
}

// distinctRefs returns the unique reference numbers assigned to a Section
// Plan, in first-appearance order.
func distinctRefs(plan types.SectionPlan) []int {
	seen := make(map[int]bool)
	var refs []int
	for _, h := range plan.Quotes {
		if !seen[h.ReferenceNumber] {
			seen[h.ReferenceNumber] = true
			refs = append(refs, h.ReferenceNumber)
		}
	}
	return refs
}

// referencedPapers collects every distinct paper cited in any section, in
// first-appearance order across sections.
func referencedPapers(sections []types.GeneratedSection) []types.PaperRecord {
	seen := make(map[string]bool)
	var papers []types.PaperRecord
	for _, sec := range sections {
		for _, c := range sec.Citations {
			if !seen[c.Paper.CorpusID] {
				seen[c.Paper.CorpusID] = true
				papers = append(papers, c.Paper)
			}
		}
	}
	return papers
}

// stage appends an open Step, runs fn, closes the Step with fn's error
// (if any) and records a trace Record, in one place so every stage
// boundary gets identical bookkeeping.
func (s *Supervisor) stage(ctx context.Context, taskID string, trace *tracestore.Writer, traceName, description string, estimatedSeconds float64, durations map[string]time.Duration, fn func() error) error {
	startWall := time.Now()
	start := nowSeconds()
	if err := s.Store.AppendStep(ctx, taskID, types.Step{
		Description: description, StartTimestamp: start, EstimatedTimestamp: start + estimatedSeconds,
	}); err != nil {
		return err
	}

	err := fn()

	end := nowSeconds()
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if closeErr := s.Store.CloseStep(ctx, taskID, description, end, errMsg); closeErr != nil {
		s.Logger.Error("closing step", "task_id", taskID, "description", description, "error", closeErr)
	}

	durations[traceName] = time.Since(startWall)
	trace.Append(tracestore.Record{Stage: traceName, Start: startWall, End: time.Now(), Error: errMsg})
	return err
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
