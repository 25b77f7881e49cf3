// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package supervisor

import (
	"sort"
	"sync"

	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// costAccumulator implements llm.CostRecorder, collecting every
// completion issued by any stage during one Task's execution into a
// per-model types.CostRecord. A Task's stages share one process-wide
// llm.Client, so accumulation (rather than reading a Client-wide total)
// is what keeps concurrent Tasks' cost accounting from mixing.
type costAccumulator struct {
	mu      sync.Mutex
	byModel map[string]*types.ModelCost
}

func newCostAccumulator() *costAccumulator {
	return &costAccumulator{byModel: make(map[string]*types.ModelCost)}
}

func (c *costAccumulator) RecordCost(modelID string, inputTokens, outputTokens int, costUSD float64, cached bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byModel[modelID]
	if !ok {
		entry = &types.ModelCost{Model: modelID}
		c.byModel[modelID] = entry
	}
	entry.InputTokens += inputTokens
	entry.OutputTokens += outputTokens
	entry.CostUSD += costUSD
	if cached {
		entry.CachedCalls++
	}
}

// Snapshot renders the accumulated totals as a types.CostRecord, sorted
// by model name for deterministic output.
func (c *costAccumulator) Snapshot() types.CostRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	record := types.CostRecord{ByModel: make([]types.ModelCost, 0, len(c.byModel))}
	for _, entry := range c.byModel {
		record.ByModel = append(record.ByModel, *entry)
		record.TotalUSD += entry.CostUSD
	}
	sort.Slice(record.ByModel, func(i, j int) bool {
		return record.ByModel[i].Model < record.ByModel[j].Model
	})
	return record
}
