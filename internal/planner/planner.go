// Package planner groups tasks into token-budgeted batches and spreads
// them across worker lanes.
package planner

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hivemind/pkg/models"
)

// Plan holds planner settings. Zero values are replaced with defaults.
type Plan struct {
	// LaneCount is the number of worker lanes batches are spread over.
	LaneCount int
	// TokenBudgetPerBatch caps the summed token estimate of one batch.
	TokenBudgetPerBatch int
	// MaxItemsPerBatch caps the member count of one batch.
	MaxItemsPerBatch int
}

const (
	defaultTokenBudget = 8000
	defaultMaxItems    = 10
)

// Batches packs tasks into batches greedily by arrival order, preserving
// focus locality: a batch's members are adjacent in the input sequence and
// tend to share context. A batch closes when it is full or when the next
// task would exceed the token budget. A single task whose own estimate
// exceeds the budget forms a singleton batch; it is never dropped.
// Batches are assigned to lanes round-robin by creation order.
func (p Plan) Batches(tasks []*models.Task) []*models.Batch {
	budget := p.TokenBudgetPerBatch
	if budget <= 0 {
		budget = defaultTokenBudget
	}
	maxItems := p.MaxItemsPerBatch
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	lanes := p.LaneCount
	if lanes <= 0 {
		lanes = 1
	}

	var batches []*models.Batch
	var current *models.Batch
	for _, task := range tasks {
		if current != nil {
			full := len(current.TaskIDs) >= maxItems
			over := current.EstimatedTokens+task.EstimatedTokens > budget
			if full || over {
				batches = append(batches, current)
				current = nil
			}
		}
		if current == nil {
			current = newBatch()
		}
		current.TaskIDs = append(current.TaskIDs, task.ID)
		current.EstimatedTokens += task.EstimatedTokens
	}
	if current != nil {
		batches = append(batches, current)
	}

	for i, b := range batches {
		b.Lane = i % lanes
	}
	return batches
}

// Bisect splits a batch at the midpoint into two new batches on the same
// lane. It must only be called with two or more members.
func Bisect(batch *models.Batch, tokensOf func(taskID string) int) (*models.Batch, *models.Batch) {
	mid := len(batch.TaskIDs) / 2
	left := newBatch()
	right := newBatch()
	left.Lane = batch.Lane
	right.Lane = batch.Lane

	for _, id := range batch.TaskIDs[:mid] {
		left.TaskIDs = append(left.TaskIDs, id)
		left.EstimatedTokens += tokensOf(id)
	}
	for _, id := range batch.TaskIDs[mid:] {
		right.TaskIDs = append(right.TaskIDs, id)
		right.EstimatedTokens += tokensOf(id)
	}
	return left, right
}

func newBatch() *models.Batch {
	return &models.Batch{ID: fmt.Sprintf("batch-%s", uuid.New().String()[:8])}
}
