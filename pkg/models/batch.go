package models

// Batch is a token-budgeted group of tasks submitted to the provider in
// one call. Batches are ephemeral: the planner creates them and the engine
// discards them once every member is terminal.
type Batch struct {
	// ID is the unique identifier for this batch.
	ID string `json:"id"`
	// TaskIDs is the ordered member list.
	TaskIDs []string `json:"task_ids"`
	// EstimatedTokens is the sum of the members' estimates.
	EstimatedTokens int `json:"estimated_tokens"`
	// Lane is the worker lane this batch is queued on.
	Lane int `json:"lane"`
}

// Size returns the number of member tasks.
func (b *Batch) Size() int {
	return len(b.TaskIDs)
}
