package model

import "time"

// RunStatus represents the current state of an analysis run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// AnalysisResult is the output of one pipeline invocation.
type AnalysisResult struct {
	Subscriptions []SubscriptionRecord `json:"subscriptions"`
	AnalyzedCount int                  `json:"analyzedCount"`
	Stats         RunStats             `json:"stats"`
}

// RunStats summarizes what happened inside a pipeline invocation.
type RunStats struct {
	Batches           int        `json:"batches"`
	FailedBatches     int        `json:"failed_batches"`
	Candidates        int        `json:"candidates"`
	Dropped           int        `json:"dropped"`
	DuplicatesRemoved int        `json:"duplicates_removed"`
	Usage             TokenUsage `json:"usage"`
	CostUSD           float64    `json:"cost_usd"`
	DurationMs        int64      `json:"duration_ms"`
}

// TokenUsage tracks oracle token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns input + output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Run is a persisted analysis run.
type Run struct {
	ID            string          `json:"id"`
	Status        RunStatus       `json:"status"`
	Source        string          `json:"source"` // "api", "cli", "gmail"
	AnalyzedCount int             `json:"analyzed_count"`
	Result        *AnalysisResult `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
