package agent

import (
	"fmt"
	"sync"
	"time"
)

// ModelPricing defines input and output token costs for LLM models.
// Prices are in USD per 1M tokens (per million tokens).
type ModelPricing struct {
	InputPer1M  float64 // Cost per 1M input tokens in USD
	OutputPer1M float64 // Cost per 1M output tokens in USD
}

// Static pricing map for major LLM providers (as of 2025-01-01).
// Prices are in USD per 1M tokens.
//
// Sources:
//   - OpenAI: https://openai.com/pricing
//   - Anthropic: https://anthropic.com/pricing
//   - Google: https://cloud.google.com/vertex-ai/pricing
//
// Note: Prices subject to change. Update this map as providers adjust
// pricing.
var defaultModelPricing = map[string]ModelPricing{
	// OpenAI GPT-4o (optimized)
	"gpt-4o": {
		InputPer1M:  2.50,
		OutputPer1M: 10.00,
	},
	"gpt-4o-2024-08-06": {
		InputPer1M:  2.50,
		OutputPer1M: 10.00,
	},

	// OpenAI GPT-4o-mini (smaller, cheaper)
	"gpt-4o-mini": {
		InputPer1M:  0.15,
		OutputPer1M: 0.60,
	},

	// OpenAI GPT-4 Turbo
	"gpt-4-turbo": {
		InputPer1M:  10.00,
		OutputPer1M: 30.00,
	},

	// OpenAI GPT-3.5 Turbo
	"gpt-3.5-turbo": {
		InputPer1M:  0.50,
		OutputPer1M: 1.50,
	},

	// Anthropic Claude 3.5 Sonnet
	"claude-3-5-sonnet-20241022": {
		InputPer1M:  3.00,
		OutputPer1M: 15.00,
	},
	"claude-3.5-sonnet": {
		InputPer1M:  3.00,
		OutputPer1M: 15.00,
	},

	// Anthropic Claude 3 Opus (most capable)
	"claude-3-opus-20240229": {
		InputPer1M:  15.00,
		OutputPer1M: 75.00,
	},

	// Anthropic Claude 3 Haiku (fastest, cheapest)
	"claude-3-haiku-20240307": {
		InputPer1M:  0.25,
		OutputPer1M: 1.25,
	},

	// Google Gemini 1.5 Pro
	"gemini-1.5-pro": {
		InputPer1M:  1.25,
		OutputPer1M: 5.00,
	},

	// Google Gemini 1.5 Flash (faster, cheaper)
	"gemini-1.5-flash": {
		InputPer1M:  0.075,
		OutputPer1M: 0.30,
	},
}

// ModelCall represents a single LLM API invocation with token usage and
// cost.
type ModelCall struct {
	Model        string    // Model identifier (e.g., "gpt-4o")
	InputTokens  int       // Number of input tokens consumed
	OutputTokens int       // Number of output tokens generated
	CostUSD      float64   // Calculated cost in USD
	Timestamp    time.Time // When the call was made
	ExecutorID   string    // Agent executor that made the call (optional)
}

// CostTracker tracks financial costs of LLM API calls, providing token
// usage and cost attribution for production monitoring.
//
// Features:
//   - Per-model token counting (input/output separate)
//   - Cost calculation using static pricing tables
//   - Cumulative cost tracking across multiple calls
//   - Per-model cost breakdown for attribution
//   - Thread-safe concurrent recording
//
// Usage:
//
//	tracker := agent.NewCostTracker("run-123", "USD")
//
//	tracker.RecordModelCall("gpt-4o", 1000, 500, "assistant")
//	tracker.RecordModelCall("claude-3-5-sonnet-20241022", 2000, 800, "reviewer")
//
//	total := tracker.GetTotalCost()
//	costs := tracker.GetCostByModel()
type CostTracker struct {
	// RunID associates costs with a specific workflow run.
	RunID string

	// Currency is the cost unit (e.g., "USD").
	Currency string

	// Pricing maps model names to their input/output token costs.
	Pricing map[string]ModelPricing

	// Calls records all model invocations with full details.
	Calls []ModelCall

	// TotalCost accumulates all costs in the specified currency.
	TotalCost float64

	// ModelCosts tracks costs per model for attribution.
	ModelCosts map[string]float64

	// InputTokens counts total input tokens across all calls.
	InputTokens int64

	// OutputTokens counts total output tokens across all calls.
	OutputTokens int64

	// CreatedAt marks when cost tracking began.
	CreatedAt time.Time

	mu      sync.RWMutex
	enabled bool
}

// NewCostTracker creates a new cost tracker with default pricing tables.
//
// Parameters:
//   - runID: Workflow run identifier.
//   - currency: Cost unit (e.g., "USD").
func NewCostTracker(runID, currency string) *CostTracker {
	return &CostTracker{
		RunID:      runID,
		Currency:   currency,
		Pricing:    defaultModelPricing,
		Calls:      make([]ModelCall, 0, 100),
		ModelCosts: make(map[string]float64),
		CreatedAt:  time.Now(),
		enabled:    true,
	}
}

// RecordModelCall records a single model invocation and calculates its
// cost from the pricing table. Models missing from the table are still
// recorded, with zero cost.
//
// Parameters:
//   - model: Model identifier (e.g., "gpt-4o").
//   - inputTokens: Number of input tokens consumed.
//   - outputTokens: Number of output tokens generated.
//   - executorID: Agent executor that made the call ("" if not
//     applicable).
func (ct *CostTracker) RecordModelCall(model string, inputTokens, outputTokens int, executorID string) {
	if !ct.enabled {
		return
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing, ok := ct.Pricing[model]
	if !ok {
		pricing = ModelPricing{}
	}

	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPer1M
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPer1M
	totalCost := inputCost + outputCost

	ct.Calls = append(ct.Calls, ModelCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      totalCost,
		Timestamp:    time.Now(),
		ExecutorID:   executorID,
	})

	ct.TotalCost += totalCost
	ct.ModelCosts[model] += totalCost
	ct.InputTokens += int64(inputTokens)
	ct.OutputTokens += int64(outputTokens)
}

// GetTotalCost returns the cumulative cost across all recorded calls.
func (ct *CostTracker) GetTotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.TotalCost
}

// GetCostByModel returns a breakdown of costs attributed to each model.
// Returns a copy to prevent external mutation.
func (ct *CostTracker) GetCostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.ModelCosts))
	for model, cost := range ct.ModelCosts {
		costs[model] = cost
	}
	return costs
}

// GetCallHistory returns all recorded calls in chronological order.
// Returns a copy to prevent external mutation.
func (ct *CostTracker) GetCallHistory() []ModelCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	calls := make([]ModelCall, len(ct.Calls))
	copy(calls, ct.Calls)
	return calls
}

// GetTokenUsage returns total input and output token counts.
func (ct *CostTracker) GetTokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.InputTokens, ct.OutputTokens
}

// SetCustomPricing overrides default pricing for a model. Useful for
// custom deployments, enterprise pricing, or price updates.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if ct.Pricing == nil {
		ct.Pricing = make(map[string]ModelPricing)
	}
	ct.Pricing[model] = ModelPricing{
		InputPer1M:  inputPer1M,
		OutputPer1M: outputPer1M,
	}
}

// Disable temporarily disables cost tracking (useful for testing).
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable re-enables cost tracking after Disable().
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

// Reset clears all recorded data and resets cumulative totals.
// Preserves pricing configuration.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.Calls = make([]ModelCall, 0, 100)
	ct.TotalCost = 0
	ct.ModelCosts = make(map[string]float64)
	ct.InputTokens = 0
	ct.OutputTokens = 0
}

// String returns a human-readable summary of cost tracking.
func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return fmt.Sprintf(
		"CostTracker{RunID: %s, Calls: %d, TotalCost: $%.4f %s, InputTokens: %d, OutputTokens: %d}",
		ct.RunID,
		len(ct.Calls),
		ct.TotalCost,
		ct.Currency,
		ct.InputTokens,
		ct.OutputTokens,
	)
}
