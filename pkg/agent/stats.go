package agent

import (
	"sync"

	"github.com/sipeed/picocode/pkg/config"
	"github.com/sipeed/picocode/pkg/providers"
)

// StatsManager accumulates token usage and cost across calls. Costs are
// stored in USD, the canonical currency; display conversion is the UI's
// problem.
type StatsManager struct {
	mu sync.Mutex

	totalCost float64
	lastCost  float64

	totalTokensIn  int
	totalTokensOut int
	lastAPIUsage   providers.Usage

	cfg *config.Config
}

func NewStatsManager(cfg *config.Config) *StatsManager {
	return &StatsManager{cfg: cfg}
}

// Update adds one call's usage, pricing it with the model's per-Mtok
// rates. Cache hits are billed at the cache-hit rate; the remainder of the
// input at the regular input rate.
func (sm *StatsManager) Update(model string, usage providers.Usage) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	pricing := sm.cfg.ModelInfoFor(model).Pricing

	billableInput := usage.InputTokens
	cacheCost := 0.0
	if usage.CacheHitTokens > 0 {
		if usage.CacheHitTokens < billableInput {
			billableInput -= usage.CacheHitTokens
		} else {
			billableInput = 0
		}
		cacheCost = float64(usage.CacheHitTokens) * pricing.CacheHitPerMTok / 1e6
	}

	cost := float64(billableInput)*pricing.InputPerMTok/1e6 +
		float64(usage.OutputTokens)*pricing.OutputPerMTok/1e6 +
		cacheCost

	sm.lastCost = cost
	sm.totalCost += cost
	sm.totalTokensIn += usage.InputTokens
	sm.totalTokensOut += usage.OutputTokens
	sm.lastAPIUsage = usage
}

// Totals returns the accumulated counters.
func (sm *StatsManager) Totals() (cost float64, tokensIn, tokensOut int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.totalCost, sm.totalTokensIn, sm.totalTokensOut
}

// LastCost returns the cost of the most recent call.
func (sm *StatsManager) LastCost() float64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lastCost
}

// LastUsage returns the most recent API-reported usage.
func (sm *StatsManager) LastUsage() providers.Usage {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lastAPIUsage
}

// StatsCheckpoint is the persisted slice of the manager's state: only the
// cumulative cost survives a restart.
type StatsCheckpoint struct {
	TotalCost float64 `json:"total_cost"`
}

func (sm *StatsManager) ToCheckpoint() StatsCheckpoint {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return StatsCheckpoint{TotalCost: sm.totalCost}
}

func (sm *StatsManager) Restore(cp StatsCheckpoint) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.totalCost = cp.TotalCost
}
