package agent

import (
	"math"
	"testing"

	"github.com/sipeed/picocode/pkg/config"
	"github.com/sipeed/picocode/pkg/providers"
)

func statsFixture() *StatsManager {
	cfg := config.DefaultConfig()
	cfg.Models = []config.ModelInfo{{
		Ref:           "test/model",
		ContextWindow: 100000,
		Pricing: config.ModelPricing{
			InputPerMTok:    2.0,
			OutputPerMTok:   10.0,
			CacheHitPerMTok: 0.5,
		},
	}}
	return NewStatsManager(cfg)
}

func TestStatsCostComputation(t *testing.T) {
	sm := statsFixture()

	sm.Update("test/model", providers.Usage{InputTokens: 1_000_000, OutputTokens: 100_000})

	cost, tokensIn, tokensOut := sm.Totals()
	want := 2.0 + 1.0 // 1M input at $2/M + 100k output at $10/M
	if math.Abs(cost-want) > 1e-9 {
		t.Errorf("cost = %f, want %f", cost, want)
	}
	if tokensIn != 1_000_000 || tokensOut != 100_000 {
		t.Errorf("tokens = %d/%d", tokensIn, tokensOut)
	}
}

func TestStatsCacheHitPricing(t *testing.T) {
	sm := statsFixture()

	// Half the input was served from cache at the cache-hit rate.
	sm.Update("test/model", providers.Usage{
		InputTokens:    1_000_000,
		OutputTokens:   0,
		CacheHitTokens: 500_000,
	})

	cost, _, _ := sm.Totals()
	want := 0.5*2.0 + 0.5*0.5 // 500k at input rate + 500k at cache rate
	if math.Abs(cost-want) > 1e-9 {
		t.Errorf("cost = %f, want %f", cost, want)
	}
}

func TestStatsAccumulateAcrossCalls(t *testing.T) {
	sm := statsFixture()

	sm.Update("test/model", providers.Usage{InputTokens: 100, OutputTokens: 10})
	first := sm.LastCost()
	sm.Update("test/model", providers.Usage{InputTokens: 200, OutputTokens: 20})

	cost, _, _ := sm.Totals()
	if cost <= first {
		t.Error("total cost must accumulate")
	}
	if sm.LastUsage().InputTokens != 200 {
		t.Errorf("last usage = %+v", sm.LastUsage())
	}
}

func TestStatsCheckpointRoundTrip(t *testing.T) {
	sm := statsFixture()
	sm.Update("test/model", providers.Usage{InputTokens: 1_000_000, OutputTokens: 0})

	cp := sm.ToCheckpoint()

	restored := statsFixture()
	restored.Restore(cp)

	cost, tokensIn, _ := restored.Totals()
	if math.Abs(cost-cp.TotalCost) > 1e-9 {
		t.Errorf("restored cost = %f, want %f", cost, cp.TotalCost)
	}
	// Only the cumulative cost survives; token counters start fresh.
	if tokensIn != 0 {
		t.Errorf("token counters must not round-trip, got %d", tokensIn)
	}
}

func TestStatsUnknownModelUsesDefaults(t *testing.T) {
	sm := statsFixture()
	// Unknown model: zero pricing, non-fatal.
	sm.Update("nobody/knows-this", providers.Usage{InputTokens: 1000, OutputTokens: 100})

	cost, tokensIn, _ := sm.Totals()
	if cost != 0 {
		t.Errorf("unknown model cost = %f, want 0", cost)
	}
	if tokensIn != 1000 {
		t.Errorf("tokens still counted, got %d", tokensIn)
	}
}
