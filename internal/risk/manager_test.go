package risk

import (
	"testing"
	"time"

	"polymarket-mm/internal/config"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxTotalExposureUSDC:     1000,
		MaxPerMarketExposureUSDC: 200,
		MaxDailyLossUSDC:         50,
		MaxConsecutiveLosses:     3,
		CircuitBreakerCooldownS:  300,
		MaxOpenOrders:            10,
		ExcludeSellExposure:      false,
	}
}

func TestCheckAllowsWithinLimits(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig())

	allowed, reason := m.Check(Candidate{ConditionID: "c1", Side: "BUY", Price: 0.5, Size: 10})
	if !allowed {
		t.Errorf("expected allowed, got rejected: %s", reason)
	}
}

func TestCheckRejectsTotalExposureLimit(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig())
	m.SetExposure("c1", 990)

	allowed, reason := m.Check(Candidate{ConditionID: "c1", Side: "BUY", Price: 0.5, Size: 100})
	if allowed {
		t.Fatal("expected rejection")
	}
	if reason != "total_exposure_limit" {
		t.Errorf("reason = %q, want total_exposure_limit", reason)
	}
}

func TestCheckRejectsPerMarketExposureLimit(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig())
	m.SetExposure("c1", 190)

	allowed, reason := m.Check(Candidate{ConditionID: "c1", Side: "BUY", Price: 0.5, Size: 100})
	if allowed {
		t.Fatal("expected rejection")
	}
	if reason != "per_market_exposure_limit" {
		t.Errorf("reason = %q, want per_market_exposure_limit", reason)
	}
}

func TestCheckRejectsMaxOpenOrders(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig())
	m.SetOpenOrderCount(10)

	allowed, reason := m.Check(Candidate{ConditionID: "c1", Side: "BUY", Price: 0.1, Size: 1})
	if allowed {
		t.Fatal("expected rejection")
	}
	if reason != "max_open_orders" {
		t.Errorf("reason = %q, want max_open_orders", reason)
	}
}

func TestCheckTripsBreakerOnDailyLoss(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig())
	m.RecordResult(-60)

	allowed, reason := m.Check(Candidate{ConditionID: "c1", Side: "BUY", Price: 0.1, Size: 1})
	if allowed {
		t.Fatal("expected rejection")
	}
	if reason != "daily_loss_limit" {
		t.Errorf("reason = %q, want daily_loss_limit", reason)
	}
	if !m.BreakerActive() {
		t.Error("expected breaker to be active after daily loss breach")
	}
}

func TestCheckTripsBreakerOnConsecutiveLosses(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig())
	m.RecordResult(-1)
	m.RecordResult(-1)
	m.RecordResult(-1)

	allowed, reason := m.Check(Candidate{ConditionID: "c1", Side: "BUY", Price: 0.1, Size: 1})
	if allowed {
		t.Fatal("expected rejection")
	}
	if reason != "consecutive_losses" {
		t.Errorf("reason = %q, want consecutive_losses", reason)
	}
}

func TestRecordResultClearsConsecutiveLossesOnWin(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig())
	m.RecordResult(-1)
	m.RecordResult(-1)
	m.RecordResult(0.5)

	snap := m.Snapshot()
	if snap.ConsecutiveLosses != 0 {
		t.Errorf("ConsecutiveLosses = %d, want 0 after a non-negative delta", snap.ConsecutiveLosses)
	}
}

func TestBreakerSelfClearsAfterCooldown(t *testing.T) {
	t.Parallel()
	cfg := testRiskConfig()
	cfg.CircuitBreakerCooldownS = 0
	m := NewManager(cfg)
	m.RecordResult(-60)

	m.Check(Candidate{ConditionID: "c1", Side: "BUY", Price: 0.1, Size: 1})
	time.Sleep(time.Millisecond)
	if m.BreakerActive() {
		t.Error("expected breaker to self-clear after zero-length cooldown elapses")
	}
}

func TestCheckSellLegExcludedWhenConfigured(t *testing.T) {
	t.Parallel()
	cfg := testRiskConfig()
	cfg.ExcludeSellExposure = true
	m := NewManager(cfg)
	m.SetExposure("c1", 190)

	allowed, reason := m.Check(Candidate{ConditionID: "c1", Side: "SELL", Price: 0.5, Size: 100})
	if !allowed {
		t.Errorf("expected SELL leg to be excluded from exposure, got rejected: %s", reason)
	}
}

func TestCheckRejectionOrderBreakerBeforeExposure(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig())
	m.SetExposure("c1", 990) // would otherwise fail total_exposure_limit
	m.RecordResult(-60)      // trips breaker via the daily-loss check

	allowed, reason := m.Check(Candidate{ConditionID: "c1", Side: "BUY", Price: 0.5, Size: 100})
	if allowed {
		t.Fatal("expected rejection")
	}
	if reason != "daily_loss_limit" {
		t.Errorf("reason = %q, want daily_loss_limit (checked before exposure)", reason)
	}
}
