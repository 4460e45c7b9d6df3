package config

import "testing"

func validConfig() *Config {
	return &Config{
		Wallet: WalletConfig{PrivateKey: "0xabc", SignatureType: 0},
		Polymarket: PolymarketConfig{
			CLOBBaseURL: "https://clob.polymarket.com",
			ChainID:     137,
		},
		Strategy: StrategyConfig{
			MaxMarkets:     10,
			OrderSizeUSDC:  10,
			QuoteRefreshMs: 2000,
			QuoteTTLMs:     15000,
		},
		Risk: RiskConfig{
			MaxTotalExposureUSDC:     1000,
			MaxPerMarketExposureUSDC: 200,
			MaxOpenOrders:            20,
		},
		Database: DatabaseConfig{Path: "test.db"},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	t.Parallel()
	if err := validConfig().Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRequiresPrivateKey(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Wallet.PrivateKey = ""
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing private key")
	}
}

func TestValidateRejectsRefreshAboveTTL(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Strategy.QuoteRefreshMs = 15000
	c.Strategy.QuoteTTLMs = 2000
	if err := c.Validate(); err == nil {
		t.Error("expected error when quote_refresh_ms >= quote_ttl_ms")
	}
}

func TestValidateRequiresFunderForProxySignature(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Wallet.SignatureType = 1
	c.Wallet.FunderAddress = ""
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing funder address with proxy signature")
	}
}

func TestScanIntervalDerivedFromMs(t *testing.T) {
	t.Parallel()
	s := StrategyConfig{ScanIntervalMs: 500}
	if got := s.ScanInterval(); got.Milliseconds() != 500 {
		t.Errorf("ScanInterval() = %v, want 500ms", got)
	}
}
