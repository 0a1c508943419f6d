package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.MinSpreadPercent.Equal(decimal.RequireFromString("0.8")) {
		t.Errorf("MinSpreadPercent = %s, want 0.8", cfg.MinSpreadPercent)
	}
	if !cfg.MaxSpreadPercent.Equal(decimal.RequireFromString("10.0")) {
		t.Errorf("MaxSpreadPercent = %s, want 10.0", cfg.MaxSpreadPercent)
	}
	if cfg.CooldownMs != 1000 {
		t.Errorf("CooldownMs = %d, want 1000", cfg.CooldownMs)
	}
	if len(cfg.EnabledExchanges) != len(AllExchanges) {
		t.Errorf("EnabledExchanges = %v, want all %d", cfg.EnabledExchanges, len(AllExchanges))
	}
	if len(cfg.FilterPairs) != 0 || len(cfg.FilterExchanges) != 0 {
		t.Errorf("filters must default to empty: %v / %v", cfg.FilterPairs, cfg.FilterExchanges)
	}
	if cfg.OrderbookDepth != 5 {
		t.Errorf("OrderbookDepth = %d, want 5", cfg.OrderbookDepth)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MIN_SPREAD_PERCENT", "0.5")
	t.Setenv("COOLDOWN_MS", "2500")
	t.Setenv("FILTER_PAIRS", "btc, eth ,sol")
	t.Setenv("FILTER_EXCHANGES", "Binance,OKX")
	t.Setenv("ENABLED_EXCHANGES", "binance,okx")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.MinSpreadPercent.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("MinSpreadPercent = %s, want 0.5", cfg.MinSpreadPercent)
	}
	if cfg.CooldownMs != 2500 {
		t.Errorf("CooldownMs = %d, want 2500", cfg.CooldownMs)
	}

	// Пары нормализуются в верхний регистр, биржи - в нижний
	wantPairs := []string{"BTC", "ETH", "SOL"}
	for i, p := range wantPairs {
		if cfg.FilterPairs[i] != p {
			t.Errorf("FilterPairs = %v, want %v", cfg.FilterPairs, wantPairs)
			break
		}
	}
	wantExchanges := []string{"binance", "okx"}
	for i, e := range wantExchanges {
		if cfg.FilterExchanges[i] != e {
			t.Errorf("FilterExchanges = %v, want %v", cfg.FilterExchanges, wantExchanges)
			break
		}
	}

	if !cfg.IsExchangeEnabled("binance") || !cfg.IsExchangeEnabled("OKX") {
		t.Error("enabled exchanges lookup failed")
	}
	if cfg.IsExchangeEnabled("kraken") {
		t.Error("kraken must be disabled")
	}
}

// Кривые числовые значения - фатальная ошибка старта
func TestLoadMalformedNumbers(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"min spread", "MIN_SPREAD_PERCENT", "abc"},
		{"max spread", "MAX_SPREAD_PERCENT", "ten"},
		{"cooldown", "COOLDOWN_MS", "1s"},
		{"depth", "ORDERBOOK_DEPTH", "deep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load must fail on %s=%q", tt.key, tt.value)
			}
		})
	}
}
