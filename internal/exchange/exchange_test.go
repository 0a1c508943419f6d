package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arbscanner/internal/matcher"
)

// captureBus копит опубликованные обновления
type captureBus struct {
	updates []PriceUpdate
}

func (b *captureBus) Publish(u PriceUpdate) {
	b.updates = append(b.updates, u)
}

func TestMidPrice(t *testing.T) {
	u := PriceUpdate{
		Bid: decimal.RequireFromString("100"),
		Ask: decimal.RequireFromString("102"),
	}
	if !u.MidPrice().Equal(decimal.RequireFromString("101")) {
		t.Errorf("MidPrice = %s, want 101", u.MidPrice())
	}
}

func TestPublishFillsTimestamp(t *testing.T) {
	bus := &captureBus{}
	deps := &Deps{Bus: bus, Matcher: matcher.NewTickerMatcher(), Log: zap.NewNop()}

	tick := &bookTick{
		symbol: "BTCUSDT",
		bid:    dec("60000.1"),
		ask:    dec("60000.9"),
	}
	deps.publish("binance", "BTC/USDT", tick)

	if len(bus.updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(bus.updates))
	}
	u := bus.updates[0]
	if u.Exchange != "binance" || u.Symbol != "BTC/USDT" || u.RawSymbol != "BTCUSDT" {
		t.Errorf("unexpected update: %+v", u)
	}
	// Без venue-времени проставляется локальное
	if u.Timestamp == 0 {
		t.Error("timestamp must be filled")
	}
}

func TestPublishKeepsVenueTimestamp(t *testing.T) {
	bus := &captureBus{}
	deps := &Deps{Bus: bus}

	tick := &bookTick{
		symbol: "BTCUSDT",
		bid:    dec("1"),
		ask:    dec("2"),
		ts:     1718123456789,
	}
	deps.publish("bitget", "BTC/USDT", tick)

	if bus.updates[0].Timestamp != 1718123456789 {
		t.Errorf("timestamp = %d, want venue value", bus.updates[0].Timestamp)
	}
}

// Таблица коннекторов покрывает все включаемые биржи
func TestConnectorTable(t *testing.T) {
	want := []string{
		"binance", "bybit", "okx", "kraken", "kucoin",
		"gate", "mexc", "htx", "bitget", "coinbase",
	}
	for _, name := range want {
		if _, ok := connectors[name]; !ok {
			t.Errorf("missing connector for %q", name)
		}
	}
	if len(connectors) != len(want) {
		t.Errorf("connectors table has %d entries, want %d", len(connectors), len(want))
	}
}
