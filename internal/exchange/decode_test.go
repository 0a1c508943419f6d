package exchange

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"
)

func wantDec(t *testing.T, got decimal.Decimal, want string, field string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s = %s, want %s", field, got, want)
	}
}

// ============================================================
// Binance
// ============================================================

func TestDecodeBinance(t *testing.T) {
	frame := []byte(`{"stream":"btcusdt@bookTicker","data":{"u":400900217,"s":"BTCUSDT","b":"60000.10","B":"31.21","a":"60000.20","A":"40.66"}}`)

	tick, ok := decodeBinance(frame)
	if !ok {
		t.Fatal("decode failed")
	}
	if tick.symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", tick.symbol)
	}
	wantDec(t, tick.bid, "60000.10", "bid")
	wantDec(t, tick.ask, "60000.20", "ask")
	wantDec(t, tick.bidSize, "31.21", "bid size")
	wantDec(t, tick.askSize, "40.66", "ask size")
	if !tick.valid() {
		t.Error("tick must be valid")
	}
}

func TestDecodeBinanceGarbage(t *testing.T) {
	if _, ok := decodeBinance([]byte(`{"result":null,"id":1}`)); ok {
		t.Error("ack message must not decode")
	}
	if _, ok := decodeBinance([]byte(`not json`)); ok {
		t.Error("garbage must not decode")
	}
}

// ============================================================
// Bybit
// ============================================================

func TestDecodeBybit(t *testing.T) {
	frame := []byte(`{"topic":"tickers.BTCUSDT","ts":1673853746003,"type":"snapshot","data":{"symbol":"BTCUSDT","bid1Price":"60000.5","bid1Size":"1.1","ask1Price":"60001.5","ask1Size":"2.2"}}`)

	tick, ok := decodeBybit(frame)
	if !ok {
		t.Fatal("decode failed")
	}
	if tick.symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", tick.symbol)
	}
	wantDec(t, tick.bid, "60000.5", "bid")
	wantDec(t, tick.ask, "60001.5", "ask")

	// Ответ на подписку не тикер
	if _, ok := decodeBybit([]byte(`{"success":true,"op":"subscribe"}`)); ok {
		t.Error("subscribe ack must not decode")
	}
}

// ============================================================
// OKX
// ============================================================

func TestDecodeOKX(t *testing.T) {
	frame := []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"60000","bidPx":"59999.9","bidSz":"0.5","askPx":"60000.1","askSz":"0.7","ts":"1718123456789"}]}`)

	ticks := decodeOKX(frame)
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}
	if ticks[0].symbol != "BTC-USDT" {
		t.Errorf("symbol = %q", ticks[0].symbol)
	}
	wantDec(t, ticks[0].bid, "59999.9", "bid")
	wantDec(t, ticks[0].ask, "60000.1", "ask")

	if got := decodeOKX([]byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"}}`)); got != nil {
		t.Errorf("subscribe ack must not decode, got %v", got)
	}
}

// ============================================================
// Kraken: котировки приходят числами
// ============================================================

func TestDecodeKraken(t *testing.T) {
	frame := []byte(`{"channel":"ticker","type":"update","data":[{"symbol":"BTC/USD","bid":60000.1,"bid_qty":0.5,"ask":60000.9,"ask_qty":1.5,"last":60000.5}]}`)

	ticks := decodeKraken(frame)
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}
	if ticks[0].symbol != "BTC/USD" {
		t.Errorf("symbol = %q", ticks[0].symbol)
	}
	wantDec(t, ticks[0].bid, "60000.1", "bid")
	wantDec(t, ticks[0].ask, "60000.9", "ask")
	wantDec(t, ticks[0].bidSize, "0.5", "bid size")

	if got := decodeKraken([]byte(`{"channel":"heartbeat"}`)); got != nil {
		t.Errorf("heartbeat must not decode, got %v", got)
	}
}

// ============================================================
// KuCoin: символ закодирован в топике
// ============================================================

func TestDecodeKuCoin(t *testing.T) {
	frame := []byte(`{"type":"message","topic":"/market/ticker:BTC-USDT","subject":"trade.ticker","data":{"bestBid":"60000.1","bestBidSize":"0.5","bestAsk":"60000.9","bestAskSize":"0.7","price":"60000.5"}}`)

	tick, ok := decodeKuCoin(frame)
	if !ok {
		t.Fatal("decode failed")
	}
	if tick.symbol != "BTC-USDT" {
		t.Errorf("symbol = %q", tick.symbol)
	}
	wantDec(t, tick.bid, "60000.1", "bid")
	wantDec(t, tick.ask, "60000.9", "ask")

	if _, ok := decodeKuCoin([]byte(`{"id":"welcome","type":"welcome"}`)); ok {
		t.Error("welcome message must not decode")
	}
}

// ============================================================
// Gate: размеров в тикере нет
// ============================================================

func TestDecodeGate(t *testing.T) {
	frame := []byte(`{"time":1718123456,"channel":"spot.tickers","event":"update","result":{"currency_pair":"BTC_USDT","last":"60000","lowest_ask":"60000.9","highest_bid":"60000.1"}}`)

	tick, ok := decodeGate(frame)
	if !ok {
		t.Fatal("decode failed")
	}
	if tick.symbol != "BTC_USDT" {
		t.Errorf("symbol = %q", tick.symbol)
	}
	wantDec(t, tick.bid, "60000.1", "bid")
	wantDec(t, tick.ask, "60000.9", "ask")
	if !tick.bidSize.IsZero() || !tick.askSize.IsZero() {
		t.Error("gate sizes must stay zero")
	}

	if _, ok := decodeGate([]byte(`{"time":1,"channel":"spot.tickers","event":"subscribe","result":{"status":"success"}}`)); ok {
		t.Error("subscribe ack must not decode")
	}
}

// ============================================================
// MEXC: символ в имени канала
// ============================================================

func TestDecodeMEXC(t *testing.T) {
	frame := []byte(`{"c":"spot@public.bookTicker.v3.api@BTCUSDT","d":{"a":"60000.9","A":"0.7","b":"60000.1","B":"0.5"},"s":"BTCUSDT","t":1718123456789}`)

	tick, ok := decodeMEXC(frame)
	if !ok {
		t.Fatal("decode failed")
	}
	if tick.symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", tick.symbol)
	}
	wantDec(t, tick.bid, "60000.1", "bid")
	wantDec(t, tick.ask, "60000.9", "ask")

	if _, ok := decodeMEXC([]byte(`{"id":0,"code":0,"msg":"spot@public.bookTicker"}`)); ok {
		t.Error("ack must not decode")
	}
}

// ============================================================
// HTX: gzip-фреймы, серверный ping
// ============================================================

func gzipFrame(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(text)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeHTX(t *testing.T) {
	raw := gzipFrame(t, `{"ch":"market.btcusdt.bbo","ts":1718123456789,"tick":{"seqId":1,"ask":60000.9,"askSize":0.7,"bid":60000.1,"bidSize":0.5,"symbol":"btcusdt"}}`)

	text, err := gunzip(raw)
	if err != nil {
		t.Fatalf("gunzip failed: %v", err)
	}

	var msg htxWsMessage
	if err := jsonFast.Unmarshal(text, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	tick, ok := decodeHTX(&msg)
	if !ok {
		t.Fatal("decode failed")
	}
	// Символ из канала поднимается в верхний регистр
	if tick.symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", tick.symbol)
	}
	wantDec(t, tick.bid, "60000.1", "bid")
	wantDec(t, tick.ask, "60000.9", "ask")
}

func TestDecodeHTXPing(t *testing.T) {
	text, err := gunzip(gzipFrame(t, `{"ping":1718123456789}`))
	if err != nil {
		t.Fatalf("gunzip failed: %v", err)
	}

	var msg htxWsMessage
	if err := jsonFast.Unmarshal(text, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Ping != 1718123456789 {
		t.Errorf("ping = %d", msg.Ping)
	}
	if _, ok := decodeHTX(&msg); ok {
		t.Error("ping must not decode as tick")
	}
}

func TestGunzipGarbage(t *testing.T) {
	if _, err := gunzip([]byte("plain text")); err == nil {
		t.Error("expected error on non-gzip data")
	}
}

// ============================================================
// Bitget: venue-время из поля ts
// ============================================================

func TestDecodeBitget(t *testing.T) {
	frame := []byte(`{"action":"snapshot","arg":{"instType":"SPOT","channel":"ticker","instId":"BTCUSDT"},"data":[{"instId":"BTCUSDT","lastPr":"60000","bestBid":"60000.1","bestAsk":"60000.9","bidSz":"0.5","askSz":"0.7","ts":"1718123456789"}]}`)

	ticks := decodeBitget(frame)
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}
	if ticks[0].symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", ticks[0].symbol)
	}
	wantDec(t, ticks[0].bid, "60000.1", "bid")
	wantDec(t, ticks[0].ask, "60000.9", "ask")
	if ticks[0].ts != 1718123456789 {
		t.Errorf("ts = %d, want venue timestamp", ticks[0].ts)
	}

	if got := decodeBitget([]byte(`{"event":"subscribe","arg":{"channel":"ticker"}}`)); got != nil {
		t.Errorf("subscribe ack must not decode, got %v", got)
	}
}

// ============================================================
// Coinbase
// ============================================================

func TestDecodeCoinbase(t *testing.T) {
	frame := []byte(`{"channel":"ticker","timestamp":"2024-06-11T12:00:00Z","events":[{"type":"snapshot","tickers":[{"type":"ticker","product_id":"BTC-USD","price":"60000","best_bid":"60000.1","best_ask":"60000.9","best_bid_quantity":"0.5","best_ask_quantity":"0.7"}]}]}`)

	ticks := decodeCoinbase(frame)
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}
	if ticks[0].symbol != "BTC-USD" {
		t.Errorf("symbol = %q", ticks[0].symbol)
	}
	wantDec(t, ticks[0].bid, "60000.1", "bid")
	wantDec(t, ticks[0].ask, "60000.9", "ask")

	if got := decodeCoinbase([]byte(`{"channel":"subscriptions","events":[]}`)); got != nil {
		t.Errorf("subscriptions ack must not decode, got %v", got)
	}
}

// ============================================================
// Общие свойства тиков
// ============================================================

func TestTickValid(t *testing.T) {
	tests := []struct {
		name string
		bid  string
		ask  string
		want bool
	}{
		{"both sides", "1", "2", true},
		{"zero bid", "0", "2", false},
		{"zero ask", "1", "0", false},
		{"both zero", "0", "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick := &bookTick{bid: dec(tt.bid), ask: dec(tt.ask)}
			if tick.valid() != tt.want {
				t.Errorf("valid() = %v, want %v", tick.valid(), tt.want)
			}
		})
	}
}

func TestDecHandlesGarbage(t *testing.T) {
	if !dec("").IsZero() {
		t.Error("empty string must parse to zero")
	}
	if !dec("abc").IsZero() {
		t.Error("garbage must parse to zero")
	}
	wantDec(t, dec("60000.10"), "60000.1", "dec")
}
