package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arbscanner/internal/metrics"
)

const (
	binanceStreamURL = "wss://stream.binance.com:9443/stream"
	binanceRESTURL   = "https://api.binance.com/api/v3/exchangeInfo"

	binancePingInterval = 30 * time.Second
)

type binanceExchangeInfo struct {
	Symbols []binanceSymbolInfo `json:"symbols"`
}

type binanceSymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	QuoteAsset string `json:"quoteAsset"`
}

// binanceStreamWrapper - конверт combined stream:
// {"stream":"btcusdt@bookTicker","data":{...}}
type binanceStreamWrapper struct {
	Stream string            `json:"stream"`
	Data   binanceBookTicker `json:"data"`
}

type binanceBookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

func runBinance(ctx context.Context, deps *Deps) error {
	log := deps.Log.Named("binance")

	for {
		if err := runBinanceOnce(ctx, deps, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues("binance").Inc()
			log.Error("Connection error, reconnecting in 5s", zap.Error(err))
		}
		if err := sleepCtx(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func runBinanceOnce(ctx context.Context, deps *Deps, log *zap.Logger) error {
	var info binanceExchangeInfo
	resp, err := RESTClient().R().SetContext(ctx).SetResult(&info).Get(binanceRESTURL)
	if err != nil {
		return fmt.Errorf("fetch symbols: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch symbols: status %d", resp.StatusCode())
	}
	log.Info("Fetched symbols", zap.Int("count", len(info.Symbols)))

	// USDT пары - самые ликвидные
	symbols := make([]string, 0, symbolLimit)
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != "USDT" {
			continue
		}
		symbols = append(symbols, s.Symbol)
		if len(symbols) == symbolLimit {
			break
		}
	}

	for _, sym := range symbols {
		deps.Matcher.Register("binance", sym)
	}

	// Binance подписывает через имена стримов в URL
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@bookTicker"
	}
	wsURL := binanceStreamURL + "?streams=" + strings.Join(streams, "/")

	log.Info("Connecting to websocket", zap.Int("streams", len(streams)))

	ws, err := dialWS(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	log.Info("Connected")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ws.keepAlive(sessCtx, binancePingInterval, (*wsSession).Ping)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		tick, ok := decodeBinance(data)
		if !ok {
			metrics.DroppedMessages.WithLabelValues("binance", "schema").Inc()
			log.Debug("Undecodable message", zap.ByteString("data", data))
			continue
		}
		if !tick.valid() {
			metrics.DroppedMessages.WithLabelValues("binance", "zero_quote").Inc()
			continue
		}

		normalized := deps.Matcher.Register("binance", tick.symbol)
		deps.publish("binance", normalized, tick)
	}
}

// decodeBinance разбирает bookTicker из combined stream
func decodeBinance(data []byte) (*bookTick, bool) {
	var wrapper binanceStreamWrapper
	if err := jsonFast.Unmarshal(data, &wrapper); err != nil {
		return nil, false
	}
	if wrapper.Data.Symbol == "" {
		return nil, false
	}

	return &bookTick{
		symbol:  wrapper.Data.Symbol,
		bid:     dec(wrapper.Data.BidPrice),
		ask:     dec(wrapper.Data.AskPrice),
		bidSize: dec(wrapper.Data.BidQty),
		askSize: dec(wrapper.Data.AskQty),
	}, true
}
