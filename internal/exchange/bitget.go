package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arbscanner/internal/metrics"
)

const (
	bitgetWSURL   = "wss://ws.bitget.com/v2/ws/public"
	bitgetRESTURL = "https://api.bitget.com/api/v2/spot/public/symbols"

	bitgetPingInterval = 25 * time.Second
	bitgetSubBatch     = 30
)

type bitgetSymbolsResponse struct {
	Data []bitgetSymbolInfo `json:"data"`
}

type bitgetSymbolInfo struct {
	Symbol    string `json:"symbol"`
	QuoteCoin string `json:"quoteCoin"`
	Status    string `json:"status"`
}

type bitgetSubscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type bitgetSubscribe struct {
	Op   string               `json:"op"`
	Args []bitgetSubscribeArg `json:"args"`
}

type bitgetWsMessage struct {
	Action string         `json:"action"`
	Data   []bitgetTicker `json:"data"`
}

type bitgetTicker struct {
	InstID  string `json:"instId"`
	BestBid string `json:"bestBid"`
	BestAsk string `json:"bestAsk"`
	BidSize string `json:"bidSz"`
	AskSize string `json:"askSz"`
	Ts      string `json:"ts"`
}

func runBitget(ctx context.Context, deps *Deps) error {
	log := deps.Log.Named("bitget")

	for {
		if err := runBitgetOnce(ctx, deps, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues("bitget").Inc()
			log.Error("Connection error, reconnecting in 5s", zap.Error(err))
		}
		if err := sleepCtx(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func runBitgetOnce(ctx context.Context, deps *Deps, log *zap.Logger) error {
	var symbolsResp bitgetSymbolsResponse
	resp, err := RESTClient().R().SetContext(ctx).SetResult(&symbolsResp).Get(bitgetRESTURL)
	if err != nil {
		return fmt.Errorf("fetch symbols: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch symbols: status %d", resp.StatusCode())
	}
	log.Info("Fetched symbols", zap.Int("count", len(symbolsResp.Data)))

	symbols := make([]string, 0, symbolLimit)
	for _, s := range symbolsResp.Data {
		if s.Status != "online" || s.QuoteCoin != "USDT" {
			continue
		}
		symbols = append(symbols, s.Symbol)
		if len(symbols) == symbolLimit {
			break
		}
	}

	for _, sym := range symbols {
		deps.Matcher.Register("bitget", sym)
	}

	ws, err := dialWS(ctx, bitgetWSURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	log.Info("Connected")

	for start := 0; start < len(symbols); start += bitgetSubBatch {
		end := start + bitgetSubBatch
		if end > len(symbols) {
			end = len(symbols)
		}
		args := make([]bitgetSubscribeArg, 0, end-start)
		for _, sym := range symbols[start:end] {
			args = append(args, bitgetSubscribeArg{
				InstType: "SPOT",
				Channel:  "ticker",
				InstID:   sym,
			})
		}
		if err := ws.SendJSON(bitgetSubscribe{Op: "subscribe", Args: args}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Bitget ждёт литеральный текст "ping" и отвечает "pong"
	go ws.keepAlive(sessCtx, bitgetPingInterval, func(s *wsSession) error {
		return s.SendText("ping")
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if string(data) == "pong" {
			continue
		}

		for _, tick := range decodeBitget(data) {
			if !tick.valid() {
				metrics.DroppedMessages.WithLabelValues("bitget", "zero_quote").Inc()
				continue
			}
			normalized, ok := deps.Matcher.GetNormalized("bitget", tick.symbol)
			if !ok {
				metrics.DroppedMessages.WithLabelValues("bitget", "unknown_symbol").Inc()
				continue
			}
			deps.publish("bitget", normalized, tick)
		}
	}
}

// decodeBitget разбирает пачку тикеров. Единственная биржа, у которой
// берётся venue-время из поля ts.
func decodeBitget(data []byte) []*bookTick {
	var msg bitgetWsMessage
	if err := jsonFast.Unmarshal(data, &msg); err != nil {
		return nil
	}
	if len(msg.Data) == 0 {
		return nil
	}

	ticks := make([]*bookTick, 0, len(msg.Data))
	for _, t := range msg.Data {
		if t.InstID == "" {
			continue
		}
		ts, _ := strconv.ParseInt(t.Ts, 10, 64)
		ticks = append(ticks, &bookTick{
			symbol:  t.InstID,
			bid:     dec(t.BestBid),
			ask:     dec(t.BestAsk),
			bidSize: dec(t.BidSize),
			askSize: dec(t.AskSize),
			ts:      ts,
		})
	}
	return ticks
}
