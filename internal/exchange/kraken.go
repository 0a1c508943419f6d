package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arbscanner/internal/metrics"
)

const (
	krakenWSURL = "wss://ws.kraken.com/v2"

	krakenPingInterval = 30 * time.Second
)

// krakenSymbols - фиксированный список: схема котировок Kraken отличается
// от остальных бирж, discovery по quote-валюте здесь не работает
var krakenSymbols = []string{
	"BTC/USD", "ETH/USD", "SOL/USD", "XRP/USD", "DOGE/USD",
	"ADA/USD", "AVAX/USD", "DOT/USD", "LINK/USD", "MATIC/USD",
	"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT",
}

type krakenSubscribe struct {
	Method string              `json:"method"`
	Params krakenSubscribeArgs `json:"params"`
}

type krakenSubscribeArgs struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
}

// Kraken v2 шлёт котировки числами, не строками
type krakenWsMessage struct {
	Channel string         `json:"channel"`
	Data    []krakenTicker `json:"data"`
}

type krakenTicker struct {
	Symbol string      `json:"symbol"`
	Bid    json.Number `json:"bid"`
	BidQty json.Number `json:"bid_qty"`
	Ask    json.Number `json:"ask"`
	AskQty json.Number `json:"ask_qty"`
}

func runKraken(ctx context.Context, deps *Deps) error {
	log := deps.Log.Named("kraken")

	for {
		if err := runKrakenOnce(ctx, deps, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues("kraken").Inc()
			log.Error("Connection error, reconnecting in 5s", zap.Error(err))
		}
		if err := sleepCtx(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func runKrakenOnce(ctx context.Context, deps *Deps, log *zap.Logger) error {
	ws, err := dialWS(ctx, krakenWSURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	log.Info("Connected")

	for _, sym := range krakenSymbols {
		deps.Matcher.Register("kraken", sym)
	}

	sub := krakenSubscribe{
		Method: "subscribe",
		Params: krakenSubscribeArgs{
			Channel: "ticker",
			Symbol:  krakenSymbols,
		},
	}
	if err := ws.SendJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ws.keepAlive(sessCtx, krakenPingInterval, func(s *wsSession) error {
		return s.SendJSON(map[string]string{"method": "ping"})
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		for _, tick := range decodeKraken(data) {
			if !tick.valid() {
				metrics.DroppedMessages.WithLabelValues("kraken", "zero_quote").Inc()
				continue
			}
			normalized := deps.Matcher.Register("kraken", tick.symbol)
			deps.publish("kraken", normalized, tick)
		}
	}
}

// decodeKraken разбирает сообщения канала ticker
func decodeKraken(data []byte) []*bookTick {
	var msg krakenWsMessage
	if err := jsonFast.Unmarshal(data, &msg); err != nil {
		return nil
	}
	if msg.Channel != "ticker" || len(msg.Data) == 0 {
		return nil
	}

	ticks := make([]*bookTick, 0, len(msg.Data))
	for _, t := range msg.Data {
		if t.Symbol == "" {
			continue
		}
		ticks = append(ticks, &bookTick{
			symbol:  t.Symbol,
			bid:     dec(t.Bid.String()),
			ask:     dec(t.Ask.String()),
			bidSize: dec(t.BidQty.String()),
			askSize: dec(t.AskQty.String()),
		})
	}
	return ticks
}
