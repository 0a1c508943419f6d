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
	mexcWSURL   = "wss://wbs.mexc.com/ws"
	mexcRESTURL = "https://api.mexc.com/api/v3/exchangeInfo"

	mexcPingInterval = 20 * time.Second
	mexcTopicPrefix  = "spot@public.bookTicker.v3.api@"
)

type mexcExchangeInfo struct {
	Symbols []mexcSymbolInfo `json:"symbols"`
}

type mexcSymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	QuoteAsset string `json:"quoteAsset"`
}

type mexcSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type mexcWsMessage struct {
	Channel string `json:"c"`
	Data    struct {
		AskPrice string `json:"a"`
		AskQty   string `json:"A"`
		BidPrice string `json:"b"`
		BidQty   string `json:"B"`
	} `json:"d"`
}

func runMEXC(ctx context.Context, deps *Deps) error {
	log := deps.Log.Named("mexc")

	for {
		if err := runMEXCOnce(ctx, deps, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues("mexc").Inc()
			log.Error("Connection error, reconnecting in 5s", zap.Error(err))
		}
		if err := sleepCtx(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func runMEXCOnce(ctx context.Context, deps *Deps, log *zap.Logger) error {
	var info mexcExchangeInfo
	resp, err := RESTClient().R().SetContext(ctx).SetResult(&info).Get(mexcRESTURL)
	if err != nil {
		return fmt.Errorf("fetch symbols: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch symbols: status %d", resp.StatusCode())
	}
	log.Info("Fetched symbols", zap.Int("count", len(info.Symbols)))

	symbols := make([]string, 0, symbolLimit)
	for _, s := range info.Symbols {
		if s.Status != "ENABLED" || s.QuoteAsset != "USDT" {
			continue
		}
		symbols = append(symbols, s.Symbol)
		if len(symbols) == symbolLimit {
			break
		}
	}

	// Подписка регистрирует символы; тикерный поток только ищет
	for _, sym := range symbols {
		deps.Matcher.Register("mexc", sym)
	}

	ws, err := dialWS(ctx, mexcWSURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	log.Info("Connected")

	params := make([]string, len(symbols))
	for i, sym := range symbols {
		params[i] = mexcTopicPrefix + sym
	}
	if err := ws.SendJSON(mexcSubscribe{Method: "SUBSCRIPTION", Params: params}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ws.keepAlive(sessCtx, mexcPingInterval, (*wsSession).Ping)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		tick, ok := decodeMEXC(data)
		if !ok {
			continue
		}
		if !tick.valid() {
			metrics.DroppedMessages.WithLabelValues("mexc", "zero_quote").Inc()
			continue
		}

		// Незнакомый символ (не из нашей подписки) пропускается
		normalized, ok := deps.Matcher.GetNormalized("mexc", tick.symbol)
		if !ok {
			metrics.DroppedMessages.WithLabelValues("mexc", "unknown_symbol").Inc()
			continue
		}
		deps.publish("mexc", normalized, tick)
	}
}

// decodeMEXC разбирает bookTicker; символ закодирован в имени канала
// spot@public.bookTicker.v3.api@BTCUSDT
func decodeMEXC(data []byte) (*bookTick, bool) {
	var msg mexcWsMessage
	if err := jsonFast.Unmarshal(data, &msg); err != nil {
		return nil, false
	}
	if msg.Channel == "" {
		return nil, false
	}

	idx := strings.LastIndexByte(msg.Channel, '@')
	if idx < 0 || idx == len(msg.Channel)-1 {
		return nil, false
	}
	symbol := msg.Channel[idx+1:]

	return &bookTick{
		symbol:  symbol,
		bid:     dec(msg.Data.BidPrice),
		ask:     dec(msg.Data.AskPrice),
		bidSize: dec(msg.Data.BidQty),
		askSize: dec(msg.Data.AskQty),
	}, true
}
