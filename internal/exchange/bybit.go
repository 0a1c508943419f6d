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
	bybitWSURL   = "wss://stream.bybit.com/v5/public/spot"
	bybitRESTURL = "https://api.bybit.com/v5/market/instruments-info?category=spot"

	bybitPingInterval = 20 * time.Second
	bybitSubBatch     = 10
)

type bybitInstrumentsResponse struct {
	Result struct {
		List []bybitInstrument `json:"list"`
	} `json:"result"`
}

type bybitInstrument struct {
	Symbol    string `json:"symbol"`
	Status    string `json:"status"`
	QuoteCoin string `json:"quoteCoin"`
}

type bybitSubscribe struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type bybitWsMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bid1Price"`
		BidSize  string `json:"bid1Size"`
		AskPrice string `json:"ask1Price"`
		AskSize  string `json:"ask1Size"`
	} `json:"data"`
}

func runBybit(ctx context.Context, deps *Deps) error {
	log := deps.Log.Named("bybit")

	for {
		if err := runBybitOnce(ctx, deps, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues("bybit").Inc()
			log.Error("Connection error, reconnecting in 5s", zap.Error(err))
		}
		if err := sleepCtx(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func runBybitOnce(ctx context.Context, deps *Deps, log *zap.Logger) error {
	var info bybitInstrumentsResponse
	resp, err := RESTClient().R().SetContext(ctx).SetResult(&info).Get(bybitRESTURL)
	if err != nil {
		return fmt.Errorf("fetch symbols: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch symbols: status %d", resp.StatusCode())
	}
	log.Info("Fetched symbols", zap.Int("count", len(info.Result.List)))

	symbols := make([]string, 0, symbolLimit)
	for _, s := range info.Result.List {
		if s.Status != "Trading" || s.QuoteCoin != "USDT" {
			continue
		}
		symbols = append(symbols, s.Symbol)
		if len(symbols) == symbolLimit {
			break
		}
	}

	for _, sym := range symbols {
		deps.Matcher.Register("bybit", sym)
	}

	ws, err := dialWS(ctx, bybitWSURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	log.Info("Connected")

	// Bybit ограничивает число подписок в одном сообщении
	args := make([]string, len(symbols))
	for i, sym := range symbols {
		args[i] = "tickers." + sym
	}
	for start := 0; start < len(args); start += bybitSubBatch {
		end := start + bybitSubBatch
		if end > len(args) {
			end = len(args)
		}
		if err := ws.SendJSON(bybitSubscribe{Op: "subscribe", Args: args[start:end]}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ws.keepAlive(sessCtx, bybitPingInterval, func(s *wsSession) error {
		return s.SendJSON(map[string]string{"op": "ping"})
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		tick, ok := decodeBybit(data)
		if !ok {
			// Служебные ответы (subscribe ack, pong) сюда тоже попадают
			continue
		}
		if !tick.valid() {
			metrics.DroppedMessages.WithLabelValues("bybit", "zero_quote").Inc()
			continue
		}

		normalized := deps.Matcher.Register("bybit", tick.symbol)
		deps.publish("bybit", normalized, tick)
	}
}

// decodeBybit разбирает тикер из топика tickers.*
func decodeBybit(data []byte) (*bookTick, bool) {
	var msg bybitWsMessage
	if err := jsonFast.Unmarshal(data, &msg); err != nil {
		return nil, false
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") || msg.Data.Symbol == "" {
		return nil, false
	}

	return &bookTick{
		symbol:  msg.Data.Symbol,
		bid:     dec(msg.Data.BidPrice),
		ask:     dec(msg.Data.AskPrice),
		bidSize: dec(msg.Data.BidSize),
		askSize: dec(msg.Data.AskSize),
	}, true
}
