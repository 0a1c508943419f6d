package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arbscanner/internal/metrics"
)

const (
	gateWSURL   = "wss://api.gateio.ws/ws/v4/"
	gateRESTURL = "https://api.gateio.ws/api/v4/spot/currency_pairs"

	gatePingInterval = 15 * time.Second
	gateSubBatch     = 20
)

type gateCurrencyPair struct {
	ID          string `json:"id"`
	Quote       string `json:"quote"`
	TradeStatus string `json:"trade_status"`
}

type gateSubscribe struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload"`
}

type gatePing struct {
	Time    int64  `json:"time"`
	Channel string `json:"channel"`
}

type gateWsMessage struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Result  struct {
		CurrencyPair string `json:"currency_pair"`
		HighestBid   string `json:"highest_bid"`
		LowestAsk    string `json:"lowest_ask"`
	} `json:"result"`
}

func runGate(ctx context.Context, deps *Deps) error {
	log := deps.Log.Named("gate")

	for {
		if err := runGateOnce(ctx, deps, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues("gate").Inc()
			log.Error("Connection error, reconnecting in 5s", zap.Error(err))
		}
		if err := sleepCtx(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func runGateOnce(ctx context.Context, deps *Deps, log *zap.Logger) error {
	var pairs []gateCurrencyPair
	resp, err := RESTClient().R().SetContext(ctx).SetResult(&pairs).Get(gateRESTURL)
	if err != nil {
		return fmt.Errorf("fetch symbols: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch symbols: status %d", resp.StatusCode())
	}

	symbols := make([]string, 0, symbolLimit)
	for _, p := range pairs {
		if p.TradeStatus != "tradable" || p.Quote != "USDT" {
			continue
		}
		symbols = append(symbols, p.ID)
		if len(symbols) == symbolLimit {
			break
		}
	}
	log.Info("Fetched symbols", zap.Int("count", len(symbols)))

	for _, sym := range symbols {
		deps.Matcher.Register("gate", sym)
	}

	ws, err := dialWS(ctx, gateWSURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	log.Info("Connected")

	for start := 0; start < len(symbols); start += gateSubBatch {
		end := start + gateSubBatch
		if end > len(symbols) {
			end = len(symbols)
		}
		sub := gateSubscribe{
			Time:    time.Now().Unix(),
			Channel: "spot.tickers",
			Event:   "subscribe",
			Payload: symbols[start:end],
		}
		if err := ws.SendJSON(sub); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ws.keepAlive(sessCtx, gatePingInterval, func(s *wsSession) error {
		return s.SendJSON(gatePing{Time: time.Now().Unix(), Channel: "spot.ping"})
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		tick, ok := decodeGate(data)
		if !ok {
			continue
		}
		if !tick.valid() {
			metrics.DroppedMessages.WithLabelValues("gate", "zero_quote").Inc()
			continue
		}

		normalized := deps.Matcher.Register("gate", tick.symbol)
		deps.publish("gate", normalized, tick)
	}
}

// decodeGate разбирает событие update канала spot.tickers.
// Gate не присылает размеры в тикере - остаются нулевыми.
func decodeGate(data []byte) (*bookTick, bool) {
	var msg gateWsMessage
	if err := jsonFast.Unmarshal(data, &msg); err != nil {
		return nil, false
	}
	if msg.Channel != "spot.tickers" || msg.Event != "update" || msg.Result.CurrencyPair == "" {
		return nil, false
	}

	return &bookTick{
		symbol: msg.Result.CurrencyPair,
		bid:    dec(msg.Result.HighestBid),
		ask:    dec(msg.Result.LowestAsk),
	}, true
}
