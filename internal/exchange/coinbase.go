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
	coinbaseWSURL   = "wss://advanced-trade-ws.coinbase.com"
	coinbaseRESTURL = "https://api.exchange.coinbase.com/products"

	coinbasePingInterval = 30 * time.Second

	// Coinbase котирует в USD: пар меньше, чем USDT на остальных
	coinbaseSymbolLimit = 50
)

type coinbaseProduct struct {
	ID            string `json:"id"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	Status        string `json:"status"`
}

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

type coinbaseWsMessage struct {
	Channel string `json:"channel"`
	Events  []struct {
		Type    string           `json:"type"`
		Tickers []coinbaseTicker `json:"tickers"`
	} `json:"events"`
}

type coinbaseTicker struct {
	ProductID  string `json:"product_id"`
	BestBid    string `json:"best_bid"`
	BestAsk    string `json:"best_ask"`
	BestBidQty string `json:"best_bid_quantity"`
	BestAskQty string `json:"best_ask_quantity"`
}

func runCoinbase(ctx context.Context, deps *Deps) error {
	log := deps.Log.Named("coinbase")

	for {
		if err := runCoinbaseOnce(ctx, deps, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues("coinbase").Inc()
			log.Error("Connection error, reconnecting in 5s", zap.Error(err))
		}
		if err := sleepCtx(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func runCoinbaseOnce(ctx context.Context, deps *Deps, log *zap.Logger) error {
	var products []coinbaseProduct
	resp, err := RESTClient().R().SetContext(ctx).SetResult(&products).Get(coinbaseRESTURL)
	if err != nil {
		return fmt.Errorf("fetch products: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch products: status %d", resp.StatusCode())
	}
	log.Info("Fetched products", zap.Int("count", len(products)))

	productIDs := make([]string, 0, coinbaseSymbolLimit)
	for _, p := range products {
		if p.Status != "online" || (p.QuoteCurrency != "USD" && p.QuoteCurrency != "USDT") {
			continue
		}
		productIDs = append(productIDs, p.ID)
		if len(productIDs) == coinbaseSymbolLimit {
			break
		}
	}

	for _, id := range productIDs {
		deps.Matcher.Register("coinbase", id)
	}

	ws, err := dialWS(ctx, coinbaseWSURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	log.Info("Connected")

	sub := coinbaseSubscribe{
		Type:       "subscribe",
		ProductIDs: productIDs,
		Channel:    "ticker",
	}
	if err := ws.SendJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ws.keepAlive(sessCtx, coinbasePingInterval, (*wsSession).Ping)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		for _, tick := range decodeCoinbase(data) {
			if !tick.valid() {
				metrics.DroppedMessages.WithLabelValues("coinbase", "zero_quote").Inc()
				continue
			}
			normalized, ok := deps.Matcher.GetNormalized("coinbase", tick.symbol)
			if !ok {
				metrics.DroppedMessages.WithLabelValues("coinbase", "unknown_symbol").Inc()
				continue
			}
			deps.publish("coinbase", normalized, tick)
		}
	}
}

// decodeCoinbase разбирает события канала ticker
func decodeCoinbase(data []byte) []*bookTick {
	var msg coinbaseWsMessage
	if err := jsonFast.Unmarshal(data, &msg); err != nil {
		return nil
	}
	if msg.Channel != "ticker" {
		return nil
	}

	var ticks []*bookTick
	for _, event := range msg.Events {
		for _, t := range event.Tickers {
			if t.ProductID == "" {
				continue
			}
			ticks = append(ticks, &bookTick{
				symbol:  t.ProductID,
				bid:     dec(t.BestBid),
				ask:     dec(t.BestAsk),
				bidSize: dec(t.BestBidQty),
				askSize: dec(t.BestAskQty),
			})
		}
	}
	return ticks
}
