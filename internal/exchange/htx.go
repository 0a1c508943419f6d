package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"arbscanner/internal/metrics"
)

const (
	htxWSURL   = "wss://api.huobi.pro/ws"
	htxRESTURL = "https://api.huobi.pro/v1/common/symbols"

	// Пауза между пачками подписок: HTX режет слишком частые запросы
	htxSubThrottle = 100 * time.Millisecond
	htxSubBatch    = 10
)

type htxSymbolsResponse struct {
	Data []htxSymbolInfo `json:"data"`
}

type htxSymbolInfo struct {
	Symbol        string `json:"symbol"`
	QuoteCurrency string `json:"quote-currency"`
	State         string `json:"state"`
}

type htxSubscribe struct {
	Sub string `json:"sub"`
	ID  string `json:"id"`
}

// htxWsMessage - инфлированное сообщение: либо серверный ping,
// либо тик канала market.<symbol>.bbo
type htxWsMessage struct {
	Ping    int64  `json:"ping"`
	Channel string `json:"ch"`
	Tick    *struct {
		Bid     json.Number `json:"bid"`
		BidSize json.Number `json:"bidSize"`
		Ask     json.Number `json:"ask"`
		AskSize json.Number `json:"askSize"`
	} `json:"tick"`
}

func runHTX(ctx context.Context, deps *Deps) error {
	log := deps.Log.Named("htx")

	for {
		if err := runHTXOnce(ctx, deps, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues("htx").Inc()
			log.Error("Connection error, reconnecting in 5s", zap.Error(err))
		}
		if err := sleepCtx(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func runHTXOnce(ctx context.Context, deps *Deps, log *zap.Logger) error {
	var symbolsResp htxSymbolsResponse
	resp, err := RESTClient().R().SetContext(ctx).SetResult(&symbolsResp).Get(htxRESTURL)
	if err != nil {
		return fmt.Errorf("fetch symbols: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch symbols: status %d", resp.StatusCode())
	}
	log.Info("Fetched symbols", zap.Int("count", len(symbolsResp.Data)))

	// HTX использует lowercase (btcusdt); в matcher кладём uppercase
	symbols := make([]string, 0, symbolLimit)
	for _, s := range symbolsResp.Data {
		if s.State != "online" || s.QuoteCurrency != "usdt" {
			continue
		}
		symbols = append(symbols, s.Symbol)
		if len(symbols) == symbolLimit {
			break
		}
	}

	for _, sym := range symbols {
		deps.Matcher.Register("htx", strings.ToUpper(sym))
	}

	ws, err := dialWS(ctx, htxWSURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	log.Info("Connected")

	for i, sym := range symbols {
		sub := htxSubscribe{
			Sub: "market." + sym + ".bbo",
			ID:  fmt.Sprintf("sub_%d", i),
		}
		if err := ws.SendJSON(sub); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		if i%htxSubBatch == htxSubBatch-1 {
			if err := sleepCtx(ctx, htxSubThrottle); err != nil {
				return err
			}
		}
	}

	log.Info("Subscribed to BBO channels", zap.Int("count", len(symbols)))

	// Keep-alive здесь серверный: HTX шлёт {ping: ts}, мы отвечаем
	// {pong: ts} из цикла чтения. Отдельного таймера нет.
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		// HTX сжимает все сообщения gzip'ом
		text, err := gunzip(data)
		if err != nil {
			metrics.DroppedMessages.WithLabelValues("htx", "gzip").Inc()
			continue
		}

		var msg htxWsMessage
		if err := jsonFast.Unmarshal(text, &msg); err != nil {
			metrics.DroppedMessages.WithLabelValues("htx", "schema").Inc()
			continue
		}

		if msg.Ping != 0 {
			if err := ws.SendJSON(map[string]int64{"pong": msg.Ping}); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
			continue
		}

		tick, ok := decodeHTX(&msg)
		if !ok {
			continue
		}
		if !tick.valid() {
			metrics.DroppedMessages.WithLabelValues("htx", "zero_quote").Inc()
			continue
		}

		normalized, ok := deps.Matcher.GetNormalized("htx", tick.symbol)
		if !ok {
			metrics.DroppedMessages.WithLabelValues("htx", "unknown_symbol").Inc()
			continue
		}
		deps.publish("htx", normalized, tick)
	}
}

// decodeHTX извлекает тик из сообщения канала market.<symbol>.bbo
func decodeHTX(msg *htxWsMessage) (*bookTick, bool) {
	if msg.Channel == "" || msg.Tick == nil {
		return nil, false
	}

	// Канал вида market.btcusdt.bbo
	parts := strings.Split(msg.Channel, ".")
	if len(parts) < 2 {
		return nil, false
	}
	symbol := strings.ToUpper(parts[1])

	return &bookTick{
		symbol:  symbol,
		bid:     dec(msg.Tick.Bid.String()),
		ask:     dec(msg.Tick.Ask.String()),
		bidSize: dec(msg.Tick.BidSize.String()),
		askSize: dec(msg.Tick.AskSize.String()),
	}, true
}

// gunzip инфлирует бинарный фрейм HTX
func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
