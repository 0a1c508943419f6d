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
	okxWSURL   = "wss://ws.okx.com:8443/ws/v5/public"
	okxRESTURL = "https://www.okx.com/api/v5/public/instruments?instType=SPOT"

	okxPingInterval = 25 * time.Second
	okxSubBatch     = 50
)

type okxInstrumentsResponse struct {
	Data []okxInstrument `json:"data"`
}

type okxInstrument struct {
	InstID   string `json:"instId"`
	State    string `json:"state"`
	QuoteCcy string `json:"quoteCcy"`
}

type okxSubscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxSubscribe struct {
	Op   string            `json:"op"`
	Args []okxSubscribeArg `json:"args"`
}

type okxWsMessage struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []okxTicker `json:"data"`
}

type okxTicker struct {
	InstID   string `json:"instId"`
	BidPrice string `json:"bidPx"`
	BidSize  string `json:"bidSz"`
	AskPrice string `json:"askPx"`
	AskSize  string `json:"askSz"`
}

func runOKX(ctx context.Context, deps *Deps) error {
	log := deps.Log.Named("okx")

	for {
		if err := runOKXOnce(ctx, deps, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues("okx").Inc()
			log.Error("Connection error, reconnecting in 5s", zap.Error(err))
		}
		if err := sleepCtx(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func runOKXOnce(ctx context.Context, deps *Deps, log *zap.Logger) error {
	var info okxInstrumentsResponse
	resp, err := RESTClient().R().SetContext(ctx).SetResult(&info).Get(okxRESTURL)
	if err != nil {
		return fmt.Errorf("fetch symbols: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch symbols: status %d", resp.StatusCode())
	}
	log.Info("Fetched symbols", zap.Int("count", len(info.Data)))

	symbols := make([]string, 0, symbolLimit)
	for _, s := range info.Data {
		if s.State != "live" || s.QuoteCcy != "USDT" {
			continue
		}
		symbols = append(symbols, s.InstID)
		if len(symbols) == symbolLimit {
			break
		}
	}

	for _, sym := range symbols {
		deps.Matcher.Register("okx", sym)
	}

	ws, err := dialWS(ctx, okxWSURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	log.Info("Connected")

	args := make([]okxSubscribeArg, len(symbols))
	for i, sym := range symbols {
		args[i] = okxSubscribeArg{Channel: "tickers", InstID: sym}
	}
	for start := 0; start < len(args); start += okxSubBatch {
		end := start + okxSubBatch
		if end > len(args) {
			end = len(args)
		}
		if err := ws.SendJSON(okxSubscribe{Op: "subscribe", Args: args[start:end]}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// OKX отвечает текстом "pong" на текст "ping"
	go ws.keepAlive(sessCtx, okxPingInterval, func(s *wsSession) error {
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

		for _, tick := range decodeOKX(data) {
			if !tick.valid() {
				metrics.DroppedMessages.WithLabelValues("okx", "zero_quote").Inc()
				continue
			}
			normalized := deps.Matcher.Register("okx", tick.symbol)
			deps.publish("okx", normalized, tick)
		}
	}
}

// decodeOKX разбирает пачку тикеров из одного сообщения
func decodeOKX(data []byte) []*bookTick {
	var msg okxWsMessage
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
		ticks = append(ticks, &bookTick{
			symbol:  t.InstID,
			bid:     dec(t.BidPrice),
			ask:     dec(t.AskPrice),
			bidSize: dec(t.BidSize),
			askSize: dec(t.AskSize),
		})
	}
	return ticks
}
