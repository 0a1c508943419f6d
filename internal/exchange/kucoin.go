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
	kucoinBulletURL  = "https://api.kucoin.com/api/v1/bullet-public"
	kucoinSymbolsURL = "https://api.kucoin.com/api/v2/symbols"
)

// KuCoin выдаёт websocket endpoint и токен через POST bootstrap
type kucoinBulletResponse struct {
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"` // ms
		} `json:"instanceServers"`
	} `json:"data"`
}

type kucoinSymbolsResponse struct {
	Data []kucoinSymbol `json:"data"`
}

type kucoinSymbol struct {
	Symbol        string `json:"symbol"`
	QuoteCurrency string `json:"quoteCurrency"`
	EnableTrading bool   `json:"enableTrading"`
}

type kucoinSubscribe struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic"`
	PrivateChannel bool   `json:"privateChannel"`
	Response       bool   `json:"response"`
}

type kucoinWsMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  struct {
		BestBid     string `json:"bestBid"`
		BestBidSize string `json:"bestBidSize"`
		BestAsk     string `json:"bestAsk"`
		BestAskSize string `json:"bestAskSize"`
	} `json:"data"`
}

func runKuCoin(ctx context.Context, deps *Deps) error {
	log := deps.Log.Named("kucoin")

	for {
		if err := runKuCoinOnce(ctx, deps, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues("kucoin").Inc()
			log.Error("Connection error, reconnecting in 5s", zap.Error(err))
		}
		if err := sleepCtx(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func runKuCoinOnce(ctx context.Context, deps *Deps, log *zap.Logger) error {
	var bullet kucoinBulletResponse
	resp, err := RESTClient().R().SetContext(ctx).SetResult(&bullet).Post(kucoinBulletURL)
	if err != nil {
		return fmt.Errorf("bullet: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("bullet: status %d", resp.StatusCode())
	}
	if len(bullet.Data.InstanceServers) == 0 {
		return fmt.Errorf("bullet: no instance servers")
	}

	server := bullet.Data.InstanceServers[0]
	wsURL := server.Endpoint + "?token=" + bullet.Data.Token
	pingInterval := time.Duration(server.PingInterval) * time.Millisecond

	var symbolsResp kucoinSymbolsResponse
	resp, err = RESTClient().R().SetContext(ctx).SetResult(&symbolsResp).Get(kucoinSymbolsURL)
	if err != nil {
		return fmt.Errorf("fetch symbols: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch symbols: status %d", resp.StatusCode())
	}

	symbols := make([]string, 0, symbolLimit)
	for _, s := range symbolsResp.Data {
		if !s.EnableTrading || s.QuoteCurrency != "USDT" {
			continue
		}
		symbols = append(symbols, s.Symbol)
		if len(symbols) == symbolLimit {
			break
		}
	}
	log.Info("Fetched symbols", zap.Int("count", len(symbols)))

	for _, sym := range symbols {
		deps.Matcher.Register("kucoin", sym)
	}

	ws, err := dialWS(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	log.Info("Connected")

	sub := kucoinSubscribe{
		ID:             "arbscanner",
		Type:           "subscribe",
		Topic:          "/market/ticker:" + strings.Join(symbols, ","),
		PrivateChannel: false,
		Response:       false,
	}
	if err := ws.SendJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Интервал ping приходит от сервера в bullet-ответе
	go ws.keepAlive(sessCtx, pingInterval, func(s *wsSession) error {
		return s.SendJSON(map[string]string{"id": "ping", "type": "ping"})
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		tick, ok := decodeKuCoin(data)
		if !ok {
			continue
		}
		if !tick.valid() {
			metrics.DroppedMessages.WithLabelValues("kucoin", "zero_quote").Inc()
			continue
		}

		normalized := deps.Matcher.Register("kucoin", tick.symbol)
		deps.publish("kucoin", normalized, tick)
	}
}

// decodeKuCoin разбирает сообщение топика /market/ticker:SYMBOL
func decodeKuCoin(data []byte) (*bookTick, bool) {
	var msg kucoinWsMessage
	if err := jsonFast.Unmarshal(data, &msg); err != nil {
		return nil, false
	}
	if msg.Topic == "" {
		return nil, false
	}

	// Символ кодируется в топике: /market/ticker:BTC-USDT
	idx := strings.LastIndexByte(msg.Topic, ':')
	if idx < 0 || idx == len(msg.Topic)-1 {
		return nil, false
	}
	symbol := msg.Topic[idx+1:]

	return &bookTick{
		symbol:  symbol,
		bid:     dec(msg.Data.BestBid),
		ask:     dec(msg.Data.BestAsk),
		bidSize: dec(msg.Data.BestBidSize),
		askSize: dec(msg.Data.BestAskSize),
	}, true
}
