// Package notifier отправляет найденные возможности на callback URL.
package notifier

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"arbscanner/internal/config"
	"arbscanner/internal/metrics"
	"arbscanner/internal/scanner"
)

// callbackKey - маркер события в конверте запроса.
// Значение закреплено контрактом принимающей стороны.
const callbackKey = "act:arbitrage-spread"

// requestTimeout - жёсткий потолок на один callback
const requestTimeout = 10 * time.Second

// displayNames - отображаемые имена бирж в исходящем payload
var displayNames = map[string]string{
	"binance":  "Binance",
	"bybit":    "Bybit",
	"okx":      "OKX",
	"kraken":   "Kraken",
	"kucoin":   "KuCoin",
	"gate":     "Gate.io",
	"mexc":     "MEXC",
	"htx":      "HTX",
	"bitget":   "Bitget",
	"coinbase": "Coinbase",
}

// CallbackRequest - конверт исходящего запроса
type CallbackRequest struct {
	Key     string           `json:"key"`
	Payload ArbitragePayload `json:"payload"`
}

// ArbitragePayload - тело уведомления.
// Имена полей закреплены контрактом, decimal сводится к float64
// только здесь, на границе.
type ArbitragePayload struct {
	Pair          string  `json:"pair"`
	ExchangeBuy   string  `json:"exchangeBuy"`
	ExchangeSell  string  `json:"exchangeSell"`
	PriceBuy      float64 `json:"priceBuy"`
	PriceSell     float64 `json:"priceSell"`
	SpreadPercent float64 `json:"spreadPercent"`
	SpreadUsd     float64 `json:"spreadUsd"`
	Timestamp     int64   `json:"timestamp"`
}

// Notifier шлёт HTTP уведомления. Ошибки доставки логируются и
// глотаются: сканер продолжает работу при любом исходе.
type Notifier struct {
	cfg    *config.Config
	client *resty.Client
	log    *zap.Logger
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// New создаёт notifier с собственным клиентом и таймаутом
func New(cfg *config.Config, log *zap.Logger) *Notifier {
	client := resty.New().
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal

	return &Notifier{
		cfg:    cfg,
		client: client,
		log:    log,
	}
}

// Notify конвертирует возможность в payload и отправляет на callback URL
func (n *Notifier) Notify(ctx context.Context, opp *scanner.ArbitrageOpportunity) {
	payload := toPayload(opp)

	n.log.Info("Sending notification",
		zap.String("url", n.cfg.CallbackURL),
		zap.String("pair", payload.Pair),
		zap.Float64("spread", payload.SpreadPercent),
	)

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(CallbackRequest{Key: callbackKey, Payload: payload}).
		Post(n.cfg.CallbackURL)

	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		n.log.Error("Failed to send notification", zap.Error(err))
		return
	}

	if resp.IsError() {
		metrics.Notifications.WithLabelValues("error").Inc()
		n.log.Error("Callback failed",
			zap.Int("status", resp.StatusCode()),
			zap.ByteString("body", resp.Body()),
		)
		return
	}

	metrics.Notifications.WithLabelValues("ok").Inc()
	n.log.Info("Notification sent successfully")
}

func toPayload(opp *scanner.ArbitrageOpportunity) ArbitragePayload {
	return ArbitragePayload{
		Pair:          opp.Symbol,
		ExchangeBuy:   DisplayName(opp.BuyExchange),
		ExchangeSell:  DisplayName(opp.SellExchange),
		PriceBuy:      opp.BuyPrice.InexactFloat64(),
		PriceSell:     opp.SellPrice.InexactFloat64(),
		SpreadPercent: opp.SpreadPercent.InexactFloat64(),
		SpreadUsd:     opp.SpreadUSD.InexactFloat64(),
		Timestamp:     opp.Timestamp,
	}
}

// DisplayName возвращает отображаемое имя биржи.
// Для неизвестного id - просто заглавная первая буква.
func DisplayName(exchange string) string {
	if name, ok := displayNames[strings.ToLower(exchange)]; ok {
		return name
	}
	if exchange == "" {
		return ""
	}
	return strings.ToUpper(exchange[:1]) + exchange[1:]
}
