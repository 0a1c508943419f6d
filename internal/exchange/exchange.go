// Package exchange содержит коннекторы к публичным данным бирж.
//
// Каждый коннектор - долгоживущая задача: REST-запрос списка инструментов,
// подписка по websocket, venue-специфичный keep-alive, декодирование
// тикеров в PriceUpdate. Падение одного коннектора не трогает остальные:
// внешний цикл ждёт 5 секунд и начинает заново с шага discovery.
package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arbscanner/internal/config"
	"arbscanner/internal/matcher"
)

// reconnectDelay - фиксированная пауза перед перезапуском коннектора
const reconnectDelay = 5 * time.Second

// symbolLimit - сколько инструментов берёт discovery с одной биржи
const symbolLimit = 100

// PriceUpdate - событие top-of-book с одной биржи.
// bid и ask всегда больше нуля: нулевые котировки отбрасываются коннектором.
type PriceUpdate struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`     // нормализованный BASE/QUOTE
	RawSymbol string          `json:"raw_symbol"` // как прислала биржа
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	BidSize   decimal.Decimal `json:"bid_size"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Timestamp int64           `json:"timestamp"` // ms since epoch
}

// MidPrice возвращает середину между bid и ask
func (u *PriceUpdate) MidPrice() decimal.Decimal {
	return u.Bid.Add(u.Ask).Div(decimal.NewFromInt(2))
}

// Publisher - приёмник PriceUpdate (шина цен)
type Publisher interface {
	Publish(update PriceUpdate)
}

// runFunc - один коннектор: работает до отмены контекста
type runFunc func(ctx context.Context, deps *Deps) error

// Deps - общие зависимости всех коннекторов
type Deps struct {
	Config  *config.Config
	Matcher *matcher.TickerMatcher
	Bus     Publisher
	Log     *zap.Logger
}

// connectors - таблица venue id -> коннектор.
// Порядок запуска соответствует config.AllExchanges.
var connectors = map[string]runFunc{
	"binance":  runBinance,
	"bybit":    runBybit,
	"okx":      runOKX,
	"kraken":   runKraken,
	"kucoin":   runKuCoin,
	"gate":     runGate,
	"mexc":     runMEXC,
	"htx":      runHTX,
	"bitget":   runBitget,
	"coinbase": runCoinbase,
}

// Manager запускает по одной горутине на включённую биржу.
// Сами перезапуски живут внутри коннекторов - менеджер только
// дожидается завершения и логирует причину выхода.
type Manager struct {
	deps *Deps
}

// NewManager создаёт менеджер коннекторов
func NewManager(cfg *config.Config, m *matcher.TickerMatcher, bus Publisher, log *zap.Logger) *Manager {
	return &Manager{
		deps: &Deps{
			Config:  cfg,
			Matcher: m,
			Bus:     bus,
			Log:     log,
		},
	}
}

// Run запускает включённые коннекторы и блокируется до их завершения
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	started := 0

	for _, name := range config.AllExchanges {
		if !m.deps.Config.IsExchangeEnabled(name) {
			continue
		}
		run, ok := connectors[name]
		if !ok {
			continue
		}

		started++
		wg.Add(1)
		go func(name string, run runFunc) {
			defer wg.Done()
			err := run(ctx, m.deps)
			if err != nil && ctx.Err() == nil {
				m.deps.Log.Warn("Exchange connector stopped with error",
					zap.String("exchange", name), zap.Error(err))
				return
			}
			m.deps.Log.Info("Exchange connector stopped", zap.String("exchange", name))
		}(name, run)
	}

	m.deps.Log.Info("Started exchange connections", zap.Int("count", started))

	wg.Wait()
	return nil
}

// sleepCtx ждёт d или отмену контекста
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nowMs - текущее время в миллисекундах
func nowMs() int64 {
	return time.Now().UnixMilli()
}
