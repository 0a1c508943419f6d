// Package scanner ищет арбитражные расхождения по потоку цен.
//
// Сканер держит таблицу "символ -> биржа -> последнее обновление" и на
// каждом событии пересчитывает лучший bid и лучший ask по биржам для
// символа. Расхождение в допустимом коридоре и на разных биржах - повод
// для уведомления, не чаще одного раза в cooldown на связку.
package scanner

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arbscanner/internal/bus"
	"arbscanner/internal/config"
	"arbscanner/internal/exchange"
	"arbscanner/internal/matcher"
	"arbscanner/internal/metrics"
)

// statsInterval - период лога статистики сканера
const statsInterval = 60 * time.Second

var hundred = decimal.NewFromInt(100)

// ArbitrageOpportunity - найденное расхождение цен.
// Считается только в момент эмиссии, истории нет.
type ArbitrageOpportunity struct {
	Symbol        string
	BuyExchange   string // биржа с минимальным ask
	SellExchange  string // биржа с максимальным bid
	BuyPrice      decimal.Decimal
	SellPrice     decimal.Decimal
	SpreadPercent decimal.Decimal
	SpreadUSD     decimal.Decimal
	Timestamp     int64
}

// Notifier - приёмник найденных возможностей
type Notifier interface {
	Notify(ctx context.Context, opp *ArbitrageOpportunity)
}

// Scanner обрабатывает поток PriceUpdate из шины.
// Таблица цен и таблица cooldown принадлежат сканеру; единственный
// писатель каждой ячейки - сам сканер, порядок по (symbol, exchange)
// гарантирован последовательным циклом чтения.
type Scanner struct {
	cfg      *config.Config
	matcher  *matcher.TickerMatcher
	notifier Notifier
	sub      *bus.Subscription
	log      *zap.Logger

	// symbol -> exchange -> последнее обновление.
	// RWMutex только ради снимка счётчиков для статусного API
	mu     sync.RWMutex
	prices map[string]map[string]exchange.PriceUpdate

	// ключ связки -> время последнего алерта (ms)
	lastAlert map[string]int64

	// подменяется в тестах
	nowMs func() int64
}

// New создаёт сканер поверх подписки на шину
func New(cfg *config.Config, m *matcher.TickerMatcher, n Notifier, sub *bus.Subscription, log *zap.Logger) *Scanner {
	return &Scanner{
		cfg:       cfg,
		matcher:   m,
		notifier:  n,
		sub:       sub,
		log:       log,
		prices:    make(map[string]map[string]exchange.PriceUpdate),
		lastAlert: make(map[string]int64),
		nowMs:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Run крутит цикл обработки до закрытия шины или отмены контекста
func (s *Scanner) Run(ctx context.Context) error {
	s.log.Info("ArbitrageScanner started")

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.sub.C:
			if !ok {
				// Шина закрыта - чистое завершение
				return nil
			}
			if msg.Skipped > 0 {
				metrics.BusLag.Add(float64(msg.Skipped))
				s.log.Debug("Scanner lagged, skipping messages",
					zap.Uint64("skipped", msg.Skipped))
				continue
			}
			s.HandleUpdate(ctx, msg.Update)
		case <-ticker.C:
			s.logStats()
		}
	}
}

// HandleUpdate сохраняет обновление и проверяет символ на арбитраж
func (s *Scanner) HandleUpdate(ctx context.Context, update exchange.PriceUpdate) {
	start := time.Now()

	s.mu.Lock()
	row, ok := s.prices[update.Symbol]
	if !ok {
		row = make(map[string]exchange.PriceUpdate)
		s.prices[update.Symbol] = row
	}
	row[update.Exchange] = update
	s.mu.Unlock()

	opp := s.findArbitrage(update.Symbol)
	if opp != nil && s.passCooldown(opp) {
		s.log.Info("Arbitrage opportunity found",
			zap.String("symbol", opp.Symbol),
			zap.String("buy", opp.BuyExchange),
			zap.String("sell", opp.SellExchange),
			zap.String("spread", opp.SpreadPercent.String()),
		)
		metrics.Opportunities.WithLabelValues(opp.Symbol).Inc()

		s.notifier.Notify(ctx, opp)
	}

	metrics.ScanLatency.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

// findArbitrage пересчитывает лучшие цены по символу.
// При равенстве лучших цен побеждает первая встреченная биржа;
// порядок перебора не фиксирован.
func (s *Scanner) findArbitrage(symbol string) *ArbitrageOpportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.prices[symbol]
	if !ok || len(row) < 2 {
		return nil
	}

	var (
		sellExchange, buyExchange string
		sellPrice, buyPrice       decimal.Decimal
		haveBid, haveAsk          bool
	)

	for exch, update := range row {
		if len(s.cfg.FilterExchanges) > 0 && !containsString(s.cfg.FilterExchanges, exch) {
			continue
		}

		// Лучший bid - максимальный (где продаём)
		if !haveBid || update.Bid.GreaterThan(sellPrice) {
			sellExchange, sellPrice = exch, update.Bid
			haveBid = true
		}

		// Лучший ask - минимальный (где покупаем)
		if !haveAsk || update.Ask.LessThan(buyPrice) {
			buyExchange, buyPrice = exch, update.Ask
			haveAsk = true
		}
	}

	if !haveBid || !haveAsk {
		return nil
	}

	// Обе лучшие цены на одной бирже - кросс-биржевой возможности нет
	if sellExchange == buyExchange {
		return nil
	}

	if buyPrice.IsZero() {
		return nil
	}

	spreadUSD := sellPrice.Sub(buyPrice)
	spreadPercent := spreadUSD.Div(buyPrice).Mul(hundred)

	// Отрицательный спред отсекается нижней границей
	if spreadPercent.LessThan(s.cfg.MinSpreadPercent) {
		return nil
	}
	if spreadPercent.GreaterThan(s.cfg.MaxSpreadPercent) {
		return nil
	}

	// Фильтр по базовому активу: подстрока в обе стороны,
	// BTC пропускает и BTC/USDT, и SBTC/USDT
	if len(s.cfg.FilterPairs) > 0 {
		base, _, _ := strings.Cut(symbol, "/")
		matched := false
		for _, p := range s.cfg.FilterPairs {
			if strings.Contains(base, p) || strings.Contains(p, base) {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
	}

	return &ArbitrageOpportunity{
		Symbol:        symbol,
		BuyExchange:   buyExchange,
		SellExchange:  sellExchange,
		BuyPrice:      buyPrice,
		SellPrice:     sellPrice,
		SpreadPercent: spreadPercent,
		SpreadUSD:     spreadUSD,
		Timestamp:     s.nowMs(),
	}
}

// passCooldown проверяет и обновляет время последнего алерта по связке
func (s *Scanner) passCooldown(opp *ArbitrageOpportunity) bool {
	key := opp.Symbol + "|" + opp.BuyExchange + "|" + opp.SellExchange

	now := s.nowMs()
	if last, ok := s.lastAlert[key]; ok && now-last < s.cfg.CooldownMs {
		return false
	}
	s.lastAlert[key] = now
	return true
}

// Stats возвращает счётчики таблицы цен для лога и статусного API
func (s *Scanner) Stats() (symbols, totalPrices int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols = len(s.prices)
	for _, row := range s.prices {
		totalPrices += len(row)
	}
	return symbols, totalPrices
}

func (s *Scanner) logStats() {
	symbols, totalPrices := s.Stats()
	arbitrageable := len(s.matcher.ArbitrageableSymbols())

	s.log.Info("Scanner stats",
		zap.Int("symbols", symbols),
		zap.Int("total_prices", totalPrices),
		zap.Int("arbitrageable", arbitrageable),
	)

	s.matcher.LogStats(s.log)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
