// Package matcher приводит биржевые тикеры к единому виду.
//
// Каждая биржа называет одну и ту же пару по-своему: BTCUSDT, BTC-USDT,
// BTC_USDT, BTC/USDT. Matcher хранит двунаправленное соответствие
// "биржевой символ <-> нормализованный символ" и отвечает на вопрос,
// на скольких биржах торгуется пара.
package matcher

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// quoteCurrencies - известные котируемые валюты в порядке приоритета.
// Используются для разбиения слитных символов вида ETHBTC.
var quoteCurrencies = []string{
	"USDT", "USDC", "USD", "BUSD", "TUSD", "USDP", "DAI", "FDUSD",
	"EUR", "GBP", "JPY", "AUD", "CAD",
	"BTC", "ETH", "BNB", "SOL", "XRP",
}

// ============ ОПТИМИЗАЦИЯ: Inline FNV-1a hash без аллокаций ============
const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// fnvHash вычисляет FNV-1a hash строки без аллокаций.
// Горячий путь: каждое входящее сообщение определяет свой шард через него.
func fnvHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// TickerMatcher - шардированный реестр соответствий символов.
//
// Записи только добавляются и никогда не меняются, поэтому повторная
// регистрация дешёвая: сначала проверка под RLock, вставка только при
// первом появлении пары (exchange, symbol).
type TickerMatcher struct {
	shards    []*matcherShard
	numShards uint32
	reverse   *reverseIndex
}

// matcherShard - один шард с собственным мьютексом.
// Шардирование по биржевому символу: разные символы не блокируют друг друга.
type matcherShard struct {
	// exchange -> биржевой символ -> нормализованный
	toNormalized map[string]map[string]string
	mu           sync.RWMutex
}

// reverseIndex хранится вне шардов: ключ - нормализованный символ,
// и он не совпадает с ключом шардирования прямого индекса.
type reverseIndex struct {
	// нормализованный -> exchange -> биржевой символ
	toExchange map[string]map[string]string
	mu         sync.RWMutex
}

// NewTickerMatcher создаёт matcher с дефолтным числом шардов
func NewTickerMatcher() *TickerMatcher {
	return newTickerMatcher(16)
}

func newTickerMatcher(numShards int) *TickerMatcher {
	if numShards <= 0 {
		numShards = 16
	}

	m := &TickerMatcher{
		shards:    make([]*matcherShard, numShards),
		numShards: uint32(numShards),
	}
	for i := range m.shards {
		m.shards[i] = &matcherShard{
			toNormalized: make(map[string]map[string]string),
		}
	}
	m.reverse = &reverseIndex{
		toExchange: make(map[string]map[string]string),
	}
	return m
}

func (m *TickerMatcher) shard(rawSymbol string) *matcherShard {
	return m.shards[fnvHash(rawSymbol)%m.numShards]
}

// Register регистрирует биржевой символ и возвращает нормализованный.
// Идемпотентна: повторный вызов с той же парой (exchange, raw) возвращает
// тот же результат и не растит индексы.
func (m *TickerMatcher) Register(exchange, rawSymbol string) string {
	s := m.shard(rawSymbol)

	// Быстрый путь: символ уже известен
	s.mu.RLock()
	if bySymbol, ok := s.toNormalized[exchange]; ok {
		if normalized, ok := bySymbol[rawSymbol]; ok {
			s.mu.RUnlock()
			return normalized
		}
	}
	s.mu.RUnlock()

	normalized := NormalizeSymbol(rawSymbol)

	s.mu.Lock()
	bySymbol, ok := s.toNormalized[exchange]
	if !ok {
		bySymbol = make(map[string]string)
		s.toNormalized[exchange] = bySymbol
	}
	bySymbol[rawSymbol] = normalized
	s.mu.Unlock()

	r := m.reverse
	r.mu.Lock()
	byExchange, ok := r.toExchange[normalized]
	if !ok {
		byExchange = make(map[string]string)
		r.toExchange[normalized] = byExchange
	}
	byExchange[exchange] = rawSymbol
	r.mu.Unlock()

	return normalized
}

// GetNormalized возвращает нормализованный символ без регистрации.
// Используется коннекторами, у которых подписка регистрирует символы,
// а тикерный поток только ищет.
func (m *TickerMatcher) GetNormalized(exchange, rawSymbol string) (string, bool) {
	s := m.shard(rawSymbol)
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySymbol, ok := s.toNormalized[exchange]
	if !ok {
		return "", false
	}
	normalized, ok := bySymbol[rawSymbol]
	return normalized, ok
}

// ExchangesForSymbol возвращает биржи, где торгуется нормализованный символ
func (m *TickerMatcher) ExchangesForSymbol(normalized string) []string {
	r := m.reverse
	r.mu.RLock()
	defer r.mu.RUnlock()

	byExchange, ok := r.toExchange[normalized]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(byExchange))
	for e := range byExchange {
		out = append(out, e)
	}
	return out
}

// ArbitrageableSymbols возвращает символы, замеченные на двух и более биржах
func (m *TickerMatcher) ArbitrageableSymbols() []string {
	r := m.reverse
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0)
	for normalized, byExchange := range r.toExchange {
		if len(byExchange) >= 2 {
			out = append(out, normalized)
		}
	}
	return out
}

// Stats возвращает счётчики для периодического лога и статусного API
func (m *TickerMatcher) Stats() (totalSymbols, arbitrageable, exchanges int) {
	seen := make(map[string]struct{})
	for _, s := range m.shards {
		s.mu.RLock()
		for e := range s.toNormalized {
			seen[e] = struct{}{}
		}
		s.mu.RUnlock()
	}

	r := m.reverse
	r.mu.RLock()
	totalSymbols = len(r.toExchange)
	for _, byExchange := range r.toExchange {
		if len(byExchange) >= 2 {
			arbitrageable++
		}
	}
	r.mu.RUnlock()

	return totalSymbols, arbitrageable, len(seen)
}

// LogStats пишет статистику matcher'а в лог
func (m *TickerMatcher) LogStats(log *zap.Logger) {
	totalSymbols, arbitrageable, exchanges := m.Stats()
	log.Info("Ticker matcher stats",
		zap.Int("total_symbols", totalSymbols),
		zap.Int("arbitrageable", arbitrageable),
		zap.Int("exchanges", exchanges),
	)
}

// NormalizeSymbol приводит биржевой символ к виду BASE/QUOTE.
//
// Порядок правил:
//  1. уже содержит "/" - принимается как есть (uppercase);
//  2. разделитель "-" или "_" заменяется на "/";
//  3. слитный символ разбивается по первой подошедшей котируемой
//     валюте из quoteCurrencies (база не может быть пустой);
//  4. fallback - суффикс "/USD".
func NormalizeSymbol(raw string) string {
	raw = strings.ToUpper(raw)

	if strings.Contains(raw, "/") {
		return raw
	}

	if strings.Contains(raw, "-") {
		return strings.ReplaceAll(raw, "-", "/")
	}

	if strings.Contains(raw, "_") {
		return strings.ReplaceAll(raw, "_", "/")
	}

	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(raw, quote) {
			base := raw[:len(raw)-len(quote)]
			if base != "" {
				return base + "/" + quote
			}
		}
	}

	return raw + "/USD"
}
