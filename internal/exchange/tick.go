package exchange

import (
	"github.com/shopspring/decimal"

	"arbscanner/internal/metrics"
)

// bookTick - распакованный top-of-book до нормализации символа.
// Возвращается чистыми decode-функциями коннекторов; symbol - сырой
// биржевой, ts - venue-время в ms (0, если биржа его не прислала).
type bookTick struct {
	symbol  string
	bid     decimal.Decimal
	ask     decimal.Decimal
	bidSize decimal.Decimal
	askSize decimal.Decimal
	ts      int64
}

// valid отбрасывает тики с нулевой или отрицательной стороной
func (t *bookTick) valid() bool {
	return t.bid.IsPositive() && t.ask.IsPositive()
}

// dec парсит decimal, возвращая ноль на пустых и кривых значениях.
// Нулевые котировки всё равно отбрасываются через valid().
func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}
	}
	return d
}

// publish собирает PriceUpdate и кладёт его на шину
func (d *Deps) publish(exchangeName, normalized string, t *bookTick) {
	ts := t.ts
	if ts == 0 {
		ts = nowMs()
	}

	d.Bus.Publish(PriceUpdate{
		Exchange:  exchangeName,
		Symbol:    normalized,
		RawSymbol: t.symbol,
		Bid:       t.bid,
		Ask:       t.ask,
		BidSize:   t.bidSize,
		AskSize:   t.askSize,
		Timestamp: ts,
	})
	metrics.PriceUpdates.WithLabelValues(exchangeName).Inc()
}
