package bus

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbscanner/internal/exchange"
)

func update(exch, symbol string, bid, ask int64) exchange.PriceUpdate {
	return exchange.PriceUpdate{
		Exchange:  exch,
		Symbol:    symbol,
		RawSymbol: symbol,
		Bid:       decimal.NewFromInt(bid),
		Ask:       decimal.NewFromInt(ask),
		Timestamp: time.Now().UnixMilli(),
	}
}

func recvTimeout(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestFanOut(t *testing.T) {
	b := New(10)
	defer b.Close()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Publish(update("binance", "BTC/USDT", 60000, 60010))

	for _, sub := range []*Subscription{sub1, sub2} {
		msg := recvTimeout(t, sub)
		if msg.Skipped != 0 {
			t.Fatalf("unexpected lag: %d", msg.Skipped)
		}
		if msg.Update.Exchange != "binance" || msg.Update.Symbol != "BTC/USDT" {
			t.Errorf("unexpected update: %+v", msg.Update)
		}
	}
}

func TestOrderPreserved(t *testing.T) {
	b := New(100)
	defer b.Close()

	sub := b.Subscribe()

	for i := int64(0); i < 50; i++ {
		b.Publish(update("okx", "ETH/USDT", 3000+i, 3001+i))
	}

	for i := int64(0); i < 50; i++ {
		msg := recvTimeout(t, sub)
		if !msg.Update.Bid.Equal(decimal.NewFromInt(3000 + i)) {
			t.Fatalf("message %d out of order: bid=%s", i, msg.Update.Bid)
		}
	}
}

// Медленный потребитель теряет события и получает сигнал отставания,
// после чего продолжает с самых свежих
func TestLagDropsToNewest(t *testing.T) {
	b := New(10)
	defer b.Close()

	sub := b.Subscribe()

	// Насос успевает забрать немного в канал, остальное вытесняется
	for i := int64(0); i < 100; i++ {
		b.Publish(update("bybit", "SOL/USDT", 100+i, 101+i))
	}

	// Даём насосу увидеть заполненное кольцо
	time.Sleep(50 * time.Millisecond)

	sawLag := false
	drained := 0
	for drained < 100 {
		msg := recvTimeout(t, sub)
		if msg.Skipped > 0 {
			sawLag = true
			break
		}
		drained++
	}
	if !sawLag {
		t.Fatal("expected a lag signal after overflowing the ring")
	}

	// После отставания новые публикации приходят нормально
	b.Publish(update("bybit", "SOL/USDT", 999, 1000))
	msg := recvTimeout(t, sub)
	if msg.Skipped != 0 || !msg.Update.Bid.Equal(decimal.NewFromInt(999)) {
		t.Fatalf("expected fresh update after lag, got %+v", msg)
	}
}

func TestCloseDrainsAndCloses(t *testing.T) {
	b := New(10)
	sub := b.Subscribe()

	b.Publish(update("gate", "BTC/USDT", 1, 2))
	b.Close()

	// Опубликованное до закрытия дочитывается
	msg := recvTimeout(t, sub)
	if !msg.Update.Bid.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected update: %+v", msg.Update)
	}

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected channel close after bus close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := New(10)
	b.Close()
	// Не должно паниковать и не должно доставляться
	b.Publish(update("mexc", "BTC/USDT", 1, 2))

	sub := b.Subscribe()
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected closed subscription on closed bus")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
