// Package bus - широковещательная шина ценовых обновлений.
//
// Много производителей (коннекторы бирж), много потребителей (сканер).
// Буфер ограничен: медленный потребитель не тормозит производителей,
// а теряет пропущенные события и получает сигнал "skipped N". Свежесть
// важнее полноты - арбитраж по устаревшим ценам хуже пропущенного.
package bus

import (
	"sync"

	"arbscanner/internal/exchange"
)

// DefaultCapacity - размер кольцевого буфера шины
const DefaultCapacity = 10000

// Message - одно событие подписки.
// Либо Update (Skipped == 0), либо сигнал отставания (Skipped > 0):
// потребитель пропустил Skipped событий и продолжит с самых свежих.
type Message struct {
	Update  exchange.PriceUpdate
	Skipped uint64
}

// Bus - кольцевой буфер с монотонным номером последовательности.
// Каждая подписка держит собственный курсор; обгон курсора больше чем
// на ёмкость буфера означает потерю событий.
type Bus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []exchange.PriceUpdate
	seq    uint64 // номер следующей записи
	closed bool
}

// New создаёт шину с заданной ёмкостью
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		buf: make([]exchange.PriceUpdate, capacity),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish кладёт обновление в буфер. Никогда не блокируется.
// Отправка без подписчиков - штатная ситуация на старте.
func (b *Bus) Publish(update exchange.PriceUpdate) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.buf[b.seq%uint64(len(b.buf))] = update
	b.seq++
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Close завершает шину: подписки дочитывают буфер и закрываются
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Subscription - курсор одного потребителя
type Subscription struct {
	// C отдаёт события в порядке публикации начиная с момента подписки
	C <-chan Message

	bus  *Bus
	next uint64
}

// Subscribe создаёт подписку с текущей позиции шины
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Message, 1)

	b.mu.Lock()
	s := &Subscription{
		C:    ch,
		bus:  b,
		next: b.seq,
	}
	b.mu.Unlock()

	go s.pump(ch)
	return s
}

// pump переливает события из кольца в канал подписки.
// Работает до закрытия шины; учёт отставания происходит здесь.
func (s *Subscription) pump(ch chan<- Message) {
	b := s.bus
	capacity := uint64(len(b.buf))

	for {
		b.mu.Lock()
		for s.next == b.seq && !b.closed {
			b.cond.Wait()
		}

		if s.next == b.seq && b.closed {
			b.mu.Unlock()
			close(ch)
			return
		}

		var msg Message
		if b.seq-s.next > capacity {
			// Курсор вытеснен из кольца: сообщаем о пропуске и
			// продолжаем с самых свежих событий
			msg = Message{Skipped: b.seq - s.next}
			s.next = b.seq
		} else {
			msg = Message{Update: b.buf[s.next%capacity]}
			s.next++
		}
		b.mu.Unlock()

		ch <- msg
	}
}
