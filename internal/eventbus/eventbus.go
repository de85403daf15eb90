package eventbus

import (
	"context"
	"sync"
	"time"
)

// Envelope описывает универсальный контейнер события.
type Envelope struct {
	ID        string            // Глобально уникальный идентификатор (UUID).
	Timestamp time.Time         // Время создания события (UTC).
	Source    string            // Участник-источник (UUID актора).
	EventType string            // Тип события (VolumeUpdate, TerrainReset…).
	Version   int               // Схема полезной нагрузки.
	Priority  int               // 0=Low … 9=Critical (для backpressure).
	Payload   []byte            // Сериализованная полезная нагрузка.
	Metadata  map[string]string // Произвольные метаданные (encoding и т.п.).
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто - все типы.
	Sources []string // Если пусто - все источники.
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus определяет абстракцию шины событий.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

// HighPriority - начиная с этого приоритета событие не отбрасывается при переполнении
const HighPriority = 5

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	stats       Stats
	capacity    int
	closed      bool
}

// subscriber получает события по порядку через собственную очередь
type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	queue   chan *Envelope
	done    chan struct{}
}

// NewMemoryBus создаёт in-memory Bus. capacity - размер очереди каждого подписчика.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 1
	}
	return &memoryBus{
		subscribers: make(map[int]*subscriber),
		capacity:    capacity,
	}
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*subscriber, 0, len(mb.subscribers))
	for _, sub := range mb.subscribers {
		if matchFilter(ev, sub.filter) {
			subs = append(subs, sub)
		}
	}
	mb.mu.RUnlock()

	mb.addStats(func(s *Stats) { s.Published++ })

	for _, sub := range subs {
		select {
		case sub.queue <- ev:
			continue
		case <-sub.ctx.Done():
			continue
		default:
		}

		// Очередь заполнена - дропаем низкий приоритет
		if ev.Priority < HighPriority {
			mb.addStats(func(s *Stats) { s.Dropped++ })
			continue
		}
		// Для High-priority блокируем до освобождения места или отмены контекста
		select {
		case sub.queue <- ev:
		case <-sub.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return nil, ErrClosed
	}

	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		filter:  f,
		handler: h,
		ctx:     cctx,
		cancel:  cancel,
		queue:   make(chan *Envelope, mb.capacity),
		done:    make(chan struct{}),
	}
	mb.subscribers[id] = sub
	go mb.deliver(sub)

	return &memSub{bus: mb, id: id}, nil
}

// deliver вызывает обработчик подписчика строго по порядку публикации
func (mb *memoryBus) deliver(sub *subscriber) {
	defer close(sub.done)
	for {
		select {
		case <-sub.ctx.Done():
			return
		case ev := <-sub.queue:
			sub.handler(sub.ctx, ev)
			mb.addStats(func(s *Stats) { s.Consumed++ })
		}
	}
}

func (mb *memoryBus) addStats(fn func(s *Stats)) {
	mb.mu.Lock()
	fn(&mb.stats)
	mb.mu.Unlock()
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	s := mb.stats
	for _, sub := range mb.subscribers {
		s.InFlight += len(sub.queue)
	}
	return s
}

// Close отписывает всех подписчиков и дожидается их горутин
func (mb *memoryBus) Close() error {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return nil
	}
	mb.closed = true
	subs := mb.subscribers
	mb.subscribers = make(map[int]*subscriber)
	mb.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
	return nil
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	sub, ok := s.bus.subscribers[s.id]
	delete(s.bus.subscribers, s.id)
	s.bus.mu.Unlock()
	if ok {
		sub.cancel()
	}
}
