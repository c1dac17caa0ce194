// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrBusClosed возвращается Publish после Shutdown.
	ErrBusClosed = errors.New("event bus closed")
	// ErrBufferFull - best-effort событие отброшено.
	ErrBufferFull = errors.New("event buffer full")
)

// Bus доставляет события подписчикам в порядке публикации одним
// диспетчером. Гарантия доставки зависит от типа события, см. Delivery.
type Bus struct {
	handlersMu sync.RWMutex
	handlers   map[EventType][]Handler

	// sendMu: Publish держит RLock на время отправки, Shutdown берет Lock,
	// чтобы после закрытия ни одно событие не попало в очередь мимо дренажа.
	sendMu  sync.RWMutex
	closed  bool
	queue   chan Event
	closing chan struct{}
	done    chan struct{}

	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewBus создает шину и запускает диспетчер.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	b := newBus(logger, bufferSize)
	go b.run()
	return b
}

func newBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Bus{
		handlers: make(map[EventType][]Handler),
		queue:    make(chan Event, bufferSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Named("event_bus"),
	}
}

// Subscribe регистрирует обработчик для типа события.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("Handler subscribed", zap.String("event_type", string(eventType)))
}

// SubscribeFunc - Subscribe для обычной функции.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) {
	b.Subscribe(eventType, HandlerFunc(fn))
}

// Publish ставит событие в очередь. Guaranteed-события ждут места в
// очереди до отмены ctx; BestEffort-события при полной очереди
// отбрасываются с ErrBufferFull.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	if event.Type().Delivery() == BestEffort {
		select {
		case b.queue <- event:
			return nil
		default:
			n := b.dropped.Add(1)
			b.logger.Warn("Event buffer full, dropping event",
				zap.String("event_type", string(event.Type())),
				zap.Uint64("dropped_total", n))
			return ErrBufferFull
		}
	}

	select {
	case b.queue <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", event.Type(), ctx.Err())
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case event := <-b.queue:
			b.dispatch(event)
		case <-b.closing:
			for {
				select {
				case event := <-b.queue:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.handlersMu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.Type()]...)
	b.handlersMu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(context.Background(), event); err != nil {
			b.logger.Error("Handler failed",
				zap.String("event_type", string(event.Type())),
				zap.Error(err))
		}
	}
}

// Shutdown закрывает шину для новых событий и ждет, пока диспетчер
// доставит уже принятые.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.sendMu.Lock()
	if b.closed {
		b.sendMu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closing)
	b.sendMu.Unlock()

	select {
	case <-b.done:
		b.logger.Info("Event bus stopped", zap.Uint64("dropped_total", b.dropped.Load()))
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timed out", zap.Int("pending", len(b.queue)))
		return ctx.Err()
	}
}
