// internal/events/handler.go
package events

import "context"

// Handler обрабатывает события одного типа. Вызывается из диспетчера
// шины последовательно, поэтому не должен надолго блокироваться.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc позволяет использовать функцию как Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}
