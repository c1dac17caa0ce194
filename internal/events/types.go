// internal/events/types.go
package events

import (
	"context"
	"time"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// EventType represents the type of event.
type EventType string

const (
	// Trade events
	TradeSettled EventType = "trade.settled"

	// Alert events
	AlertTriggered EventType = "alert.triggered"

	// Balance events
	BalanceChanged EventType = "balance.changed"

	// Ledger events
	PositionChanged EventType = "position.changed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// Publisher принимает события на доставку. *Bus implements it.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Delivery - гарантия доставки типа события.
type Delivery int

const (
	// BestEffort: при полной очереди событие отбрасывается.
	BestEffort Delivery = iota
	// Guaranteed: Publish ждет места в очереди. Потеря такого события
	// теряет запись журнала или уведомление о пересечении цены.
	Guaranteed
)

// Delivery возвращает гарантию доставки для типа.
func (t EventType) Delivery() Delivery {
	switch t {
	case TradeSettled, AlertTriggered:
		return Guaranteed
	default:
		return BestEffort
	}
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// NewBaseEvent stamps an event of the given type with the current time.
func NewBaseEvent(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now()}
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// TradeSettledEvent is emitted when a pipeline run reaches a terminal state.
type TradeSettledEvent struct {
	BaseEvent
	Outcome domain.Outcome
}

// AlertTriggeredEvent is emitted once per threshold crossing.
type AlertTriggeredEvent struct {
	BaseEvent
	Owner string
	Index int
	Alert domain.Alert
}

// BalanceChangedEvent is emitted after a post-trade balance snapshot.
type BalanceChangedEvent struct {
	BaseEvent
	Owner    string
	Key      string // "SOL" or token mint
	Previous float64
	Current  float64
	Percent  float64
}

// PositionAction describes what happened to a position.
type PositionAction string

const (
	PositionOpened PositionAction = "opened"
	PositionAdded  PositionAction = "added"
	PositionClosed PositionAction = "closed"
)

// PositionChangedEvent is emitted by the trading service after a ledger write.
type PositionChangedEvent struct {
	BaseEvent
	Owner        string
	PositionID   int64
	TokenAddress string
	Action       PositionAction
}
