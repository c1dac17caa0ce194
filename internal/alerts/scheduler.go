// internal/alerts/scheduler.go
package alerts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/events"
)

const (
	passTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// Scheduler периодически запускает проверку оповещений.
type Scheduler struct {
	evaluator *Evaluator
	interval  time.Duration
	publisher events.Publisher
	logger    *zap.Logger
}

// NewScheduler создает планировщик. publisher может быть nil.
func NewScheduler(evaluator *Evaluator, interval time.Duration, publisher events.Publisher, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		evaluator: evaluator,
		interval:  interval,
		publisher: publisher,
		logger:    logger.Named("alert-scheduler"),
	}
}

// Run блокируется до отмены ctx. Первый проход выполняется сразу.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting alert scheduler", zap.Duration("interval", s.interval))

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Debug("Alert scheduler stopped")
			return nil
		}
	}
}

// RunOnce выполняет один проход: перечитывает снимок, проверяет цены,
// публикует события и сохраняет коллекцию, если что-то сработало.
// Оповещение, событие которого не доставлено, снова взводится и сработает
// на следующем проходе.
func (s *Scheduler) RunOnce(ctx context.Context) []Trigger {
	passCtx, cancel := context.WithTimeout(ctx, passTimeout)
	defer cancel()

	s.evaluator.Sync(passCtx)
	triggers := s.evaluator.Check(passCtx)
	if len(triggers) == 0 {
		return nil
	}

	if s.publisher != nil {
		for _, tr := range triggers {
			if err := s.publish(ctx, tr); err != nil {
				s.logger.Warn("Alert event not delivered, rearming",
					zap.String("owner", tr.Owner),
					zap.String("alert_id", tr.Alert.ID),
					zap.Error(err))
				s.evaluator.Rearm(tr.Owner, tr.Alert.ID)
			}
		}
	}

	// сохраняем и при отмене ctx, чтобы срабатывания не повторились после рестарта
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), passTimeout)
	defer fcancel()
	if err := s.evaluator.Flush(fctx); err != nil {
		s.logger.Error("Failed to persist triggered alerts", zap.Error(err))
	}
	return triggers
}

func (s *Scheduler) publish(ctx context.Context, tr Trigger) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	return s.publisher.Publish(pctx, events.AlertTriggeredEvent{
		BaseEvent: events.NewBaseEvent(events.AlertTriggered),
		Owner:     tr.Owner,
		Index:     tr.Index,
		Alert:     tr.Alert,
	})
}
