// internal/logger/journal.go
package logger

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/events"
)

var journalHeader = []string{"timestamp", "owner", "direction", "token", "amount", "result", "hash", "detail"}

// TradeJournal пишет завершённые сделки в CSV. Безопасен для конкурентного
// использования; буфер сбрасывается по таймеру и при Close.
type TradeJournal struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	closed   bool
	logger   *zap.Logger
	filePath string

	written uint64
	flushes uint64
}

// NewTradeJournal открывает (или создаёт) файл журнала в режиме дозаписи.
func NewTradeJournal(filePath string, flushInterval time.Duration, logger *zap.Logger) (*TradeJournal, error) {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Clean(filePath), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	j := &TradeJournal{
		writer:   csv.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger.Named("journal"),
		filePath: filePath,
	}

	// Заголовок только для пустого файла
	if stat.Size() == 0 {
		if err := j.writer.Write(journalHeader); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		j.writer.Flush()
	}

	go j.periodicFlush()
	return j, nil
}

// Handle реализует events.Handler для TradeSettledEvent.
func (j *TradeJournal) Handle(_ context.Context, event events.Event) error {
	settled, ok := event.(events.TradeSettledEvent)
	if !ok {
		return nil
	}
	o := settled.Outcome
	return j.write([]string{
		settled.Timestamp().UTC().Format(time.RFC3339),
		o.OwnerID,
		string(o.Direction),
		o.Token,
		strconv.FormatFloat(o.Amount, 'f', -1, 64),
		string(o.Kind),
		o.Hash,
		o.Detail,
	})
}

func (j *TradeJournal) write(record []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return fmt.Errorf("journal %s is closed", j.filePath)
	}
	if err := j.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	j.written++
	return nil
}

// Flush сбрасывает буфер на диск.
func (j *TradeJournal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

func (j *TradeJournal) flushLocked() error {
	if j.closed {
		return nil
	}
	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	j.flushes++
	return nil
}

func (j *TradeJournal) periodicFlush() {
	for {
		select {
		case <-j.ticker.C:
			if err := j.Flush(); err != nil {
				j.logger.Error("Periodic journal flush failed",
					zap.String("file", j.filePath),
					zap.Error(err))
			}
		case <-j.done:
			return
		}
	}
}

// Close сбрасывает остаток и закрывает файл. Повторный вызов ничего не делает.
func (j *TradeJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}

	close(j.done)
	j.ticker.Stop()

	if err := j.flushLocked(); err != nil {
		return err
	}
	j.closed = true
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	j.logger.Info("Trade journal closed",
		zap.String("file", j.filePath),
		zap.Uint64("records", j.written),
		zap.Uint64("flushes", j.flushes))
	return nil
}

// Stats возвращает количество записей и сбросов.
func (j *TradeJournal) Stats() (records, flushes uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written, j.flushes
}
