// internal/alerts/snapshot.go
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// Snapshot - все оповещения, по владельцу. Порядок внутри владельца
// задает индексы для Remove и Reset.
type Snapshot map[string][]domain.Alert

// Snapshotter сохраняет и читает коллекцию целиком.
type Snapshotter interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// FileSnapshot хранит коллекцию в JSON-файле.
type FileSnapshot struct {
	path string
}

// NewFileSnapshot создает файловый бэкенд.
func NewFileSnapshot(path string) *FileSnapshot {
	return &FileSnapshot{path: filepath.Clean(path)}
}

// Load читает файл. Отсутствующий файл дает пустую коллекцию.
func (f *FileSnapshot) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read alerts file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse alerts file: %w", err)
	}
	if snap == nil {
		snap = Snapshot{}
	}
	return snap, nil
}

// Save пишет во временный файл и переименовывает его, чтобы читатель
// не увидел половину снимка.
func (f *FileSnapshot) Save(_ context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create alerts dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".alerts-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write alerts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close alerts file: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}

// DefaultRedisKey - ключ снимка в Redis.
const DefaultRedisKey = "solana-trader:alerts"

// RedisSnapshot хранит коллекцию одним JSON-значением в Redis.
type RedisSnapshot struct {
	rdb *redis.Client
	key string
}

// NewRedisSnapshot создает Redis-бэкенд.
func NewRedisSnapshot(rdb *redis.Client, key string) *RedisSnapshot {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSnapshot{rdb: rdb, key: key}
}

// Load читает значение. Отсутствующий ключ дает пустую коллекцию.
func (r *RedisSnapshot) Load(ctx context.Context) (Snapshot, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse alerts snapshot: %w", err)
	}
	if snap == nil {
		snap = Snapshot{}
	}
	return snap, nil
}

// Save перезаписывает значение целиком.
func (r *RedisSnapshot) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}
