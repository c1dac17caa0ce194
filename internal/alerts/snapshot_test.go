// internal/alerts/snapshot_test.go
package alerts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		"alice": {
			{ID: "01J0000000000000000000000A", TokenAddress: "A", TokenSymbol: "AAA", TargetPrice: 5, Direction: domain.AlertAbove, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "01J0000000000000000000000B", TokenAddress: "B", TokenSymbol: "BBB", TargetPrice: 1, Direction: domain.AlertBelow, Triggered: true, CurrentPrice: 0.9},
		},
	}
}

func TestFileSnapshotMissingFileIsEmpty(t *testing.T) {
	snap, err := NewFileSnapshot(filepath.Join(t.TempDir(), "none.json")).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestFileSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "alerts.json")
	fs := NewFileSnapshot(path)

	require.NoError(t, fs.Save(ctx, sampleSnapshot()))
	got, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileSnapshotCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileSnapshot(path).Load(context.Background())
	assert.Error(t, err)
}

func TestRedisSnapshot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = rdb.Close() })

	rs := NewRedisSnapshot(rdb, "")
	empty, err := rs.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, rs.Save(ctx, sampleSnapshot()))
	got, err := rs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)
}
