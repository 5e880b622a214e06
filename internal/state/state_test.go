package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndHistory(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	records := []BuildRecord{
		{RunID: "r1", ArtifactID: "s:APP", Module: "com.app", StartedAt: base.Add(-2 * time.Minute), Duration: 3 * time.Second, Outcome: "failed", Error: "javac exited 1"},
		{RunID: "r2", ArtifactID: "s:APP", Module: "com.app", StartedAt: base.Add(-time.Minute), Duration: 2 * time.Second, Outcome: "success"},
		{RunID: "r2", ArtifactID: "s:BASE", Module: "com.base", StartedAt: base, Duration: time.Second, Outcome: "success"},
	}
	for _, rec := range records {
		require.NoError(t, store.Record(ctx, rec))
	}

	history, err := store.History(ctx, "s:APP", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	assert.Equal(t, "r2", history[0].RunID)
	assert.Equal(t, "success", history[0].Outcome)
	assert.Equal(t, 2*time.Second, history[0].Duration)
	assert.Equal(t, "failed", history[1].Outcome)
	assert.Equal(t, "javac exited 1", history[1].Error)
	assert.True(t, history[0].StartedAt.After(history[1].StartedAt))

	limited, err := store.History(ctx, "s:APP", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStats(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	for _, rec := range []BuildRecord{
		{RunID: "r1", ArtifactID: "s:APP", Module: "com.app", StartedAt: base.Add(-time.Minute), Duration: 4 * time.Second, Outcome: "failed", Error: "boom"},
		{RunID: "r2", ArtifactID: "s:APP", Module: "com.app", StartedAt: base, Duration: 2 * time.Second, Outcome: "success"},
		{RunID: "r2", ArtifactID: "s:BASE", Module: "com.base", StartedAt: base.Add(-time.Hour), Duration: time.Second, Outcome: "success"},
	} {
		require.NoError(t, store.Record(ctx, rec))
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	// Most recently built first.
	app := stats[0]
	assert.Equal(t, "s:APP", app.ArtifactID)
	assert.Equal(t, "com.app", app.Module)
	assert.Equal(t, 2, app.Builds)
	assert.Equal(t, 1, app.Failures)
	assert.Equal(t, 3*time.Second, app.AvgDuration)
	assert.Equal(t, "success", app.LastOutcome)

	assert.Equal(t, "s:BASE", stats[1].ArtifactID)
	assert.Equal(t, 0, stats[1].Failures)
}

func TestStatsEmpty(t *testing.T) {
	store := openStore(t)
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "modbuild.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Record(context.Background(), BuildRecord{
		RunID: "r", ArtifactID: "s:A", Module: "m", StartedAt: time.Now(), Outcome: "skipped",
	}))
	assert.FileExists(t, path)
}
