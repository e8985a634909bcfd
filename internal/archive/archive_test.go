package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/pulsewatch/internal/event"
)

func openTest(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func at(source string, ts time.Time) event.Event {
	return event.New(source, event.TypeActivity, ts,
		event.ActivityPayload{SessionID: "s1", Project: "api", Category: "user"})
}

func TestStoreAndHourlyCounts(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)

	batch := []event.Event{
		at("m1", base),
		at("m1", base.Add(10*time.Minute)),
		at("m2", base.Add(20*time.Minute)),
		at("m1", base.Add(time.Hour)),
	}
	require.NoError(t, a.Store(ctx, batch))

	counts, err := a.HourlyCounts(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, counts, 3)

	assert.Equal(t, HourCount{Hour: "2026-08-30T10:00:00Z", Source: "m1", Type: "activity", Count: 2}, counts[0])
	assert.Equal(t, HourCount{Hour: "2026-08-30T10:00:00Z", Source: "m2", Type: "activity", Count: 1}, counts[1])
	assert.Equal(t, HourCount{Hour: "2026-08-30T11:00:00Z", Source: "m1", Type: "activity", Count: 1}, counts[2])
}

func TestStoreIgnoresDuplicates(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	ev := at("m1", time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	require.NoError(t, a.Store(ctx, []event.Event{ev}))
	require.NoError(t, a.Store(ctx, []event.Event{ev}), "a retried batch must not fail")

	counts, err := a.HourlyCounts(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 1, counts[0].Count)
}

func TestHourlyCountsSinceFilter(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	require.NoError(t, a.Store(ctx, []event.Event{
		at("m1", base.Add(-48*time.Hour)),
		at("m1", base),
	}))

	counts, err := a.HourlyCounts(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, "2026-08-30T10:00:00Z", counts[0].Hour)
}

func TestStoreEmptyBatch(t *testing.T) {
	a := openTest(t)
	assert.NoError(t, a.Store(context.Background(), nil))
}
