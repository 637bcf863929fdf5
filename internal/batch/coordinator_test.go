package batch

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchengine/internal/config"
	"researchengine/internal/errkind"
	"researchengine/internal/model"
	"researchengine/internal/progressbus"
)

type fakeResearcher struct {
	calls int32
	fn    func(call int32, website string) (*model.CompanyRecord, error)
}

func (f *fakeResearcher) Research(_ context.Context, _ uuid.UUID, _, website string) (*model.CompanyRecord, error) {
	n := atomic.AddInt32(&f.calls, 1)
	return f.fn(n, website)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCoordinatorConfig() *config.Config {
	cfg := config.Default()
	cfg.Batch.ConcurrencyStart = 2
	cfg.Batch.ConcurrencyMax = 4
	cfg.Batch.MaxRetries = 2
	cfg.Batch.SuccessesToRamp = 2
	cfg.Batch.CooldownS = 1
	cfg.Batch.CacheTTLHours = 1
	return cfg
}

func TestCoordinator_RunProcessesAllRowsSuccessfully(t *testing.T) {
	researcher := &fakeResearcher{fn: func(n int32, website string) (*model.CompanyRecord, error) {
		return &model.CompanyRecord{Website: website}, nil
	}}

	c := New(Deps{
		Config:     testCoordinatorConfig(),
		Researcher: researcher,
		Bus:        progressbus.New(16, time.Hour),
		Log:        testLogger(),
	})

	rows := []Row{{Name: "A", Website: "a.example"}, {Name: "B", Website: "b.example"}, {Name: "C", Website: "c.example"}}
	stats, err := c.Run(context.Background(), uuid.New(), rows)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 3, stats.Successful)
	assert.Equal(t, 0, stats.Failed)
}

func TestCoordinator_RetriesTransientThenSucceeds(t *testing.T) {
	researcher := &fakeResearcher{fn: func(n int32, website string) (*model.CompanyRecord, error) {
		if n < 2 {
			return nil, errkind.New(errkind.Transient, "flaky", "test", "temporary failure", nil)
		}
		return &model.CompanyRecord{Website: website}, nil
	}}

	c := New(Deps{Config: testCoordinatorConfig(), Researcher: researcher, Log: testLogger()})
	stats, err := c.Run(context.Background(), uuid.New(), []Row{{Name: "A", Website: "a.example"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Successful)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&researcher.calls), int32(2))
}

func TestCoordinator_PermanentErrorNotRetried(t *testing.T) {
	researcher := &fakeResearcher{fn: func(n int32, website string) (*model.CompanyRecord, error) {
		return nil, errkind.New(errkind.Permanent, "bad_input", "test", "permanent failure", nil)
	}}

	c := New(Deps{Config: testCoordinatorConfig(), Researcher: researcher, Log: testLogger()})
	stats, err := c.Run(context.Background(), uuid.New(), []Row{{Name: "A", Website: "a.example"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&researcher.calls))
}

func TestCoordinator_CacheHitSkipsResearch(t *testing.T) {
	researcher := &fakeResearcher{fn: func(n int32, website string) (*model.CompanyRecord, error) {
		t.Fatal("researcher should not be called for a cached row")
		return nil, nil
	}}

	cache := &memRowCache{entries: map[string]*model.CompanyRecord{
		"cached.example": {Website: "cached.example"},
	}}

	c := New(Deps{Config: testCoordinatorConfig(), Researcher: researcher, Cache: cache, Log: testLogger()})
	stats, err := c.Run(context.Background(), uuid.New(), []Row{{Name: "Cached", Website: "cached.example"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Successful)
}

type memRowCache struct {
	entries map[string]*model.CompanyRecord
}

func (m *memRowCache) Get(_ context.Context, website string) (*model.CompanyRecord, bool, error) {
	rec, ok := m.entries[website]
	return rec, ok, nil
}

func (m *memRowCache) Set(_ context.Context, website string, rec *model.CompanyRecord, _ time.Duration) error {
	if m.entries == nil {
		m.entries = make(map[string]*model.CompanyRecord)
	}
	m.entries[website] = rec
	return nil
}
