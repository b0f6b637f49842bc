package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shelfwatch/internal/catalog"
)

type recordingRunner struct {
	mu         sync.Mutex
	categories []catalog.Category
	err        error
}

func (r *recordingRunner) RunCycle(_ context.Context, category catalog.Category) ([]catalog.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories = append(r.categories, category)
	return nil, r.err
}

func (r *recordingRunner) ran() []catalog.Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]catalog.Category, len(r.categories))
	copy(out, r.categories)
	return out
}

func TestAddAcceptsProductionSchedules(t *testing.T) {
	t.Parallel()

	s := New(&recordingRunner{}, zap.NewNop())
	require.NoError(t, s.Add(Entry{Category: catalog.CategoryAvailableNow, Schedule: "0,15,30,45 10-18 * * *"}))
	require.NoError(t, s.Add(Entry{Category: catalog.CategoryOnOrder, Schedule: "0 12,18 * * *"}))
	require.Len(t, s.NextRuns(), 2)
}

func TestAddRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	s := New(&recordingRunner{}, zap.NewNop())
	err := s.Add(Entry{Category: catalog.CategoryAvailableNow, Schedule: "not a schedule"})
	require.Error(t, err)
}

func TestAddRejectsUnknownCategory(t *testing.T) {
	t.Parallel()

	s := New(&recordingRunner{}, zap.NewNop())
	err := s.Add(Entry{Category: catalog.Category("best sellers"), Schedule: "* * * * *"})
	require.Error(t, err)
}

func TestRunScheduledInvokesRunner(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	s := New(runner, zap.NewNop())
	s.runScheduled(catalog.CategoryAvailableNow)
	require.Equal(t, []catalog.Category{catalog.CategoryAvailableNow}, runner.ran())
}

func TestRunScheduledSwallowsErrors(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{err: errors.New("upstream down")}
	s := New(runner, zap.NewNop())

	// Must not panic; the next tick retries.
	s.runScheduled(catalog.CategoryOnOrder)
	require.Equal(t, []catalog.Category{catalog.CategoryOnOrder}, runner.ran())
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	s := New(runner, zap.NewNop())
	require.NoError(t, s.Add(Entry{Category: catalog.CategoryAvailableNow, Schedule: "0 12 * * *"}))

	s.Start()
	next := s.NextRuns()
	require.Len(t, next, 1)
	require.True(t, next[0].After(time.Now()))
	s.Stop()
}
