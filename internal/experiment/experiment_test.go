package experiment

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	results []TaskResult
}

func (m *memStore) Write(r TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}
func (m *memStore) Close() error { return nil }

func (m *memStore) snapshot() []TaskResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TaskResult(nil), m.results...)
}

func TestRun_RunsEveryTaskAndPicksBest(t *testing.T) {
	cfg := Config{
		Name:               "test",
		Symbols:            []string{"BTC/USDT", "ETH/USDT"},
		ParamGrid:          map[string]GridSpec{"fast": {List: []interface{}{5, 10}}},
		ExpansionMode:      ExpandGridMode,
		OptimizationMetric: "sharpe",
		Direction:          Maximize,
		ParallelWorkers:    2,
	}

	backtestFn := func(_ context.Context, symbol string, params map[string]interface{}) (map[string]float64, error) {
		fast := params["fast"].(int)
		return map[string]float64{"sharpe": float64(fast)}, nil
	}

	store := &memStore{}
	r := New(zerolog.Nop())
	result, err := r.Run(context.Background(), cfg, backtestFn, store)
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalTasks) // 2 symbols * 2 combos
	assert.Equal(t, 4, result.CompletedTasks)
	require.NotNil(t, result.BestRun)
	assert.Equal(t, 10.0, result.BestRun.Metrics["sharpe"])
	assert.Len(t, store.snapshot(), 4)
}

func TestRun_PermanentFailureIsRecordedNotRetried(t *testing.T) {
	cfg := Config{
		Symbols:       []string{"BTC/USDT"},
		ParamGrid:     map[string]GridSpec{"fast": {List: []interface{}{5}}},
		ExpansionMode: ExpandGridMode,
	}
	attempts := 0
	backtestFn := func(_ context.Context, _ string, _ map[string]interface{}) (map[string]float64, error) {
		attempts++
		return nil, fmt.Errorf("bad params")
	}

	store := &memStore{}
	r := New(zerolog.Nop())
	result, err := r.Run(context.Background(), cfg, backtestFn, store)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FailedTasks)
	assert.Equal(t, 1, attempts, "a non-transient error must not be retried")
}

func TestRun_TransientErrorIsRetriedThenSucceeds(t *testing.T) {
	cfg := Config{
		Symbols:       []string{"BTC/USDT"},
		ParamGrid:     map[string]GridSpec{"fast": {List: []interface{}{5}}},
		ExpansionMode: ExpandGridMode,
	}
	attempts := 0
	backtestFn := func(_ context.Context, _ string, _ map[string]interface{}) (map[string]float64, error) {
		attempts++
		if attempts < 2 {
			return nil, &TransientError{Err: fmt.Errorf("timeout")}
		}
		return map[string]float64{"sharpe": 1.0}, nil
	}

	store := &memStore{}
	r := New(zerolog.Nop())
	result, err := r.Run(context.Background(), cfg, backtestFn, store)
	require.NoError(t, err)

	assert.Equal(t, 1, result.CompletedTasks)
	assert.Equal(t, 2, attempts)
}

func TestRun_ResumeSkipsCheckpointedTasks(t *testing.T) {
	dir := t.TempDir()
	checkpointPath := dir + "/checkpoint.json"

	cp := &Checkpoint{Completed: map[string]bool{taskKey("BTC/USDT", "c0000"): true}}
	require.NoError(t, cp.Save(checkpointPath))

	cfg := Config{
		Symbols:         []string{"BTC/USDT"},
		ParamGrid:       map[string]GridSpec{"fast": {List: []interface{}{5}}},
		ExpansionMode:   ExpandGridMode,
		CheckpointPath:  checkpointPath,
		CheckpointEvery: 1,
	}
	calls := 0
	backtestFn := func(_ context.Context, _ string, _ map[string]interface{}) (map[string]float64, error) {
		calls++
		return map[string]float64{"sharpe": 1.0}, nil
	}

	store := &memStore{}
	r := New(zerolog.Nop())
	result, err := r.Run(context.Background(), cfg, backtestFn, store)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SkippedTasks)
	assert.Equal(t, 0, calls)
}

func TestRun_FailFastStopsSubmittingFurtherTasks(t *testing.T) {
	cfg := Config{
		Symbols:         []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "BNB/USDT"},
		ParamGrid:       map[string]GridSpec{"fast": {List: []interface{}{5}}},
		ExpansionMode:   ExpandGridMode,
		ParallelWorkers: 1,
		FailFast:        true,
	}
	backtestFn := func(_ context.Context, symbol string, _ map[string]interface{}) (map[string]float64, error) {
		if symbol == "BTC/USDT" {
			return nil, fmt.Errorf("bad params")
		}
		return map[string]float64{"sharpe": 1.0}, nil
	}

	store := &memStore{}
	r := New(zerolog.Nop())
	result, err := r.Run(context.Background(), cfg, backtestFn, store)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FailedTasks)
	// fail_fast lets in-flight tasks finish rather than guaranteeing an
	// exact stop point, so this only checks it didn't run every task.
	assert.Less(t, result.CompletedTasks, 3)
}

func TestRandomSample_PatienceStopsEarly(t *testing.T) {
	cfg := Config{
		Symbols:            []string{"BTC/USDT"},
		ParamGrid:          map[string]GridSpec{"fast": {List: []interface{}{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}},
		ExpansionMode:      ExpandRandomMode,
		MaxCombinations:    10,
		ParallelWorkers:    1,
		Patience:           2,
		OptimizationMetric: "sharpe",
		Direction:          Maximize,
		Seed:               7,
	}
	backtestFn := func(_ context.Context, _ string, params map[string]interface{}) (map[string]float64, error) {
		return map[string]float64{"sharpe": 1.0}, nil
	}

	store := &memStore{}
	r := New(zerolog.Nop())
	result, err := r.Run(context.Background(), cfg, backtestFn, store)
	require.NoError(t, err)
	assert.True(t, result.StoppedEarly)
}
