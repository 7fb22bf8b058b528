package experiment

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLStore_WriteAppendsOneLinePerResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.jsonl")
	store, err := NewJSONLStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Write(TaskResult{Symbol: "BTC/USDT", ComboID: "c0000", Status: "completed", Metrics: map[string]float64{"sharpe": 1.5}}))
	require.NoError(t, store.Write(TaskResult{Symbol: "ETH/USDT", ComboID: "c0000", Status: "failed", Error: "bad params"}))
	require.NoError(t, store.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []TaskResult
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var tr TaskResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &tr))
		lines = append(lines, tr)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "BTC/USDT", lines[0].Symbol)
	assert.Equal(t, 1.5, lines[0].Metrics["sharpe"])
	assert.Equal(t, "failed", lines[1].Status)
	assert.Equal(t, "bad params", lines[1].Error)
}

func TestJSONLStore_ReopenAppendsRatherThanTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")

	first, err := NewJSONLStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Write(TaskResult{Symbol: "BTC/USDT", ComboID: "c0000", Status: "completed"}))
	require.NoError(t, first.Close())

	second, err := NewJSONLStore(path)
	require.NoError(t, err)
	require.NoError(t, second.Write(TaskResult{Symbol: "ETH/USDT", ComboID: "c0000", Status: "completed"}))
	require.NoError(t, second.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, splitLines(string(data)), 2)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func TestNewMultiStore_CollapsesToSingleStoreWhenOnlyOneGiven(t *testing.T) {
	a := &memStore{}
	s := newMultiStore(a, nil)
	assert.Same(t, a, s)
}

func TestNewMultiStore_FansOutToAllNonNilStores(t *testing.T) {
	a := &memStore{}
	b := &memStore{}
	s := newMultiStore(a, nil, b)

	require.NoError(t, s.Write(TaskResult{Symbol: "BTC/USDT", ComboID: "c0000", Status: "completed"}))

	assert.Len(t, a.snapshot(), 1)
	assert.Len(t, b.snapshot(), 1)
}

func TestNewMultiStore_CloseClosesEveryUnderlyingStore(t *testing.T) {
	a := &closeTrackingStore{}
	b := &closeTrackingStore{}
	s := newMultiStore(a, b)

	require.NoError(t, s.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

type closeTrackingStore struct {
	closed bool
}

func (c *closeTrackingStore) Write(TaskResult) error { return nil }
func (c *closeTrackingStore) Close() error           { c.closed = true; return nil }
