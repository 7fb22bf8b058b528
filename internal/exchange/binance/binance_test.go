package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskrow/perpbacktest/internal/ratelimit"
	"github.com/duskrow/perpbacktest/internal/series"
)

func newTestConnector(t *testing.T, handler http.HandlerFunc) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	baseURL = srv.URL

	limits := ratelimit.NewManager()
	return New(limits, zerolog.Nop())
}

func TestGetOHLCV_ParsesSinglePage(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := [][]any{
		{float64(start.UnixMilli()), "42000.5", "42500.0", "41900.0", "42300.0", "123.45", float64(0), "", float64(0), float64(0), float64(0), float64(0)},
	}

	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		json.NewEncoder(w).Encode(rows)
	})

	out, err := conn.GetOHLCV(context.Background(), "BTC/USDT", series.TF1m, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, out.Bars, 1)
	assert.Equal(t, 42000.5, out.Bars[0].Open)
	assert.Equal(t, 42300.0, out.Bars[0].Close)
}

func TestGetOHLCV_StopsOnEmptyPage(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0

	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode([][]any{})
	})

	out, err := conn.GetOHLCV(context.Background(), "BTC/USDT", series.TF1m, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, out.Bars, 0)
	assert.Equal(t, 1, calls, "an empty page must stop the pagination loop, not spin")
}

func TestGetMarkPrice(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/premiumIndex", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"markPrice": "43000.12"})
	})

	price, err := conn.GetMarkPrice(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 43000.12, price)
}

func TestGetMarkPrice_SymbolNotFound(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := conn.GetMarkPrice(context.Background(), "ZZZ/USDT")
	require.Error(t, err)
}

func TestGetLiquidations_NotSupported(t *testing.T) {
	limits := ratelimit.NewManager()
	conn := New(limits, zerolog.Nop())

	_, err := conn.GetLiquidations(context.Background(), "BTC/USDT", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
}
