package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"CryptoAgent/internal/domain/models"
)

var key = models.QueryKey{Symbol: "BTCUSDT", Timeframe: "1h", Lookback: 3}

const payload = `{
	"candles": [{"timestamp": 1700000000000, "open": 1, "high": 2, "low": 0.5, "close": NaN}],
	"buy": [1700000000000],
	"sell": [],
	"shapes": {"sr": [100], "flag": [{"points": [NaN, 10, 20, 30], "type": "bull_flag"}], "hs": [], "fibonacci": []}
}`

func TestFetchAnalysisSendsQueryAndToken(t *testing.T) {
	var gotQuery, gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithPath("analysis"), WithToken("tkn"))
	a, err := c.FetchAnalysis(context.Background(), key)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/analysis" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotQuery != "symbol=BTCUSDT&timeframe=1h&timerange=3" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotAuth != "Bearer tkn" {
		t.Fatalf("unexpected auth %q", gotAuth)
	}
	if len(a.Candles) != 1 || !a.Candles[0].Close.IsNaN() {
		t.Fatalf("expected NaN close to decode, got %+v", a.Candles)
	}
	if len(a.Shapes.Flag) != 1 || !a.Shapes.Flag[0].Points[0].IsNaN() {
		t.Fatalf("unexpected flags %+v", a.Shapes.Flag)
	}
}

func TestFetchAnalysisRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"candles":[],"buy":[],"sell":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3, time.Millisecond, 5*time.Millisecond))
	if _, err := c.FetchAnalysis(context.Background(), key); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestFetchAnalysisDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown symbol", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(5, time.Millisecond, time.Millisecond))
	_, err := c.FetchAnalysis(context.Background(), key)
	if !errors.Is(err, ErrUpstream) || !IsNotFound(err) {
		t.Fatalf("expected upstream 404, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestFetchAnalysisRejectsGarbage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3, time.Millisecond, time.Millisecond))
	if _, err := c.FetchAnalysis(context.Background(), key); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("decode failures should not be retried, got %d calls", calls.Load())
	}
}

func TestFetchAnalysisValidatesKey(t *testing.T) {
	c := NewClient("http://127.0.0.1:0")
	_, err := c.FetchAnalysis(context.Background(), models.QueryKey{Symbol: "BTC", Timeframe: "1h"})
	if !errors.Is(err, models.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestFetchAnalysisStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	c := NewClient(srv.URL, WithRetry(100, 10*time.Millisecond, 10*time.Millisecond))
	_, err := c.FetchAnalysis(ctx, key)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrUpstream) {
		t.Fatalf("unexpected error %v", err)
	}
}
