package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/ports/vendor"
)

// loadCSVSeries reads {dir}/{symbol}_{interval}.csv into a BarSeries. The
// expected format is a header row followed by
// timestamp,open,high,low,close,volume rows, timestamp as RFC3339 or unix
// seconds.
func loadCSVSeries(dir, symbol string, interval bar.Interval) (bar.BarSeries, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", symbol, interval))
	f, err := os.Open(path)
	if err != nil {
		return bar.BarSeries{}, fmt.Errorf("open bar file %q: %w", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return bar.BarSeries{}, fmt.Errorf("parse bar file %q: %w", path, err)
	}

	series := bar.BarSeries{Symbol: symbol, Interval: interval}
	for i, row := range rows {
		if i == 0 || len(row) < 6 {
			continue // header or short row
		}
		ts, err := parseTimestamp(row[0])
		if err != nil {
			return bar.BarSeries{}, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		prices := make([]decimal.Decimal, 4)
		for j, raw := range row[1:5] {
			prices[j], err = decimal.NewFromString(raw)
			if err != nil {
				return bar.BarSeries{}, fmt.Errorf("%s row %d col %d: %w", path, i+1, j+2, err)
			}
		}
		volume, err := strconv.ParseInt(row[5], 10, 64)
		if err != nil {
			return bar.BarSeries{}, fmt.Errorf("%s row %d volume: %w", path, i+1, err)
		}
		series.Bars = append(series.Bars, bar.Bar{
			Symbol: symbol, Interval: interval, Timestamp: ts,
			Open: prices[0], High: prices[1], Low: prices[2], Close: prices[3],
			Volume: volume,
		})
	}
	return series, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// replayVendor serves pre-loaded CSV bars as the vendor fetch backend,
// letting the live scheduler path run against historical data without a
// network vendor adapter. It is wrapped in vendor.NewClient so the Refresh
// path still goes through the breaker/retry policy. A missing file for a
// (symbol, interval) pair is tolerated at load time and served as an empty
// window.
type replayVendor struct {
	series map[string]bar.BarSeries
}

func vendorKey(symbol string, interval bar.Interval) string {
	return symbol + "|" + string(interval)
}

func newReplayVendor(dir string, symbols []string, intervals []bar.Interval) (*replayVendor, error) {
	v := &replayVendor{series: map[string]bar.BarSeries{}}
	loaded := 0
	for _, sym := range symbols {
		for _, iv := range intervals {
			s, err := loadCSVSeries(dir, sym, iv)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, err
			}
			v.series[vendorKey(sym, iv)] = s
			loaded++
		}
	}
	if loaded == 0 {
		return nil, fmt.Errorf("no bar files found under %q", dir)
	}
	return v, nil
}

// FetchBars implements vendor.HTTPFetcher.
func (v *replayVendor) FetchBars(_ context.Context, symbol string, interval bar.Interval, from, to time.Time) ([]bar.Bar, error) {
	s, ok := v.series[vendorKey(symbol, interval)]
	if !ok {
		return nil, nil
	}
	return s.Window(from, to).Bars, nil
}

var _ vendor.HTTPFetcher = (*replayVendor)(nil)

// webhookTransport posts notification payloads as JSON to a configured URL,
// implementing notify.Transport. Transient statuses (429, 5xx) come back as
// errors so the sink's retry/breaker path engages.
type webhookTransport struct {
	url    string
	client *http.Client
}

func newWebhookTransport(url string) *webhookTransport {
	return &webhookTransport{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *webhookTransport) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("webhook transient failure: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook rejected payload: status %d", resp.StatusCode)
	}
	return nil
}
