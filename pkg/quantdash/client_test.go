package quantdash_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantdash/internal/api"
	"quantdash/internal/panel"
	"quantdash/internal/store"
	"quantdash/internal/strategy"
	"quantdash/internal/strategy/builtins"
	"quantdash/pkg/quantdash"
)

func newTestClient(t *testing.T) *quantdash.Client {
	t.Helper()
	runs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	srv := api.NewServer(api.Options{
		Backtester: strategy.NewBacktester(builtins.NewRegistry(), nil),
		Runs:       runs,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return quantdash.NewClient(ts.URL + "/")
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Panel(ctx)
	var apiErr *quantdash.APIError
	require.True(t, errors.As(err, &apiErr), "err = %v", err)
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, "not_found", apiErr.Kind)

	var csv bytes.Buffer
	end := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	require.NoError(t, panel.WriteCSV(&csv, panel.Sample(80, []string{"A", "B", "C", "D", "E"}, 11, end)))
	up, err := c.UploadPanel(ctx, &csv, false)
	require.NoError(t, err)
	assert.Equal(t, 400, up.Panel.Rows)
	assert.Equal(t, "2024-06-28", up.Panel.End)

	res, err := c.Run(ctx, quantdash.Params{
		Window:      quantdash.Int(20),
		Gap:         quantdash.Int(1),
		Quantile:    quantdash.Float(0.4),
		MaxPosition: quantdash.Float(0.5),
	})
	require.NoError(t, err)
	assert.Len(t, res.RunID, 8)
	assert.Equal(t, 20, *res.Params.Window)
	assert.Equal(t, 59, len(res.Days))
	assert.Equal(t, 0.0, res.Days[0].DailyPnL)
	require.NotNil(t, res.Metrics.MaxDrawdown)
	assert.LessOrEqual(t, *res.Metrics.MaxDrawdown, 0.0)

	list, err := c.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.RunID, list[0].RunID)

	got, err := c.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Days, got.Days)

	var eq bytes.Buffer
	require.NoError(t, c.DownloadEquity(ctx, res.RunID, &eq))
	lines := strings.Split(strings.TrimSpace(eq.String()), "\n")
	assert.Equal(t, "date,daily_pnl,equity", lines[0])
	assert.Len(t, lines, 60)

	require.NoError(t, c.DeleteRun(ctx, res.RunID))
	err = c.DeleteRun(ctx, res.RunID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Kind)
}

func TestClientErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.UploadPanel(ctx, strings.NewReader("date,ticker,close,volume\n2024-01-02,A,abc,1\n"), false)
	var apiErr *quantdash.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "malformed_row", apiErr.Kind)

	up, err := c.UploadPanel(ctx, strings.NewReader("date,ticker,close,volume\n2024-01-02,A,abc,1\n2024-01-03,A,2,1\n"), true)
	require.NoError(t, err)
	assert.Equal(t, 1, up.Dropped)

	_, err = c.LoadSample(ctx, 30, 1)
	require.NoError(t, err)
	_, err = c.Run(ctx, quantdash.Params{Quantile: quantdash.Float(0.75)})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, "invalid_params", apiErr.Kind)
}
