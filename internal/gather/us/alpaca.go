// Package us gathers US equity daily bars from Alpaca into the price store.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quantdash/internal/config"
	"quantdash/internal/domain"
	"quantdash/internal/gather"
	"quantdash/internal/store"
	"quantdash/internal/util"
)

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// BarFetcher is the subset of *marketdata.Client used by DailyBarGatherer.
type BarFetcher interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// Options configures a DailyBarGatherer.
type Options struct {
	Symbols         []string
	Start           time.Time
	BatchSize       int // symbols per API call
	MaxWorkers      int // concurrent batches
	RateLimitPerMin int // API calls per minute; <= 0 disables limiting
	Feed            string
	StateDir        string // checkpoint directory
	Retries         int
	RetryDelay      time.Duration
}

// DailyBarGatherer fetches split- and dividend-adjusted daily closes for a
// symbol list and merges them into a PriceStore. A pass is resumable: symbols
// that returned nothing are remembered until the next session, and a pass
// that already finished for the latest session is a no-op.
type DailyBarGatherer struct {
	bars    BarFetcher
	end     func(context.Context) (time.Time, error)
	store   store.PriceStore
	opts    Options
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewDailyBarGatherer creates a gatherer. end returns the last session to
// fetch.
func NewDailyBarGatherer(bars BarFetcher, end func(context.Context) (time.Time, error), s store.PriceStore, opts Options, log *slog.Logger) *DailyBarGatherer {
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	if opts.Retries < 1 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Feed == "" {
		opts.Feed = "sip"
	}
	if log == nil {
		log = util.Discard()
	}
	return &DailyBarGatherer{
		bars:    bars,
		end:     end,
		store:   s,
		opts:    opts,
		limiter: util.NewBurstRateLimiter(opts.RateLimitPerMin, opts.MaxWorkers),
		log:     log.With("gatherer", "us-daily"),
	}
}

// NewAlpacaDailyBarGatherer wires a DailyBarGatherer to the Alpaca market
// data and trading calendar APIs.
func NewAlpacaDailyBarGatherer(a config.Alpaca, job config.GatherJobConfig, dataDir string, s store.PriceStore, log *slog.Logger) (*DailyBarGatherer, error) {
	start, err := time.Parse(domain.DateLayout, job.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parsing start date %q: %w", job.StartDate, err)
	}
	fromFile, err := LoadCSVSymbols(job.SymbolsFile)
	if err != nil {
		return nil, err
	}
	symbols := NormalizeSymbols(job.Symbols, fromFile)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured for us-daily")
	}

	mdOpts := marketdata.ClientOpts{APIKey: a.APIKey, APISecret: a.APISecret}
	if a.DataURL != "" {
		mdOpts.BaseURL = a.DataURL
	}
	cal := alpaca.NewClient(alpaca.ClientOpts{APIKey: a.APIKey, APISecret: a.APISecret})

	return NewDailyBarGatherer(
		marketdata.NewClient(mdOpts),
		func(ctx context.Context) (time.Time, error) { return LatestFinishedSession(ctx, cal, time.Now()) },
		s,
		Options{
			Symbols:         symbols,
			Start:           start,
			BatchSize:       job.BatchSize,
			MaxWorkers:      job.MaxWorkers,
			RateLimitPerMin: job.RateLimitPerMin,
			Feed:            a.Feed,
			StateDir:        filepath.Join(dataDir, "gather", "us-daily"),
		},
		log,
	), nil
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run fetches bars from Options.Start through the latest finished session
// for every symbol not already known to be empty.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	end, err := g.end(ctx)
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	rng := gather.DateRange{Start: g.opts.Start, End: end}
	if rng.Empty() {
		return fmt.Errorf("start %s is after latest session %s",
			rng.Start.Format(domain.DateLayout), rng.End.Format(domain.DateLayout))
	}
	endStr := end.Format(domain.DateLayout)

	cp, err := openCheckpoint(g.opts.StateDir)
	if err != nil {
		return err
	}
	defer cp.Close()

	switch last := cp.LastCompleted(); {
	case last == endStr:
		g.log.Info("already completed", "end", endStr)
		return nil
	case last != "":
		// A new session may list symbols that were empty before.
		if err := cp.Reset(); err != nil {
			return fmt.Errorf("resetting checkpoint: %w", err)
		}
	}

	var remaining []string
	for _, sym := range g.opts.Symbols {
		if !cp.HasNoData(sym) {
			remaining = append(remaining, sym)
		}
	}
	batches := Batches(remaining, g.opts.BatchSize)
	g.log.Info("starting us-daily",
		"start", rng.Start.Format(domain.DateLayout),
		"end", endStr,
		"symbols", len(g.opts.Symbols),
		"remaining", len(remaining),
		"batches", len(batches),
	)

	queue := make(chan int, len(batches))
	for i := range batches {
		queue <- i
	}
	close(queue)

	var (
		wg       sync.WaitGroup
		written  atomic.Int64
		empty    atomic.Int64
		failed   atomic.Int64
		runStart = time.Now()
	)
	for range min(g.opts.MaxWorkers, len(batches)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if ctx.Err() != nil {
					return
				}
				n, noData, err := g.gatherBatch(ctx, batches[i], rng)
				if err != nil {
					failed.Add(1)
					g.log.Error("batch failed", "batch", fmt.Sprintf("%d/%d", i+1, len(batches)), "err", err)
					continue
				}
				if err := cp.MarkNoData(noData); err != nil {
					g.log.Warn("recording empty symbols", "err", err)
				}
				written.Add(int64(n))
				empty.Add(int64(len(noData)))
				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
					"points", n,
					"empty", len(noData),
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}
	if err := cp.MarkCompleted(endStr); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	g.log.Info("complete",
		"points", written.Load(),
		"empty", empty.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// gatherBatch fetches and stores one batch. It returns the number of points
// written and the symbols that had no bars.
func (g *DailyBarGatherer) gatherBatch(ctx context.Context, symbols []string, rng gather.DateRange) (int, []string, error) {
	var bars map[string][]marketdata.Bar
	err := util.Retry(ctx, g.opts.Retries, g.opts.RetryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		bars, err = g.bars.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.All,
			Start:      rng.Start,
			End:        rng.End.AddDate(0, 0, 1).Add(-time.Second),
			Feed:       marketdata.Feed(g.opts.Feed),
		})
		return err
	})
	if err != nil {
		return 0, nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	points := ToPricePoints(bars, rng)
	if len(points) > 0 {
		if err := g.store.WritePrices(ctx, points); err != nil {
			return 0, nil, fmt.Errorf("writing prices: %w", err)
		}
	}

	hit := make(map[string]struct{}, len(bars))
	for _, pt := range points {
		hit[pt.Ticker] = struct{}{}
	}
	var noData []string
	for _, sym := range symbols {
		if _, ok := hit[sym]; !ok {
			noData = append(noData, sym)
		}
	}
	return len(points), noData, nil
}

// ToPricePoints converts Alpaca daily bars to price points within rng,
// sorted by ticker then date. Alpaca stamps a daily bar at midnight New
// York time, which falls on the same UTC calendar day.
func ToPricePoints(bars map[string][]marketdata.Bar, rng gather.DateRange) []domain.PricePoint {
	var out []domain.PricePoint
	for sym, bs := range bars {
		ticker := strings.ToUpper(sym)
		for _, b := range bs {
			if b.Close <= 0 {
				continue
			}
			ts := b.Timestamp.UTC()
			day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
			if day.Before(rng.Start) || day.After(rng.End) {
				continue
			}
			out = append(out, domain.PricePoint{
				Date:   day,
				Ticker: ticker,
				Close:  b.Close,
				Volume: float64(b.Volume),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ticker != out[j].Ticker {
			return out[i].Ticker < out[j].Ticker
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
