package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quantdash/internal/domain"
	"quantdash/internal/panel"
	"quantdash/internal/report"
	"quantdash/internal/strategy"
	"quantdash/internal/strategy/builtins"
	"quantdash/internal/util"
	"quantdash/pkg/quantdash"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: quantdash-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run        Backtest a price CSV locally\n")
		fmt.Fprintf(os.Stderr, "  sample     Write a synthetic price CSV\n")
		fmt.Fprintf(os.Stderr, "  upload     Replace a quantdash-server panel with a price CSV\n")
		fmt.Fprintf(os.Stderr, "  runs       List runs archived by a quantdash-server\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("quantdash-cli %s\n", version)
	case "run":
		err = runCmd(ctx, os.Args[2:])
	case "sample":
		err = sampleCmd(os.Args[2:])
	case "upload":
		err = uploadCmd(ctx, os.Args[2:])
	case "runs":
		err = runsCmd(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	def := domain.DefaultParams()
	csvPath := fs.String("csv", "", "long-format price CSV (date,ticker,close,volume)")
	lenient := fs.Bool("lenient", false, "drop malformed rows instead of failing")
	start := fs.String("start", "", "first date (YYYY-MM-DD)")
	end := fs.String("end", "", "last date (YYYY-MM-DD)")
	window := fs.Int("window", def.Window, "momentum lookback in observations")
	gap := fs.Int("gap", def.Gap, "skipped most-recent observations")
	quantile := fs.Float64("quantile", def.Quantile, "fraction of the cross-section per side")
	maxPos := fs.Float64("max-position", def.MaxPosition, "per-name absolute weight cap")
	costBps := fs.Float64("cost-bps", def.CostBps, "transaction cost in basis points of turnover")
	signalName := fs.String("signal", def.Signal, "signal name")
	out := fs.String("out", "", "write the equity CSV here")
	parquetOut := fs.String("parquet", "", "write the equity curve as Parquet here")
	asJSON := fs.Bool("json", false, "print the full result bundle as JSON")
	logLevel := fs.String("log-level", "warn", "log level")
	fs.Parse(args)

	if *csvPath == "" {
		return fmt.Errorf("-csv is required")
	}
	params := domain.Params{
		Window:      *window,
		Gap:         *gap,
		Quantile:    *quantile,
		MaxPosition: *maxPos,
		CostBps:     *costBps,
		Signal:      *signalName,
	}
	var err error
	if *start != "" {
		if params.StartDate, err = panel.ParseDate(*start); err != nil {
			return &domain.ParamError{Field: "start_date", Reason: err.Error()}
		}
	}
	if *end != "" {
		if params.EndDate, err = panel.ParseDate(*end); err != nil {
			return &domain.ParamError{Field: "end_date", Reason: err.Error()}
		}
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		return err
	}
	defer f.Close()
	p, rep, err := panel.LoadCSV(f, panel.Options{Lenient: *lenient})
	if err != nil {
		return err
	}
	if rep.Dropped > 0 {
		fmt.Fprintf(os.Stderr, "dropped %d malformed rows\n", rep.Dropped)
	}

	logger := util.NewLogger(*logLevel, "text")
	bt := strategy.NewBacktester(builtins.NewRegistry(), logger)
	res, err := bt.Run(ctx, p, params)
	if err != nil {
		return err
	}

	if *out != "" {
		if err := writeFile(*out, func(w io.Writer) error { return report.WriteEquityCSV(w, res.Days) }); err != nil {
			return err
		}
	}
	if *parquetOut != "" {
		if err := report.WriteEquityParquet(*parquetOut, res.Days); err != nil {
			return err
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(os.Stdout, res)
	return nil
}

func printResult(w io.Writer, res *domain.Result) {
	fmt.Fprintf(w, "run %s  %s..%s  days=%d tickers=%d\n",
		res.RunID,
		res.Window.Start.Format(domain.DateLayout),
		res.Window.End.Format(domain.DateLayout),
		res.NDays(), res.Tickers)
	m := res.Metrics
	for _, row := range []struct {
		name string
		v    float64
	}{
		{"cagr", m.CAGR},
		{"vol", m.Volatility},
		{"sharpe", m.Sharpe},
		{"max_dd", m.MaxDrawdown},
		{"hit_rate", m.HitRate},
		{"avg_turn", m.AvgTurnover},
	} {
		if math.IsNaN(row.v) {
			fmt.Fprintf(w, "  %-9s n/a\n", row.name)
			continue
		}
		fmt.Fprintf(w, "  %-9s %.6f\n", row.name, row.v)
	}
}

func sampleCmd(args []string) error {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	days := fs.Int("days", 600, "business days per ticker")
	seed := fs.Uint64("seed", 42, "random seed")
	tickers := fs.String("tickers", strings.Join(panel.DefaultSampleTickers, ","), "comma-separated tickers")
	out := fs.String("out", "", "output file (default stdout)")
	fs.Parse(args)

	var names []string
	for _, t := range strings.Split(*tickers, ",") {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			names = append(names, t)
		}
	}
	if err := panel.CheckSampleSize(*days, len(names)); err != nil {
		return err
	}
	pts := panel.Sample(*days, names, *seed, time.Now().UTC())
	if *out == "" {
		return panel.WriteCSV(os.Stdout, pts)
	}
	return writeFile(*out, func(w io.Writer) error { return panel.WriteCSV(w, pts) })
}

func uploadCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	server := fs.String("server", "http://127.0.0.1:8080", "quantdash-server base URL")
	csvPath := fs.String("csv", "", "long-format price CSV")
	lenient := fs.Bool("lenient", false, "drop malformed rows instead of failing")
	fs.Parse(args)

	if *csvPath == "" {
		return fmt.Errorf("-csv is required")
	}
	f, err := os.Open(*csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	up, err := quantdash.NewClient(*server).UploadPanel(ctx, f, *lenient)
	if err != nil {
		return err
	}
	fmt.Printf("panel: %d rows, %d tickers, %s..%s (%d dropped)\n",
		up.Panel.Rows, len(up.Panel.Tickers), up.Panel.Start, up.Panel.End, up.Dropped)
	return nil
}

func runsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	server := fs.String("server", "http://127.0.0.1:8080", "quantdash-server base URL")
	limit := fs.Int("limit", 20, "maximum runs to list")
	fs.Parse(args)

	runs, err := quantdash.NewClient(*server).ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		sharpe := "n/a"
		if r.Metrics.Sharpe != nil {
			sharpe = fmt.Sprintf("%.3f", *r.Metrics.Sharpe)
		}
		fmt.Printf("%s  %s  %s..%s  days=%d  sharpe=%s\n",
			r.RunID, r.CreatedAt.Format(time.RFC3339), r.Window.Start, r.Window.End, r.NDays, sharpe)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
