// Command backtest runs a strategy over a bar data file and reports the
// results as a summary table plus parquet exports.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/moznion/go-optional"
	engine "github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/datasource"
	"github.com/quantbeam/leverbt/internal/indicator"
	"github.com/quantbeam/leverbt/internal/logger"
	"github.com/quantbeam/leverbt/internal/strategy"
	"github.com/quantbeam/leverbt/internal/types"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Run a leveraged backtest over a bar data file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Bar data file (.parquet or .csv)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Execution config YAML file",
			},
			&cli.StringFlag{
				Name:    "results",
				Aliases: []string{"r"},
				Usage:   "Directory for parquet result exports",
			},
			&cli.StringFlag{
				Name:    "strategy",
				Aliases: []string{"s"},
				Usage:   "Strategy to run (sma_cross or sma_cross_signal)",
				Value:   "sma_cross",
			},
			&cli.IntFlag{
				Name:  "fast",
				Usage: "Fast SMA period",
				Value: 10,
			},
			&cli.IntFlag{
				Name:  "slow",
				Usage: "Slow SMA period",
				Value: 30,
			},
			&cli.TimestampFlag{
				Name:  "start",
				Usage: "Skip bars before this time (`YYYY-MM-DD`)",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02", time.RFC3339},
				},
			},
			&cli.BoolFlag{
				Name:  "schema",
				Usage: "Print the config JSON schema and exit",
			},
		},
		Action: runAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("schema") {
		cfg := engine.DefaultConfig()

		schema, err := cfg.GenerateSchemaJSON()
		if err != nil {
			return err
		}

		fmt.Println(schema)

		return nil
	}

	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	strat, err := buildStrategy(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadLayeredConfig(strat, cmd.String("config"))
	if err != nil {
		return err
	}

	source, err := datasource.NewDuckDBSource(log)
	if err != nil {
		return err
	}
	defer source.Close()

	if err := source.Initialize(cmd.String("data")); err != nil {
		return err
	}

	start := optional.None[time.Time]()
	if t := cmd.Timestamp("start"); !t.IsZero() {
		start = optional.Some(t)
	}

	bars, err := source.Load(start)
	if err != nil {
		return err
	}

	log.Info("data loaded",
		zap.String("file", cmd.String("data")),
		zap.Int("bars", len(bars)),
	)

	if err := enrichBars(bars, cfg, log); err != nil {
		return err
	}

	eng, err := engine.NewEngine(cfg, log)
	if err != nil {
		return err
	}

	bar := progressbar.Default(int64(len(bars)))

	result, err := eng.Run(bars, strat, func(index, total int) {
		bar.Add(1)
	})
	if err != nil {
		return err
	}

	ledger, err := engine.NewLedger(log)
	if err != nil {
		return err
	}
	defer ledger.Cleanup()

	if err := ledger.Record(result); err != nil {
		return err
	}

	stats, err := ledger.Stats()
	if err != nil {
		return err
	}

	printStats(stats)

	if dir := cmd.String("results"); dir != "" {
		if err := ledger.Write(dir); err != nil {
			return err
		}
	}

	return nil
}

func buildStrategy(cmd *cli.Command) (strategy.Strategy, error) {
	fast := int(cmd.Int("fast"))
	slow := int(cmd.Int("slow"))

	switch name := cmd.String("strategy"); name {
	case "sma_cross":
		return strategy.NewSMACross(fast, slow)
	case "sma_cross_signal":
		inner, err := strategy.NewSMACrossSignal(fast, slow)
		if err != nil {
			return nil, err
		}

		return strategy.NewSignalAdapter(inner), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// loadLayeredConfig layers the config: engine defaults first, then the
// strategy's baseline, then the user's file. Later layers win only for
// fields they actually set.
func loadLayeredConfig(strat strategy.Strategy, path string) (engine.ExecutionConfig, error) {
	cfg := engine.DefaultConfig()

	if provider, ok := strat.(strategy.ConfigProvider); ok {
		if err := yaml.Unmarshal([]byte(provider.DefaultConfigYAML()), &cfg); err != nil {
			return engine.ExecutionConfig{}, fmt.Errorf("strategy config is invalid: %w", err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return engine.ExecutionConfig{}, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return engine.ExecutionConfig{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return engine.ExecutionConfig{}, err
	}

	return cfg, nil
}

// enrichBars computes the indicator columns the config refers to when
// the data file does not already carry them. Column names encode the
// indicator and period: sma20, ma20, ema20, atr14, rsi14.
func enrichBars(bars []types.MarketData, cfg engine.ExecutionConfig, log *logger.Logger) error {
	keys := []string{cfg.Stop.MAKey, cfg.Stop.ATRKey, cfg.AddPosition.MAKey}

	for _, key := range keys {
		if key == "" || len(bars) == 0 {
			continue
		}

		// Warmup rows are NULL in the file, so probe the last bar.
		if _, present := bars[len(bars)-1].Indicators[key]; present {
			continue
		}

		series, ok := seriesForKey(bars, key)
		if !ok {
			return fmt.Errorf("config refers to indicator column %q which is neither in the data file nor computable", key)
		}

		if err := indicator.Attach(bars, key, series); err != nil {
			return err
		}

		log.Info("computed indicator column", zap.String("key", key))
	}

	return nil
}

func seriesForKey(bars []types.MarketData, key string) ([]float64, bool) {
	prefixes := []struct {
		name    string
		compute func([]types.MarketData, int) []float64
	}{
		{"sma", indicator.SMA},
		{"ema", indicator.EMA},
		{"atr", indicator.ATR},
		{"rsi", indicator.RSI},
		{"ma", indicator.SMA},
	}

	for _, p := range prefixes {
		if !strings.HasPrefix(key, p.name) {
			continue
		}

		period, err := strconv.Atoi(strings.TrimPrefix(key, p.name))
		if err != nil || period <= 0 {
			continue
		}

		return p.compute(bars, period), true
	}

	return nil, false
}

func printStats(stats engine.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Total Trades", stats.TotalTrades},
		{"Winning Trades", stats.WinningTrades},
		{"Losing Trades", stats.LosingTrades},
		{"Win Rate", fmt.Sprintf("%.2f%%", stats.WinRate*100)},
		{"Total PnL", fmt.Sprintf("%.2f", stats.TotalPnL)},
		{"Total Fees", fmt.Sprintf("%.2f", stats.TotalFees)},
		{"Profit Factor", fmt.Sprintf("%.2f", stats.ProfitFactor)},
		{"Avg Holding Bars", fmt.Sprintf("%.1f", stats.AvgHoldingBars)},
		{"Liquidations", stats.Liquidations},
		{"Initial Equity", fmt.Sprintf("%.2f", stats.InitialEquity)},
		{"Final Equity", fmt.Sprintf("%.2f", stats.FinalEquity)},
		{"Total Return", fmt.Sprintf("%.2f%%", stats.TotalReturnPct*100)},
		{"Max Drawdown", fmt.Sprintf("%.2f%%", stats.MaxDrawdown*100)},
	})
	t.Render()
}
