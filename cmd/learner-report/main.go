// learner-report prints the adaptive learner's current state for one bot:
// dimension weights, score calibration and decayed edges.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/learner"
	"mexc-futures-engine/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "config file path (built-in defaults when empty)")
	botVersion := flag.String("bot", "v4", "bot version to report on")
	recompute := flag.Bool("recompute", false, "recompute weights before reporting")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewDB(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintln(os.Stderr, "database:", err)
		os.Exit(1)
	}
	defer db.Close()

	ad := learner.NewAdaptive(db, *botVersion, log)
	if *recompute {
		if err := ad.Recompute(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "recompute:", err)
			os.Exit(1)
		}
	}

	weights, err := ad.Weights(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "weights:", err)
		os.Exit(1)
	}
	sort.Slice(weights, func(i, j int) bool {
		if weights[i].Dimension != weights[j].Dimension {
			return weights[i].Dimension < weights[j].Dimension
		}
		return weights[i].DimensionValue < weights[j].DimensionValue
	})

	fmt.Printf("Learning weights for %s (%d buckets)\n\n", *botVersion, len(weights))
	fmt.Printf("%-16s %-14s %8s %6s %7s %7s %7s %9s\n",
		"DIMENSION", "VALUE", "MOD", "N", "WR7D", "WR30D", "WRALL", "AVGPNL")
	for _, w := range weights {
		fmt.Printf("%-16s %-14s %+8.1f %6d %6.1f%% %6.1f%% %6.1f%% %+9.2f\n",
			w.Dimension, w.DimensionValue, w.WeightModifier, w.SampleSize,
			w.WinRate7d, w.WinRate30d, w.WinRateAll, w.AvgPnL)
	}

	cal, err := ad.Calibration(ctx)
	if err == nil && len(cal) > 0 {
		fmt.Println("\nScore calibration:")
		var ranges []string
		for r := range cal {
			ranges = append(ranges, r)
		}
		sort.Strings(ranges)
		for _, r := range ranges {
			b := cal[r]
			fmt.Printf("  %-8s trades=%3.0f win_rate=%5.1f%% avg_pnl=%+.2f\n",
				r, b["trades"], b["win_rate"], b["avg_pnl"])
		}
	}

	decayed, err := ad.DecayedEdges(ctx)
	if err == nil && len(decayed) > 0 {
		fmt.Println("\nDecayed edges (7d win rate well under 30d):")
		for _, w := range decayed {
			fmt.Printf("  %s=%s wr7d=%.1f%% wr30d=%.1f%% n=%d\n",
				w.Dimension, w.DimensionValue, w.WinRate7d, w.WinRate30d, w.SampleSize)
		}
	}
}
