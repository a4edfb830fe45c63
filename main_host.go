package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"keystone/app"
	"keystone/hal"
)

func main() {
	var hcfg hal.HeadlessConfig
	var cfg app.Config
	flag.BoolVar(&hcfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&hcfg.Hz, "hz", 60, "Tick rate in headless mode.")
	flag.Uint64Var(&hcfg.Ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run forever).")
	flag.StringVar(&cfg.Cmdline, "cmdline", "", "Kernel command line, e.g. 'kernel.oom.redline-mb=64 kernel.handle.capacity=65536'.")
	flag.IntVar(&cfg.Load.Workers, "workers", 4, "Number of load generator workers.")
	flag.Uint64Var(&cfg.MemoryMB, "memory-mb", 256, "Simulated memory in MB.")
	flag.DurationVar(&cfg.Load.Interval, "interval", 100*time.Microsecond, "Pause between worker operations.")
	flag.Int64Var(&cfg.Load.Seed, "seed", 0, "Workload seed (0 = time based).")
	flag.Parse()

	newApp := func(h hal.HAL) func() error {
		return app.NewWithConfig(h, cfg)
	}

	if hcfg.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := hal.RunHeadless(ctx, newApp, hcfg); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := hal.RunWindow(newApp); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
