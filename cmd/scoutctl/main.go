// Command scoutctl runs operator commands against the configured storage
// without the daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"TradeScout/internal/di"
	"TradeScout/pkg/config"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	fs := flag.NewFlagSet("scoutctl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", "config/config.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return exitFailed
	}
	// Logs go to stderr so stdout stays machine readable. The daemon owns the
	// price stream and the metrics endpoint.
	cfg.Log.Output = "stderr"
	cfg.Market.Stream.Enabled = false
	cfg.Metrics.Enabled = false

	console, cleanup, err := di.InitializeConsole(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialization failed: %v\n", err)
		return exitFailed
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{cfg: cfg, svc: console, out: os.Stdout, errOut: os.Stderr}
	err = c.run(ctx, fs.Args())
	code := exitCode(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scoutctl: %v\n", err)
		if code == exitUsage {
			fmt.Fprint(os.Stderr, usage)
		}
	}
	return code
}
