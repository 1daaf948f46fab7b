package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"TradeScout/internal/di"
	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"
	"TradeScout/pkg/config"
	pkgkafka "TradeScout/pkg/kafka"
	"TradeScout/pkg/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailed   = 1
	exitNotFound = 2
	exitUsage    = 64
)

const usage = `usage: scoutctl [-config path] <command> [flags]

commands:
  scan                                   run one scan cycle
  analysis [SYMBOL]                      show one analysis record, or all
  muted                                  list muted symbols
  mute SYMBOL [-for 4h] [-reason MANUAL] mute a symbol
  unmute SYMBOL                          clear a mute
  observations                           list recently skipped symbols
  signals [-status S] [-symbol SYM] [-direction D] [-since T] [-limit N]
  signal ID                              show one signal
  record -symbol SYM -direction D -entry P -sl P -tp1 P [-tp2 P] [-tp3 P]
  close ID -status S [-price P]          close an Active signal manually
  stats                                  win/loss statistics
  monitor [-loop] [-interval 5m]         check active signals
  queue                                  notification queue depth
  events [-from-beginning] [-group G]    follow signal events on Kafka
`

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, a ...interface{}) error {
	return usageError{msg: fmt.Sprintf(format, a...)}
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	var uerr usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &uerr), errors.Is(err, flag.ErrHelp):
		return exitUsage
	case errors.Is(err, domrepo.ErrNotFound):
		return exitNotFound
	}
	return exitFailed
}

type cli struct {
	cfg    *config.Config
	svc    *di.Console
	out    io.Writer
	errOut io.Writer
}

type command func(ctx context.Context, args []string) error

func (c *cli) commands() map[string]command {
	return map[string]command{
		"scan":         c.scan,
		"analysis":     c.analysis,
		"muted":        c.muted,
		"mute":         c.mute,
		"unmute":       c.unmute,
		"observations": c.observations,
		"signals":      c.signals,
		"signal":       c.signal,
		"record":       c.record,
		"close":        c.close,
		"stats":        c.stats,
		"monitor":      c.monitor,
		"queue":        c.queue,
		"events":       c.events,
	}
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usagef("missing command")
	}
	cmd, ok := c.commands()[args[0]]
	if !ok {
		return usagef("unknown command %q", args[0])
	}
	return cmd(ctx, args[1:])
}

func (c *cli) print(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	return fs
}

// parse accepts the positional argument before or after the flags.
func parse(fs *flag.FlagSet, args []string) (string, error) {
	var arg string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		arg, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", usagef("%s: %v", fs.Name(), err)
	}
	if arg == "" {
		arg = fs.Arg(0)
	}
	return arg, nil
}

func required(fs *flag.FlagSet, args []string, what string) (string, error) {
	arg, err := parse(fs, args)
	if err != nil {
		return "", err
	}
	if arg == "" {
		return "", usagef("%s: %s is required", fs.Name(), what)
	}
	return arg, nil
}

func (c *cli) scan(ctx context.Context, args []string) error {
	if _, err := parse(c.flags("scan"), args); err != nil {
		return err
	}
	report, err := c.svc.Pipeline.RunCycle(ctx)
	if err != nil {
		return err
	}
	return c.print(report)
}

func (c *cli) analysis(ctx context.Context, args []string) error {
	symbol, err := parse(c.flags("analysis"), args)
	if err != nil {
		return err
	}
	if symbol == "" {
		rows, err := c.svc.Operator.ListAnalysis(ctx)
		if err != nil {
			return err
		}
		return c.print(rows)
	}
	rec, err := c.svc.Operator.GetAnalysis(ctx, symbol)
	if err != nil {
		return err
	}
	return c.print(rec)
}

func (c *cli) muted(ctx context.Context, args []string) error {
	if _, err := parse(c.flags("muted"), args); err != nil {
		return err
	}
	rows, err := c.svc.Operator.ListMuted(ctx)
	if err != nil {
		return err
	}
	return c.print(rows)
}

func (c *cli) mute(ctx context.Context, args []string) error {
	fs := c.flags("mute")
	dur := fs.Duration("for", 4*time.Hour, "mute length")
	reason := fs.String("reason", string(models.MuteReasonManual), "MANUAL, WAIT_RESULT or LOW_CONFIDENCE")
	symbol, err := required(fs, args, "SYMBOL")
	if err != nil {
		return err
	}
	if *dur <= 0 {
		return usagef("mute: -for must be positive")
	}
	r := models.MuteReason(strings.ToUpper(*reason))
	if !r.Valid() {
		return usagef("mute: unknown reason %q", *reason)
	}
	rec, err := c.svc.Decider.MuteFor(ctx, symbol, *dur, r)
	if err != nil {
		return err
	}
	return c.print(rec)
}

func (c *cli) unmute(ctx context.Context, args []string) error {
	symbol, err := required(c.flags("unmute"), args, "SYMBOL")
	if err != nil {
		return err
	}
	rec, err := c.svc.Decider.Unmute(ctx, symbol)
	if err != nil {
		return err
	}
	return c.print(rec)
}

func (c *cli) observations(ctx context.Context, args []string) error {
	if _, err := parse(c.flags("observations"), args); err != nil {
		return err
	}
	rows, err := c.svc.Operator.ListObservations(ctx)
	if err != nil {
		return err
	}
	return c.print(rows)
}

func (c *cli) signals(ctx context.Context, args []string) error {
	fs := c.flags("signals")
	status := fs.String("status", "", "filter by status")
	symbol := fs.String("symbol", "", "filter by symbol")
	direction := fs.String("direction", "", "LONG or SHORT")
	since := fs.String("since", "", "RFC3339 time, date or unix seconds")
	limit := fs.Int("limit", 100, "maximum rows")
	if _, err := parse(fs, args); err != nil {
		return err
	}

	f := models.SignalFilter{
		Symbol:    util.NormalizeSymbol(*symbol),
		Direction: models.Direction(strings.ToUpper(*direction)),
		Limit:     *limit,
	}
	if *status != "" {
		st, err := models.ParseStatus(*status)
		if err != nil {
			return usageError{msg: "signals: " + err.Error()}
		}
		f.Status = st
	}
	if f.Direction != "" && f.Direction != models.DirectionLong && f.Direction != models.DirectionShort {
		return usagef("signals: unknown direction %q", *direction)
	}
	if *since != "" {
		t, ok := util.ParseTime(*since)
		if !ok {
			return usagef("signals: cannot parse -since %q", *since)
		}
		f.Since = &t
	}
	rows, err := c.svc.Operator.ListSignals(ctx, f)
	if err != nil {
		return err
	}
	return c.print(rows)
}

func (c *cli) signal(ctx context.Context, args []string) error {
	id, err := required(c.flags("signal"), args, "ID")
	if err != nil {
		return err
	}
	s, err := c.svc.Operator.GetSignal(ctx, id)
	if err != nil {
		return err
	}
	return c.print(s)
}

func (c *cli) record(ctx context.Context, args []string) error {
	fs := c.flags("record")
	symbol := fs.String("symbol", "", "symbol, e.g. SOLUSDT")
	direction := fs.String("direction", "", "LONG or SHORT")
	entry := fs.Float64("entry", 0, "entry price")
	sl := fs.Float64("sl", 0, "stop loss")
	tp1 := fs.Float64("tp1", 0, "first target")
	tp2 := fs.Float64("tp2", 0, "second target")
	tp3 := fs.Float64("tp3", 0, "third target")
	confidence := fs.Int("confidence", 0, "confidence percent")
	score := fs.String("score", "", "confluence score, e.g. 12/15")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	if *symbol == "" || *direction == "" {
		return usagef("record: -symbol and -direction are required")
	}

	sig := &models.Signal{
		Symbol:            *symbol,
		Direction:         models.Direction(strings.ToUpper(*direction)),
		EntryPrice:        *entry,
		StopLoss:          *sl,
		TakeProfit1:       *tp1,
		ConfluenceScore:   *score,
		ConfidencePercent: *confidence,
		TriggerReason:     "MANUAL",
	}
	if *tp2 > 0 {
		sig.TakeProfit2 = tp2
	}
	if *tp3 > 0 {
		sig.TakeProfit3 = tp3
	}
	s, err := c.svc.Operator.RecordSignal(ctx, sig)
	if err != nil {
		if errors.Is(err, domrepo.ErrInvalidSignal) {
			return usageError{msg: err.Error()}
		}
		return err
	}
	return c.print(s)
}

func (c *cli) close(ctx context.Context, args []string) error {
	fs := c.flags("close")
	status := fs.String("status", "", "Invalidated, ClosedManual or ExpiredDaily")
	price := fs.Float64("price", 0, "price at close")
	id, err := required(fs, args, "ID")
	if err != nil {
		return err
	}
	st, err := models.ParseStatus(*status)
	if err != nil || !st.IsManualTerminal() {
		return usagef("close: -status must be Invalidated, ClosedManual or ExpiredDaily")
	}
	s, err := c.svc.Operator.CloseSignal(ctx, id, st, *price)
	if err != nil {
		return err
	}
	return c.print(s)
}

func (c *cli) stats(ctx context.Context, args []string) error {
	if _, err := parse(c.flags("stats"), args); err != nil {
		return err
	}
	st, err := c.svc.Operator.Stats(ctx)
	if err != nil {
		return err
	}
	return c.print(st)
}

func (c *cli) monitor(ctx context.Context, args []string) error {
	fs := c.flags("monitor")
	loop := fs.Bool("loop", false, "keep running until interrupted")
	interval := fs.Duration("interval", 5*time.Minute, "time between runs with -loop")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	if *loop && *interval <= 0 {
		return usagef("monitor: -interval must be positive")
	}

	runOnce := func() error {
		report, err := c.svc.Monitor.RunOnce(ctx)
		if err != nil {
			return err
		}
		return c.print(report)
	}
	if err := runOnce(); err != nil || !*loop {
		return err
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runOnce(); err != nil {
				fmt.Fprintf(c.errOut, "monitor run failed: %v\n", err)
			}
		}
	}
}

func (c *cli) queue(ctx context.Context, args []string) error {
	if _, err := parse(c.flags("queue"), args); err != nil {
		return err
	}
	if c.svc.Queue == nil {
		return errors.New("notify.mode is not queue")
	}
	depth, err := c.svc.Queue.Depth(ctx)
	if err != nil {
		return err
	}
	return c.print(depth)
}

func (c *cli) events(ctx context.Context, args []string) error {
	fs := c.flags("events")
	fromStart := fs.Bool("from-beginning", false, "start at the oldest retained event")
	group := fs.String("group", "", "consumer group, a fresh one by default")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	if c.cfg.Events.Backend != "kafka" {
		return errors.New("events.backend is not kafka")
	}
	if *group == "" {
		*group = "scoutctl-" + uuid.NewString()
	}

	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(c.cfg.Kafka.Brokers),
		pkgkafka.WithConsumerTopic(c.cfg.Kafka.Topic),
		pkgkafka.WithConsumerGroupID(*group),
		pkgkafka.WithConsumerFromBeginning(*fromStart),
	)
	if err != nil {
		return err
	}
	defer consumer.Close()

	return consumer.Run(ctx, func(_ context.Context, msg kafka.Message) error {
		var ev models.SignalEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			fmt.Fprintf(c.errOut, "skipping undecodable event at offset %d: %v\n", msg.Offset, err)
			return nil
		}
		return c.print(ev)
	})
}
