// xlnd is a thin wiring binary around runtime.Env: it owns the process
// lifecycle (tick ticker, signal handling, snapshot persistence) and
// nothing else. A CLI surface is explicitly out of scope (spec.md §1);
// this exists only so the core is runnable at all, the way the
// teacher's cmd/rubin-node is a skeleton around node.Config/ChainState
// rather than a full node.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xlnfinance/xln-core/runtime"
	"github.com/xlnfinance/xln-core/store"
	"github.com/xlnfinance/xln-core/xconfig"
	"github.com/xlnfinance/xln-core/xlog"
	"github.com/xlnfinance/xln-core/xsig"
)

var nowUnixMilli = func() int64 { return time.Now().UnixMilli() }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := xconfig.DefaultConfig()

	fs := flag.NewFlagSet("xlnd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	datadir := fs.String("datadir", "", "data directory for the snapshot store (empty: run in-memory only)")
	cfg := defaults
	fs.DurationVar(&cfg.TickInterval, "tick-interval", defaults.TickInterval, "wall-clock tick period")
	fs.IntVar(&cfg.SnapshotRetention, "snapshot-retention", defaults.SnapshotRetention, "in-memory history length")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	tickLimit := fs.Int("tick-limit", 0, "exit after N ticks (0: run until signaled)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := xconfig.Validate(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	var snapStore *store.SnapshotStore
	if *datadir != "" {
		var err error
		snapStore, err = store.Open(*datadir)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "snapshot store open failed: %v\n", err)
			return 2
		}
		defer snapStore.Close()
	}

	sink := &stdoutSink{w: stdout}
	log := xlog.New(nil, "xlnd", sink)
	signer := xsig.NewDevProvider()
	env := runtime.New(cfg, signer, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintf(stdout, "xlnd: tick_interval=%s snapshot_retention=%d datadir=%q\n", cfg.TickInterval, cfg.SnapshotRetention, *datadir)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(stdout, "xlnd: stopped")
			return 0
		case <-ticker.C:
			snap := env.Tick(nowUnixMilli())
			if snapStore != nil {
				if err := snapStore.PutSnapshot(store.FromSnapshot(snap)); err != nil {
					_, _ = fmt.Fprintf(stderr, "xlnd: snapshot persist failed: %v\n", err)
					return 1
				}
				if err := snapStore.SetManifest(&store.Manifest{
					SchemaVersion: store.SchemaVersionV1,
					TipHeight:     snap.Height,
					TipTimestamp:  snap.Timestamp,
				}); err != nil {
					_, _ = fmt.Fprintf(stderr, "xlnd: manifest persist failed: %v\n", err)
					return 1
				}
			}
			ticks++
			if *tickLimit > 0 && ticks >= *tickLimit {
				_, _ = fmt.Fprintf(stdout, "xlnd: tick limit %d reached\n", *tickLimit)
				return 0
			}
		}
	}
}

// stdoutSink writes every log entry as a line of text, standing in
// for a real log aggregator the way the teacher's cmd/rubin-node
// prints straight to stdout rather than wiring a collector.
type stdoutSink struct{ w io.Writer }

func (s *stdoutSink) Record(e xlog.Entry) {
	_, _ = fmt.Fprintf(s.w, "%s [%s] %s %s\n", e.Level, e.Category, e.EntityID, e.Message)
}
