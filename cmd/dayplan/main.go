package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"dayplan/internal/agenda"
	"dayplan/internal/config"
	"dayplan/internal/ics"
	appLog "dayplan/internal/log"
	"dayplan/internal/metrics"
	"dayplan/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("dayplan starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.CacheDir = "./cache/ics-cache"
	} else if lvl, ok := appLog.ParseLevel(conf.LogLevel); ok {
		appLog.SetLevel(lvl)
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flags.once {
		if err := runOnce(ctx, conf, os.Stdout); err != nil {
			appLog.Error("one-shot run failed", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, conf); err != nil {
		appLog.Error("server failed", err)
		os.Exit(1)
	}
	appLog.Info("dayplan exiting")
}

func newBuilder(conf *config.Config, rec metrics.Recorder) *agenda.Builder {
	loc := conf.Location()
	loader := &agenda.ICSLoader{
		Fetcher:  ics.NewFetcher(conf.CacheDir),
		Sources:  ics.SourcesFromConfig(conf.ICS),
		Location: loc,
	}
	return agenda.NewBuilder(loader, agenda.Options{
		Location:              loc,
		WeekStart:             conf.WeekStart,
		HorizonDays:           conf.HorizonDays,
		BackfillDays:          conf.BackfillDays,
		MaxOccurrencesPerSeed: conf.MaxOccurrencesPerSeed,
	}, rec)
}

// runOnce builds one snapshot and prints a conflict report.
func runOnce(ctx context.Context, conf *config.Config, out io.Writer) error {
	snap, err := newBuilder(conf, nil).Build(ctx)
	if err != nil {
		return err
	}
	return writeReport(out, snap)
}

func writeReport(out io.Writer, snap *agenda.Snapshot) error {
	const layout = "2006-01-02 15:04"
	loc := snap.RangeStart.Location()

	if _, err := fmt.Fprintf(out, "dayplan %s .. %s (%s): %d events, %d conflicting, %d overlapping pairs\n",
		snap.RangeStart.Format(layout), snap.RangeEnd.Format(layout), snap.Timezone,
		len(snap.Events), snap.Conflicting(), len(snap.Pairs)); err != nil {
		return err
	}
	for _, p := range snap.Pairs {
		if _, err := fmt.Fprintf(out, "  %s-%s  %q x %q (%d min)\n",
			p.Overlap.Start.In(loc).Format(layout), p.Overlap.End.In(loc).Format("15:04"),
			p.A.Title, p.B.Title, int(p.Overlap.Duration()/time.Minute)); err != nil {
			return err
		}
	}
	for _, id := range snap.Truncated {
		if _, err := fmt.Fprintf(out, "  truncated: %s\n", id); err != nil {
			return err
		}
	}
	for _, e := range snap.SourceErrors {
		if _, err := fmt.Fprintf(out, "  source error: %s\n", e); err != nil {
			return err
		}
	}
	return nil
}

// serve runs the refresher and HTTP API until ctx is cancelled.
func serve(ctx context.Context, conf *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	refresher := agenda.NewRefresher(newBuilder(conf, rec), rec)
	if _, err := refresher.Refresh(ctx); err != nil {
		// Keep serving; the next scheduled run may succeed.
		appLog.Error("initial refresh failed", err)
	}
	if err := refresher.Start(conf.RefreshCron, conf.Location()); err != nil {
		return fmt.Errorf("start refresher: %w", err)
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, refresher, rec, reg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	refresher.Stop(shutdownCtx)
	return serveErr
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/dayplan/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Build one snapshot, print a conflict report and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging and a local ./cache/ics-cache directory")

	flag.Parse()

	return cfg
}
