// Program devsim drives a simulated fleet of devices against an IoT platform
// and reports progress to the console, an optional dweet.io notification sink
// and an optional spreadsheet timeline view.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"devsim/buffer"
	"devsim/config"
	"devsim/dweet"
	"devsim/progress"
	"devsim/recorder"
	"devsim/simulator"
	"devsim/timeline"
)

const errorRingCapacity = 10

type options struct {
	configPath   string
	delayMS      int64
	maxInFlight  int
	progressMS   int64
	silent       bool
	dweetBlob    string
	timelineBlob string
	fromStr      string
	toStr        string
	ui           bool
	recordPath   string
	logDir       string
	seed         int64
}

func parseFlags() *options {
	opts := &options{}
	for _, name := range []string{"c", "configuration"} {
		flag.StringVar(&opts.configPath, name, "", "path to the simulation configuration file (required)")
	}
	for _, name := range []string{"d", "delay"} {
		flag.Int64Var(&opts.delayMS, name, 0, "minimum milliseconds between update dispatches")
	}
	for _, name := range []string{"m", "maximumNotRespondedRequests"} {
		flag.IntVar(&opts.maxInFlight, name, 0, "maximum unanswered update requests before delaying (0 = unlimited)")
	}
	for _, name := range []string{"p", "progressInfoInterval"} {
		flag.Int64Var(&opts.progressMS, name, 5000, "milliseconds between progress reports")
	}
	for _, name := range []string{"s", "silent"} {
		flag.BoolVar(&opts.silent, name, false, "suppress console progress output")
	}
	for _, name := range []string{"w", "dweet"} {
		flag.StringVar(&opts.dweetBlob, name, "", `dweet.io target as JSON, e.g. {"name":"my-sim","apiKey":"..."}`)
	}
	for _, name := range []string{"l", "timeline"} {
		flag.StringVar(&opts.timelineBlob, name, "", `spreadsheet timeline target as JSON`)
	}
	for _, name := range []string{"f", "from"} {
		flag.StringVar(&opts.fromStr, name, "", "simulation start date (RFC 3339); enables fast-forward mode")
	}
	for _, name := range []string{"t", "to"} {
		flag.StringVar(&opts.toStr, name, "", "simulation end date (RFC 3339)")
	}
	flag.BoolVar(&opts.ui, "ui", false, "render a live dashboard instead of scrolling output")
	flag.StringVar(&opts.recordPath, "record", "", "record update outcomes to this SQLite database")
	flag.StringVar(&opts.logDir, "log-dir", "", "write daily log files to this directory")
	flag.Int64Var(&opts.seed, "seed", 0, "fixed seed for value generators (0 = from clock)")
	flag.Parse()
	return opts
}

// usageExit is the single exit path for every validation failure: show the
// error, show the usage help, leave non-zero.
func usageExit(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "devsim: %s\n\n", fmt.Sprintf(format, args...))
	flag.Usage()
	os.Exit(2)
}

func parseDate(label, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		usageExit("invalid --%s date %q: must be RFC 3339", label, value)
	}
	return t
}

func main() {
	os.Exit(run())
}

// run carries the whole lifecycle so deferred cleanup still happens before
// the process exit code is set.
func run() int {
	opts := parseFlags()

	if opts.configPath == "" {
		usageExit("the --configuration flag is required")
	}
	if _, err := os.Stat(opts.configPath); err != nil {
		usageExit("configuration file %q not found: %v", opts.configPath, err)
	}

	from := parseDate("from", opts.fromStr)
	to := parseDate("to", opts.toStr)
	if err := config.ValidateWindow(from, to, time.Now()); err != nil {
		usageExit("%v", err)
	}
	windowOverride := !from.IsZero() || !to.IsZero()

	var dweetTarget *config.DweetTarget
	if opts.dweetBlob != "" {
		target, err := config.ParseDweetTarget(opts.dweetBlob)
		if err != nil {
			usageExit("%v", err)
		}
		dweetTarget = target
	}

	var timelineTarget *config.TimelineTarget
	if opts.timelineBlob != "" {
		target, err := config.ParseTimelineTarget(opts.timelineBlob, os.ReadFile)
		if err != nil {
			usageExit("%v", err)
		}
		timelineTarget = target
	}

	sim, err := config.Load(opts.configPath)
	if err != nil {
		usageExit("%v", err)
	}
	for _, dev := range sim.Devices {
		for _, attr := range dev.Attributes {
			if err := simulator.ValidateValueSpec(attr.Value); err != nil {
				usageExit("device %q: %v", dev.ID, err)
			}
		}
	}

	fanout, err := setupLogging(opts.logDir, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devsim: file logging unavailable: %v\n", err)
	}
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()

	dash := newDashboard(opts.ui && term.IsTerminal(int(os.Stdout.Fd())))
	if dash != nil {
		fanout.SetConsoleSink(dash.SystemWriter(), false)
		dash.WaitReady()
		defer dash.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ring := buffer.NewErrorRing(errorRingCapacity)

	var dweetSink *dweetPush
	if dweetTarget != nil {
		dweetSink = newDweetPush(dweet.NewClient(dweetTarget.Name, dweetTarget.APIKey),
			func(err error) {
				ring.Add(time.Now(), err.Error())
				log.Printf("%v", err)
			})
	}

	var timelineSync *timeline.Synchronizer
	if timelineTarget != nil {
		client, err := timeline.NewSheetClient(ctx, timelineTarget.CredentialsFilePath, timelineTarget.SheetKey)
		if err != nil {
			log.Printf("%v", err)
			return 1
		}
		timelineSync = timeline.NewSynchronizer(client, timelineTarget.RefreshInterval(), timelineTarget.DateFormat,
			func(err error) {
				ring.Add(time.Now(), err.Error())
				log.Printf("timeline: push failed: %v", err)
			})
		if windowOverride {
			// The timeline view cannot represent a fast-forwarded or
			// bounded window; pushes stay disabled for the whole run.
			timelineSync.MarkNotSupported()
			log.Printf("timeline: disabled, not supported with an explicit time window")
		}
	}

	var rec *recorder.Recorder
	if opts.recordPath != "" {
		rec, err = recorder.New(opts.recordPath)
		if err != nil {
			log.Printf("%v", err)
			return 1
		}
		defer rec.Close()
	}

	engine, err := simulator.Start(sim, simulator.Options{
		From:             from,
		To:               to,
		ProgressInterval: time.Duration(opts.progressMS) * time.Millisecond,
		MaxInFlight:      opts.maxInFlight,
		Delay:            time.Duration(opts.delayMS) * time.Millisecond,
		Seed:             opts.seed,
	})
	if err != nil {
		log.Printf("cannot start simulation: %v", err)
		return 1
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Printf("shutdown signal received")
		engine.Stop()
	}()

	windowFrom := from
	if windowFrom.IsZero() {
		windowFrom = time.Now()
	}

	p := &pipeline{
		ctx:          ctx,
		window:       progress.Window{From: windowFrom, To: to},
		silent:       opts.silent,
		ring:         ring,
		dweetSink:    dweetSink,
		timelineSync: timelineSync,
		rec:          rec,
		dash:         dash,
	}

	for ev := range engine.Events() {
		p.handle(ev)
	}

	exitCode := 0
	if dweetSink != nil {
		if err := dweetSink.Final(ctx, p.payload()); err != nil {
			log.Printf("%v", err)
			exitCode = 1
		} else {
			log.Printf("final progress notification delivered")
		}
	}
	return exitCode
}
