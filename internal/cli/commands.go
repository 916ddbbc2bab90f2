// Package cli implements the vitalwatch command line.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gmsas95/vitalwatch/internal/app"
	"github.com/gmsas95/vitalwatch/internal/batch"
	"github.com/gmsas95/vitalwatch/internal/config"
	"github.com/gmsas95/vitalwatch/internal/store"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	"go.uber.org/zap"
)

var Version = "dev"

// Execute runs the command line and returns the process exit code
func Execute(args []string) int {
	global := flag.NewFlagSet("vitalwatch", flag.ContinueOnError)
	configPath := global.String("config", "", "Path to config file")
	dataDir := global.String("data", "", "Path to data directory")
	showVersion := global.Bool("version", false, "Print version and exit")
	global.BoolVar(showVersion, "v", false, "Print version and exit")
	global.SetOutput(io.Discard)
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			PrintHelp(os.Stdout)
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		PrintHelp(os.Stderr)
		return 2
	}
	if *showVersion {
		fmt.Printf("VitalWatch version %s\n", Version)
		return 0
	}

	rest := global.Args()
	if len(rest) == 0 {
		PrintHelp(os.Stdout)
		return 0
	}
	command, cmdArgs := rest[0], rest[1:]

	switch command {
	case "help":
		PrintHelp(os.Stdout)
		return 0
	case "version":
		fmt.Printf("VitalWatch version %s\n", Version)
		return 0
	case "serve", "server":
		return runServe(*configPath, *dataDir)
	}

	run, ok := commands[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", command)
		PrintHelp(os.Stderr)
		return 2
	}

	application, closeFn, err := openApp(*configPath, *dataDir, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := application.Vitals
	if command == "import" {
		// replayed history must not page anyone
		if svc, err = application.ImportService(); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			return 1
		}
	}

	if err := run(ctx, os.Stdout, svc, application.Config.User.ID, cmdArgs); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}
	return 0
}

type commandFunc func(ctx context.Context, w io.Writer, svc *vitals.Service, userID string, args []string) error

var commands = map[string]commandFunc{
	"record":     runRecord,
	"history":    runHistory,
	"latest":     runLatest,
	"alerts":     runAlerts,
	"ack":        runAck,
	"trend":      runTrend,
	"report":     runReport,
	"thresholds": runThresholds,
	"import":     runImport,
}

// openApp loads configuration and opens the stores. Commands other than
// serve log warnings only.
func openApp(configPath, dataDir string, serve bool) (*app.App, func(), error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(configPath, dataDir)
	if err != nil {
		return nil, nil, err
	}

	logCfg := cfg.Log
	if !serve {
		logCfg.Level = "warn"
	}
	logger, err := app.NewLogger(logCfg)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.New(cfg)
	if err != nil {
		logger.Sync()
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	application, err := app.New(cfg, st, logger, Version)
	if err != nil {
		st.Close()
		logger.Sync()
		return nil, nil, err
	}

	return application, func() {
		st.Close()
		logger.Sync()
	}, nil
}

func runServe(configPath, dataDir string) int {
	application, closeFn, err := openApp(configPath, dataDir, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}
	defer closeFn()

	application.Logger.Info("Starting VitalWatch",
		zap.String("version", Version),
		zap.String("user_id", application.Config.User.ID),
	)
	application.RunServer()
	return 0
}

func runRecord(ctx context.Context, w io.Writer, svc *vitals.Service, userID string, args []string) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	fs.SetOutput(w)
	temp := fs.Float64("temp", 0, "Body temperature in °C")
	hr := fs.Float64("hr", 0, "Heart rate in bpm")
	bp := fs.String("bp", "", "Blood pressure as systolic/diastolic, e.g. 120/80")
	spo2 := fs.Float64("spo2", 0, "Oxygen saturation in %")
	rr := fs.Float64("rr", 0, "Respiratory rate in breaths/min")
	sugar := fs.Float64("sugar", 0, "Blood sugar in mg/dL")
	weight := fs.Float64("weight", 0, "Weight in kg")
	height := fs.Float64("height", 0, "Height in cm")
	notes := fs.String("notes", "", "Free-form notes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sample := vitals.VitalSigns{
		Temperature:      *temp,
		HeartRate:        *hr,
		OxygenSaturation: *spo2,
		RespiratoryRate:  *rr,
		Notes:            *notes,
	}
	if *bp != "" {
		p, err := parseBloodPressure(*bp)
		if err != nil {
			return err
		}
		sample.BloodPressure = p
	}
	if *sugar > 0 {
		sample.BloodSugar = vitals.Float(*sugar)
	}
	if *weight > 0 {
		sample.Weight = vitals.Float(*weight)
	}
	if *height > 0 {
		sample.Height = vitals.Float(*height)
	}

	res, err := svc.Record(ctx, userID, sample)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, okStyle.Render("✓ Recorded "+res.Vitals.ID))
	fmt.Fprintln(w, RenderVitals([]vitals.VitalSigns{res.Vitals}))
	if len(res.Alerts) > 0 {
		fmt.Fprint(w, RenderAlerts(res.Alerts))
	}
	return nil
}

func parseBloodPressure(s string) (vitals.BloodPressure, error) {
	sys, dia, ok := strings.Cut(s, "/")
	if !ok {
		return vitals.BloodPressure{}, fmt.Errorf("blood pressure must be systolic/diastolic, got %q", s)
	}
	systolic, err := strconv.ParseFloat(strings.TrimSpace(sys), 64)
	if err != nil {
		return vitals.BloodPressure{}, fmt.Errorf("invalid systolic pressure %q", sys)
	}
	diastolic, err := strconv.ParseFloat(strings.TrimSpace(dia), 64)
	if err != nil {
		return vitals.BloodPressure{}, fmt.Errorf("invalid diastolic pressure %q", dia)
	}
	return vitals.BloodPressure{Systolic: systolic, Diastolic: diastolic}, nil
}

func runHistory(ctx context.Context, w io.Writer, svc *vitals.Service, userID string, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(w)
	limit := fs.Int("n", 20, "Number of samples to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := svc.History(ctx, userID, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, RenderVitals(list))
	return nil
}

func runLatest(ctx context.Context, w io.Writer, svc *vitals.Service, userID string, args []string) error {
	v, err := svc.Latest(ctx, userID)
	if err != nil {
		return err
	}
	if v == nil {
		fmt.Fprintln(w, RenderVitals(nil))
		return nil
	}
	fmt.Fprintln(w, RenderVitals([]vitals.VitalSigns{*v}))
	return nil
}

func runAlerts(ctx context.Context, w io.Writer, svc *vitals.Service, userID string, args []string) error {
	fs := flag.NewFlagSet("alerts", flag.ContinueOnError)
	fs.SetOutput(w)
	all := fs.Bool("all", false, "Include acknowledged alerts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	alerts, err := svc.Alerts(ctx, userID, *all)
	if err != nil {
		return err
	}
	fmt.Fprint(w, RenderAlerts(alerts))
	return nil
}

func runAck(ctx context.Context, w io.Writer, svc *vitals.Service, userID string, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: vitalwatch ack <alert-id>")
	}
	a, err := svc.Acknowledge(ctx, userID, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(w, okStyle.Render("✓ Acknowledged: "+a.Message))
	return nil
}

func runTrend(ctx context.Context, w io.Writer, svc *vitals.Service, userID string, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: vitalwatch trend <metric> [daily|weekly|monthly]")
	}
	metric, err := vitals.ParseMetric(args[0])
	if err != nil {
		return err
	}
	period := vitals.PeriodWeekly
	if len(args) > 1 {
		if period, err = vitals.ParsePeriod(args[1]); err != nil {
			return err
		}
	}

	t, err := svc.Trend(ctx, userID, metric, period)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, RenderTrend(t))
	return nil
}

func runReport(ctx context.Context, w io.Writer, svc *vitals.Service, userID string, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(w)
	raw := fs.Bool("markdown", false, "Print raw markdown")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := svc.Report(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Fprint(w, RenderMarkdown(ReportMarkdown(report), !*raw && isTerminal()))
	return nil
}

func runThresholds(ctx context.Context, w io.Writer, svc *vitals.Service, userID string, args []string) error {
	if len(args) >= 2 && args[0] == "check" {
		table, err := vitals.LoadTable(args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, okStyle.Render("✓ "+args[1]+" is valid"))
		fmt.Fprintln(w, RenderThresholds(table))
		return nil
	}
	fmt.Fprintln(w, RenderThresholds(svc.Thresholds().Get()))
	return nil
}

func runImport(ctx context.Context, w io.Writer, svc *vitals.Service, userID string, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(w)
	output := fs.String("o", "", "Write the per-item result as JSON")
	workers := fs.Int("workers", 3, "Concurrent writers")
	perMinute := fs.Int("rate", 0, "Maximum samples per minute, 0 for unlimited")
	strict := fs.Bool("strict", false, "Fail on undecodable rows instead of skipping them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: vitalwatch import [-o result.json] [-workers N] [-rate N] [-strict] <file.json|.jsonl|.csv>")
	}

	cfg := batch.DefaultConfig()
	cfg.MaxConcurrency = *workers
	cfg.RatePerMinute = *perMinute
	cfg.SkipInvalid = !*strict

	result, err := batch.NewProcessor(svc, cfg, nil).ProcessFile(ctx, userID, fs.Arg(0), *output)
	if result != nil {
		fmt.Fprint(w, result.Summary())
	}
	return err
}

// PrintHelp prints command usage
func PrintHelp(w io.Writer) {
	fmt.Fprintln(w, `VitalWatch - vital signs monitoring and alerting

Usage:
  vitalwatch [-config file] [-data dir] <command> [args]

Commands:
  serve                              Run the HTTP API, ingestion and schedulers
  record [flags]                     Record a sample (-temp -hr -bp -spo2 -rr -sugar -weight -height -notes)
  history [-n N]                     Show the most recent samples
  latest                             Show the latest sample
  alerts [-all]                      List unacknowledged (or all) alerts
  ack <alert-id>                     Acknowledge an alert
  trend <metric> [daily|weekly|monthly]
                                     Show a trend summary
  report [-markdown]                 Show the weekly health report
  thresholds [check <file>]          Show the active thresholds or validate a file
  import [flags] <file>              Import historical samples from JSON, JSONL or CSV
  version                            Show version
  help                               Show this help`)
}
