package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/tsnr.report/internal/config"
	"github.com/banshee-data/tsnr.report/internal/db"
	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/monitoring"
	"github.com/banshee-data/tsnr.report/internal/pipeline"
	"github.com/banshee-data/tsnr.report/internal/summary"
	"github.com/banshee-data/tsnr.report/internal/unitproc"
	"github.com/banshee-data/tsnr.report/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "run":
		err = handleRun(args)
	case "migrate":
		err = handleMigrate(args)
	case "import-log":
		err = handleImportLog(args)
	case "version":
		fmt.Printf("%s built %s\n", version.Writer(), version.BuildTime)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage() {
	fmt.Println(`tsnr-summary - TSNR2 camera and exposure summary builder

Usage: tsnr-summary <command> [options]

Commands:
  run          Compute per-camera TSNR2 and write the summary state file
  migrate      Manage the auxiliary database schema (up, down, status, version, force)
  import-log   Load observing-log and conditions rows from a CSV into the auxiliary database
  version      Show version
  help         Show this help message

Configuration precedence (lowest first):
  built-in defaults, environment (.env is loaded if present),
  config file (-config run.yaml), command-line flags.

Environment:
  DESI_SPECTRO_REDUX   reduction root
  SPECPROD             production name (default daily)
  TSNR_AUX_DB          auxiliary database path
  TSNR_WORKERS         worker count (0 = one per CPU)

Examples:
  tsnr-summary run -nights 20210505:20210510 -update -compute-command desi-tsnr-helper
  tsnr-summary migrate status -db aux.db
  tsnr-summary import-log -db aux.db exposures.csv`)
}

func handleRun(args []string) error {
	cfg, verbose, err := parseRunFlags(args, os.LookupEnv)
	if err != nil {
		return err
	}
	monitoring.SetVerbose(verbose)

	if cfg.GetRedux() == "" {
		return fmt.Errorf("no reduction root: set -redux or %s", config.EnvRedux)
	}
	if cfg.GetComputeCommand() == "" {
		return fmt.Errorf("-compute-command is required")
	}
	sel, err := cfg.Selection()
	if err != nil {
		return err
	}

	layout := exposure.Layout{Root: cfg.GetProductionDir()}
	proc := &unitproc.Processor{
		Layout:     layout,
		Source:     unitproc.ExecSource{Command: cfg.GetComputeCommand()},
		DetailsDir: cfg.GetDetailsDir(),
		Recompute:  cfg.GetRecompute(),
	}

	coeffs := summary.DefaultEffTimeCoefficients()
	for k, v := range cfg.GetEffTimeCoefficients() {
		coeffs[k] = v
	}

	runner := &pipeline.Runner{
		Layout:       layout,
		Selection:    sel,
		Process:      proc.Process,
		Workers:      cfg.GetWorkers(),
		Output:       cfg.GetOutput(),
		Update:       cfg.GetUpdate(),
		CSVOutput:    cfg.GetCSVOutput(),
		CSVPrecision: cfg.GetCSVPrecision(),
		EffTime:      coeffs,
	}

	if path := cfg.GetAuxDB(); path != "" {
		aux, err := db.NewDB(path)
		if err != nil {
			return fmt.Errorf("open auxiliary database: %w", err)
		}
		defer aux.Close()
		runner.Aux = aux
	} else {
		monitoring.Warnf("no auxiliary database configured; backfill and conditions joins are skipped")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("%s: %s with %d workers", version.Writer(), layout.Root, runner.Workers)
	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		log.Printf("%d of %d units failed; see warnings above", len(res.Failed), res.Units)
	}
	return nil
}

func handleMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", os.Getenv(config.EnvAuxDB), "Auxiliary database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return fmt.Errorf("-db or %s is required", config.EnvAuxDB)
	}
	return db.RunMigrateCommand(os.Stdout, fs.Args(), *dbPath)
}

func handleImportLog(args []string) error {
	fs := flag.NewFlagSet("import-log", flag.ExitOnError)
	dbPath := fs.String("db", os.Getenv(config.EnvAuxDB), "Auxiliary database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return fmt.Errorf("-db or %s is required", config.EnvAuxDB)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tsnr-summary import-log [-db path] <file.csv>")
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("open auxiliary database: %w", err)
	}
	defer database.Close()

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := database.ImportCSV(context.Background(), f)
	if err != nil {
		return fmt.Errorf("%s: %w", fs.Arg(0), err)
	}
	fmt.Printf("imported %d rows: %d exposures, %d sky brightness, %d guide conditions\n",
		stats.Rows, stats.Exposures, stats.Sky, stats.Guide)
	return nil
}
