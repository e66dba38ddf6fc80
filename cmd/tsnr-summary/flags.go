package main

import (
	"flag"
	"io"

	"github.com/banshee-data/tsnr.report/internal/config"
)

// parseRunFlags builds the run configuration from defaults, the environment,
// an optional config file and the flags in args, in that order of
// precedence. Only flags given explicitly override earlier layers.
func parseRunFlags(args []string, lookup func(string) (string, bool)) (*config.RunConfig, bool, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "", "JSON or YAML run config")
	envPath := fs.String("env", ".env", "dotenv file loaded into the environment if present")
	verbose := fs.Bool("verbose", false, "Log debug output")

	redux := fs.String("redux", "", "Reduction root (overrides "+config.EnvRedux+")")
	specprod := fs.String("specprod", "", "Production name (overrides "+config.EnvSpecProd+")")
	output := fs.String("output", config.DefaultOutput, "Summary state file")
	csvOutput := fs.String("csv", "", "Also write the exposure table as CSV to this path")
	csvPrecision := fs.Int("csv-precision", config.DefaultCSVPrecision, "Decimals written for float CSV columns")
	details := fs.String("details", "", "Directory for per-unit detail files")
	auxDB := fs.String("aux-db", "", "Auxiliary database with the observing log")
	workers := fs.Int("workers", 0, "Parallel workers (0 = one per CPU)")
	update := fs.Bool("update", false, "Merge into the existing state instead of replacing it")
	recompute := fs.Bool("recompute", false, "Ignore cached detail files")
	nights := fs.String("nights", "", "Nights to process, e.g. 20210505:20210510")
	expids := fs.String("expids", "", "Exposure ids to keep, e.g. 100-120,130")
	cameras := fs.String("cameras", "", "Cameras to keep, e.g. b,r3,5")
	computeCommand := fs.String("compute-command", "", "External command computing per-fiber TSNR2")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		return nil, false, err
	}
	cfg := &config.RunConfig{}
	env, err := config.FromEnv(lookup)
	if err != nil {
		return nil, false, err
	}
	cfg.Overlay(env)

	if *configPath != "" {
		file, err := config.LoadRunConfig(*configPath)
		if err != nil {
			return nil, false, err
		}
		cfg.Overlay(file)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	flags := &config.RunConfig{}
	strFlags := []struct {
		name string
		dst  **string
		val  *string
	}{
		{"redux", &flags.Redux, redux},
		{"specprod", &flags.SpecProd, specprod},
		{"output", &flags.Output, output},
		{"csv", &flags.CSVOutput, csvOutput},
		{"details", &flags.DetailsDir, details},
		{"aux-db", &flags.AuxDB, auxDB},
		{"nights", &flags.Nights, nights},
		{"expids", &flags.ExpIDs, expids},
		{"cameras", &flags.Cameras, cameras},
		{"compute-command", &flags.ComputeCommand, computeCommand},
	}
	for _, f := range strFlags {
		if set[f.name] {
			*f.dst = config.String(*f.val)
		}
	}
	if set["csv-precision"] {
		flags.CSVPrecision = config.Int(*csvPrecision)
	}
	if set["workers"] {
		flags.Workers = config.Int(*workers)
	}
	if set["update"] {
		flags.Update = config.Bool(*update)
	}
	if set["recompute"] {
		flags.Recompute = config.Bool(*recompute)
	}
	cfg.Overlay(flags)

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, *verbose, nil
}
