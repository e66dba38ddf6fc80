// Package config holds the run configuration of the summary pipeline. Values
// come from, in increasing precedence, built-in defaults, the environment
// (optionally seeded from a .env file), a JSON or YAML config file, and
// command-line flags. Fields are pointers so an unset value can be told apart
// from a zero one when layers are overlaid; Get* methods supply defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/tsnr.report/internal/exposure"
)

// Environment variables read by FromEnv.
const (
	EnvRedux    = "DESI_SPECTRO_REDUX"
	EnvSpecProd = "SPECPROD"
	EnvAuxDB    = "TSNR_AUX_DB"
	EnvWorkers  = "TSNR_WORKERS"
)

const (
	DefaultSpecProd     = "daily"
	DefaultOutput       = "tsnr-summary.sqlite"
	DefaultCSVPrecision = 3

	maxConfigSize = 1 * 1024 * 1024 // 1MB
)

// RunConfig is the configuration of one summary run.
type RunConfig struct {
	Redux        *string `json:"redux,omitempty" yaml:"redux,omitempty"`
	SpecProd     *string `json:"specprod,omitempty" yaml:"specprod,omitempty"`
	Output       *string `json:"output,omitempty" yaml:"output,omitempty"`
	CSVOutput    *string `json:"csv_output,omitempty" yaml:"csv_output,omitempty"`
	CSVPrecision *int    `json:"csv_precision,omitempty" yaml:"csv_precision,omitempty"`
	DetailsDir   *string `json:"details_dir,omitempty" yaml:"details_dir,omitempty"`
	AuxDB        *string `json:"aux_db,omitempty" yaml:"aux_db,omitempty"`
	Workers      *int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	Update       *bool   `json:"update,omitempty" yaml:"update,omitempty"`
	Recompute    *bool   `json:"recompute,omitempty" yaml:"recompute,omitempty"`

	// Selectors use the list syntax of exposure.ParseIntList and
	// exposure.ParseCameras, e.g. "20210505:20210510" or "b,r3".
	Nights  *string `json:"nights,omitempty" yaml:"nights,omitempty"`
	ExpIDs  *string `json:"expids,omitempty" yaml:"expids,omitempty"`
	Cameras *string `json:"cameras,omitempty" yaml:"cameras,omitempty"`

	ComputeCommand *string `json:"compute_command,omitempty" yaml:"compute_command,omitempty"`

	// EffTimeCoefficients override the per-class effective time constants.
	EffTimeCoefficients map[string]float64 `json:"efftime_coefficients,omitempty" yaml:"efftime_coefficients,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// String, Int and Bool return pointers for building configs from flags.
func String(v string) *string { return ptrString(v) }
func Int(v int) *int          { return ptrInt(v) }
func Bool(v bool) *bool       { return ptrBool(v) }

// LoadRunConfig loads a RunConfig from a .json, .yaml or .yml file. Fields
// omitted from the file stay unset.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RunConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// FromEnv builds a RunConfig from the environment using lookup, which is
// normally os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (*RunConfig, error) {
	cfg := &RunConfig{}
	if v, ok := lookup(EnvRedux); ok && v != "" {
		cfg.Redux = ptrString(v)
	}
	if v, ok := lookup(EnvSpecProd); ok && v != "" {
		cfg.SpecProd = ptrString(v)
	}
	if v, ok := lookup(EnvAuxDB); ok && v != "" {
		cfg.AuxDB = ptrString(v)
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid integer %q", EnvWorkers, v)
		}
		cfg.Workers = ptrInt(n)
	}
	return cfg, nil
}

// Overlay copies every field set in o over c.
func (c *RunConfig) Overlay(o *RunConfig) {
	if o == nil {
		return
	}
	setString(&c.Redux, o.Redux)
	setString(&c.SpecProd, o.SpecProd)
	setString(&c.Output, o.Output)
	setString(&c.CSVOutput, o.CSVOutput)
	setString(&c.DetailsDir, o.DetailsDir)
	setString(&c.AuxDB, o.AuxDB)
	setString(&c.Nights, o.Nights)
	setString(&c.ExpIDs, o.ExpIDs)
	setString(&c.Cameras, o.Cameras)
	setString(&c.ComputeCommand, o.ComputeCommand)
	if o.CSVPrecision != nil {
		c.CSVPrecision = ptrInt(*o.CSVPrecision)
	}
	if o.Workers != nil {
		c.Workers = ptrInt(*o.Workers)
	}
	if o.Update != nil {
		c.Update = ptrBool(*o.Update)
	}
	if o.Recompute != nil {
		c.Recompute = ptrBool(*o.Recompute)
	}
	if len(o.EffTimeCoefficients) > 0 {
		if c.EffTimeCoefficients == nil {
			c.EffTimeCoefficients = make(map[string]float64, len(o.EffTimeCoefficients))
		}
		for k, v := range o.EffTimeCoefficients {
			c.EffTimeCoefficients[strings.ToUpper(k)] = v
		}
	}
}

func setString(dst **string, src *string) {
	if src != nil {
		*dst = ptrString(*src)
	}
}

// Validate checks the values that are set.
func (c *RunConfig) Validate() error {
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", *c.Workers)
	}
	if c.CSVPrecision != nil && (*c.CSVPrecision < 0 || *c.CSVPrecision > 15) {
		return fmt.Errorf("csv_precision must be between 0 and 15, got %d", *c.CSVPrecision)
	}
	if c.Redux != nil && strings.TrimSpace(*c.Redux) == "" {
		return fmt.Errorf("redux must not be empty")
	}
	if c.Output != nil && strings.TrimSpace(*c.Output) == "" {
		return fmt.Errorf("output must not be empty")
	}
	for k, v := range c.EffTimeCoefficients {
		if v < 0 {
			return fmt.Errorf("efftime coefficient %s must be >= 0, got %g", k, v)
		}
	}
	if _, err := c.Selection(); err != nil {
		return err
	}
	return nil
}

// GetRedux returns the reduction root, or "" when unset.
func (c *RunConfig) GetRedux() string {
	if c.Redux == nil {
		return ""
	}
	return *c.Redux
}

// GetSpecProd returns the production name or the default.
func (c *RunConfig) GetSpecProd() string {
	if c.SpecProd == nil || *c.SpecProd == "" {
		return DefaultSpecProd
	}
	return *c.SpecProd
}

// GetProductionDir returns <redux>/<specprod>.
func (c *RunConfig) GetProductionDir() string {
	return filepath.Join(c.GetRedux(), c.GetSpecProd())
}

// GetOutput returns the state file path or the default.
func (c *RunConfig) GetOutput() string {
	if c.Output == nil || *c.Output == "" {
		return DefaultOutput
	}
	return *c.Output
}

// GetCSVOutput returns the CSV summary path, or "" to skip the CSV.
func (c *RunConfig) GetCSVOutput() string {
	if c.CSVOutput == nil {
		return ""
	}
	return *c.CSVOutput
}

// GetCSVPrecision returns the number of decimals written for float columns.
func (c *RunConfig) GetCSVPrecision() int {
	if c.CSVPrecision == nil {
		return DefaultCSVPrecision
	}
	return *c.CSVPrecision
}

// GetDetailsDir returns the per-unit cache directory, or "" for no cache.
func (c *RunConfig) GetDetailsDir() string {
	if c.DetailsDir == nil {
		return ""
	}
	return *c.DetailsDir
}

// GetAuxDB returns the auxiliary database path, or "" when none is used.
func (c *RunConfig) GetAuxDB() string {
	if c.AuxDB == nil {
		return ""
	}
	return *c.AuxDB
}

// GetWorkers returns the worker count. Zero or unset means one per CPU.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetUpdate reports whether existing state is merged rather than replaced.
func (c *RunConfig) GetUpdate() bool {
	return c.Update != nil && *c.Update
}

// GetRecompute reports whether cached unit details are ignored.
func (c *RunConfig) GetRecompute() bool {
	return c.Recompute != nil && *c.Recompute
}

// GetComputeCommand returns the external metric command, or "".
func (c *RunConfig) GetComputeCommand() string {
	if c.ComputeCommand == nil {
		return ""
	}
	return *c.ComputeCommand
}

// GetEffTimeCoefficients returns the configured overrides keyed by
// upper-case target class. The map is a copy.
func (c *RunConfig) GetEffTimeCoefficients() map[string]float64 {
	out := make(map[string]float64, len(c.EffTimeCoefficients))
	for k, v := range c.EffTimeCoefficients {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// Selection parses the night, exposure and camera selectors.
func (c *RunConfig) Selection() (exposure.Selection, error) {
	var sel exposure.Selection
	var err error
	if c.Nights != nil {
		if sel.Nights, err = exposure.ParseNights(*c.Nights); err != nil {
			return sel, fmt.Errorf("nights: %w", err)
		}
	}
	if c.ExpIDs != nil {
		if sel.ExpIDs, err = exposure.ParseIntList(*c.ExpIDs); err != nil {
			return sel, fmt.Errorf("expids: %w", err)
		}
	}
	if c.Cameras != nil {
		if sel.Cameras, err = exposure.ParseCameras(*c.Cameras); err != nil {
			return sel, fmt.Errorf("cameras: %w", err)
		}
	}
	return sel, nil
}
