// Package config handles loading and resolving cicqte configuration.
// Resolution order (later layers win):
//  1. config.json in the current working directory (or --config)
//  2. environment variables prefixed CICQTE_
//  3. CLI flags, applied by the command after Load
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"

	"github.com/derickschaefer/cicqte/internal/analyze"
	"github.com/derickschaefer/cicqte/internal/bootstrap"
	"github.com/derickschaefer/cicqte/internal/cic"
	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/panel"
	"github.com/derickschaefer/cicqte/internal/resample"
)

const (
	DefaultConfigFile = "config.json"
	DefaultFormat     = "table"
	EnvPrefix         = "CICQTE"
)

// Defaults are estimation option defaults. A nil field is unset and leaves
// the built-in default in place.
type Defaults struct {
	Outcome *string   `json:"outcome,omitempty"`
	Cohort  *string   `json:"cohort,omitempty"`
	Period  *string   `json:"period,omitempty"`
	Unit    *string   `json:"unit,omitempty"`
	Probs   []float64 `json:"probs,omitempty"`
	NMin    *int      `json:"n_min,omitempty" split_words:"true"`
	Boot    *string   `json:"boot,omitempty"`
	Reps    *int      `json:"reps,omitempty"`
	Qtype   *int      `json:"qtype,omitempty"`
	ES      *bool     `json:"es,omitempty"`
	Horizon *int      `json:"horizon,omitempty"`
	Round   *int      `json:"round,omitempty"`
	Cores   *int      `json:"cores,omitempty"`
	Seed    *uint64   `json:"seed,omitempty"`
	Weights *string   `json:"weights,omitempty"`
}

// File is the on-disk representation of config.json.
type File struct {
	DefaultFormat string   `json:"default_format,omitempty"`
	DBPath        string   `json:"db_path,omitempty"`
	SpillDir      string   `json:"spill_dir,omitempty"`
	Defaults      Defaults `json:"defaults"`
}

// envLayer is the shape envconfig fills from CICQTE_* variables.
type envLayer struct {
	Format   *string
	DBPath   *string `split_words:"true"`
	SpillDir *string `split_words:"true"`
	Defaults
}

// Config is the fully-resolved runtime configuration.
// All callers use this struct; the File is only read during loading.
type Config struct {
	Format     string
	DBPath     string
	SpillDir   string
	Defaults   Defaults
	ConfigPath string // path of the config.json that was loaded (empty if none found)

	// Runtime overrides set from CLI flags after Load()
	Quiet   bool
	Verbose bool
	Debug   bool
}

// Load resolves configuration from the config file and environment.
// path names the config file; empty means config.json in the working
// directory, which may be absent. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := &Config{Format: DefaultFormat}

	// Layer 1: config file (lowest priority)
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	f, abs, err := loadFile(path)
	switch {
	case err == nil:
		applyFile(cfg, f, abs)
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	// Layer 2: environment
	var env envLayer
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		var pe *envconfig.ParseError
		if errors.As(err, &pe) {
			return nil, diag.WrapValidation(pe.Err, "environment variable %s=%q", pe.KeyName, pe.Value)
		}
		return nil, diag.WrapValidation(err, "environment")
	}
	applyEnv(cfg, &env)

	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DBPath = filepath.Join(home, ".cicqte", "cicqte.db")
		}
	}
	return cfg, nil
}

// loadFile reads and parses a config file, returning its absolute path.
func loadFile(path string) (*File, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("config file not found at %s: %w", abs, os.ErrNotExist)
		}
		return nil, "", fmt.Errorf("reading config file: %w", err)
	}
	var f File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, "", diag.WrapValidation(err, "parsing %s", abs)
	}
	return &f, abs, nil
}

func applyFile(cfg *Config, f *File, path string) {
	cfg.ConfigPath = path
	if f.DefaultFormat != "" {
		cfg.Format = f.DefaultFormat
	}
	if f.DBPath != "" {
		cfg.DBPath = f.DBPath
	}
	if f.SpillDir != "" {
		cfg.SpillDir = f.SpillDir
	}
	cfg.Defaults = cfg.Defaults.merge(f.Defaults)
}

func applyEnv(cfg *Config, env *envLayer) {
	if env.Format != nil {
		cfg.Format = *env.Format
	}
	if env.DBPath != nil {
		cfg.DBPath = *env.DBPath
	}
	if env.SpillDir != nil {
		cfg.SpillDir = *env.SpillDir
	}
	cfg.Defaults = cfg.Defaults.merge(env.Defaults)
}

// merge returns d with every field set in over replacing d's value.
func (d Defaults) merge(over Defaults) Defaults {
	pick := func(dst **string, src *string) {
		if src != nil {
			*dst = src
		}
	}
	pickInt := func(dst **int, src *int) {
		if src != nil {
			*dst = src
		}
	}
	pick(&d.Outcome, over.Outcome)
	pick(&d.Cohort, over.Cohort)
	pick(&d.Period, over.Period)
	pick(&d.Unit, over.Unit)
	pick(&d.Boot, over.Boot)
	pick(&d.Weights, over.Weights)
	pickInt(&d.NMin, over.NMin)
	pickInt(&d.Reps, over.Reps)
	pickInt(&d.Qtype, over.Qtype)
	pickInt(&d.Horizon, over.Horizon)
	pickInt(&d.Round, over.Round)
	pickInt(&d.Cores, over.Cores)
	if over.Probs != nil {
		d.Probs = over.Probs
	}
	if over.ES != nil {
		d.ES = over.ES
	}
	if over.Seed != nil {
		d.Seed = over.Seed
	}
	return d
}

// Apply overlays the set defaults onto o. String-valued options are parsed
// and rejected with a validation error when unknown.
func (d Defaults) Apply(o *bootstrap.Options) error {
	if d.Outcome != nil {
		o.Columns.Outcome = *d.Outcome
	}
	if d.Cohort != nil {
		o.Columns.Cohort = *d.Cohort
	}
	if d.Period != nil {
		o.Columns.Period = *d.Period
	}
	if d.Unit != nil {
		o.Columns.Unit = *d.Unit
	}
	if d.Probs != nil {
		o.Probs = append([]float64(nil), d.Probs...)
	}
	if d.NMin != nil {
		o.NMin = *d.NMin
	}
	if d.Boot != nil {
		m, err := resample.ParseMode(*d.Boot)
		if err != nil {
			return err
		}
		o.Mode = m
	}
	if d.Reps != nil {
		o.Reps = *d.Reps
	}
	if d.Qtype != nil {
		r, err := analyze.ParseRule(*d.Qtype)
		if err != nil {
			return err
		}
		o.Rule = r
	}
	if d.ES != nil {
		o.EventStudy = *d.ES
	}
	if d.Horizon != nil {
		o.Horizon = *d.Horizon
	}
	if d.Round != nil {
		o.RoundDigits = *d.Round
	}
	if d.Cores != nil {
		o.Parallelism = *d.Cores
	}
	if d.Seed != nil {
		o.Seed = *d.Seed
	}
	if d.Weights != nil {
		w, err := cic.ParseWeighting(*d.Weights)
		if err != nil {
			return err
		}
		o.Weighting = w
	}
	return nil
}

// DefaultColumns are the panel column names used when none are configured.
func DefaultColumns() panel.Columns {
	return panel.Columns{Outcome: "outcome", Cohort: "cohort", Period: "period", Unit: "unit"}
}

// Options returns the built-in defaults with every configured default applied.
func (c *Config) Options() (bootstrap.Options, error) {
	o := bootstrap.DefaultOptions()
	o.Columns = DefaultColumns()
	o.SpillDir = c.SpillDir
	if err := c.Defaults.Apply(&o); err != nil {
		return o, err
	}
	return o, nil
}

// Template returns a File populated with the built-in defaults, suitable for
// writing an initial config.json via `cicqte config init`.
func Template() File {
	o := bootstrap.DefaultOptions()
	cols := DefaultColumns()
	str := func(s string) *string { return &s }
	num := func(n int) *int { return &n }
	es := o.EventStudy
	seed := o.Seed
	return File{
		DefaultFormat: DefaultFormat,
		Defaults: Defaults{
			Outcome: str(cols.Outcome),
			Cohort:  str(cols.Cohort),
			Period:  str(cols.Period),
			Unit:    str(cols.Unit),
			Probs:   o.Probs,
			NMin:    num(o.NMin),
			Boot:    str(string(o.Mode)),
			Reps:    num(o.Reps),
			Qtype:   num(int(o.Rule)),
			ES:      &es,
			Horizon: num(o.Horizon),
			Round:   num(o.RoundDigits),
			Seed:    &seed,
			Weights: str(o.Weighting.String()),
		},
	}
}

// WriteFile serialises a File to the given path.
func WriteFile(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}
