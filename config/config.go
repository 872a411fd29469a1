/*
 * config.go, part of metromc.
 *
 *
 * Copyright 2025 Raul Mera <rmera{at}chemDOThelsinkiDOTfi>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as
 * published by the Free Software Foundation; either version 2.1 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General
 * Public License along with this program.  If not, see
 * <http://www.gnu.org/licenses/>.
 *
 *
 */

// Package config reads the settings of a metromc run from a YAML file, fills
// in defaults, applies METROMC_* environment overrides and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rmera/metromc"
	"github.com/rmera/metromc/chain"
	"github.com/rmera/metromc/metropolis"
	"github.com/rmera/metromc/oracle"
	"github.com/rmera/metromc/retry"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment variables that override the file.
const EnvPrefix = "METROMC_"

var validate = validator.New()

// Log sets up the logger of the program.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ChainConfig overrides, for one chain, the settings shared by all of them.
// Zero values keep the shared setting.
type ChainConfig struct {
	Name        string  `yaml:"name" validate:"required,excludesall=/\\"`
	Temperature float64 `yaml:"temperature" validate:"gte=0"`
	Seed        uint64  `yaml:"seed"`
	//Relative folders are taken from the shared work_dir. The default is work_dir/name.
	WorkDir string `yaml:"work_dir"`
}

// Config holds all the settings of a run.
type Config struct {
	//Initial structure, a POSCAR file, optionally gzipped.
	Structure string `yaml:"structure" validate:"required"`
	WorkDir   string `yaml:"work_dir" validate:"required"`
	//Species of each sublattice.
	Sublattices [][]string `yaml:"sublattices" validate:"required,min=1,dive,min=2,dive,required"`
	//In K.
	Temperature float64 `yaml:"temperature" validate:"gt=0"`
	//In energy units per K. The default is in eV/K.
	Boltzmann float64 `yaml:"boltzmann" validate:"gt=0"`
	Required  string  `yaml:"required"`
	//Species that marks vacant sites. It is swapped like any other species of its
	//sublattice, and removed from the structures given to the energy program.
	Vacancy string `yaml:"vacancy"`
	//In A. 0 for no limit.
	Cutoff float64 `yaml:"cutoff" validate:"gte=0"`
	//Swaps per candidate.
	Exchanges int `yaml:"exchanges" validate:"gte=1"`
	//Total steps of each chain, counting those of resumed runs.
	Iterations       int    `yaml:"iterations" validate:"gte=1"`
	PoolRetries      int    `yaml:"pool_retries" validate:"gte=1"`
	CollisionRetries int    `yaml:"collision_retries" validate:"gte=1"`
	ChainRetries     int    `yaml:"chain_retries" validate:"gte=0"`
	Resume           bool   `yaml:"resume"`
	OnCorruptState   string `yaml:"on_corrupt_state" validate:"oneof=fresh abort"`
	OnComputeError   string `yaml:"on_compute_error" validate:"oneof=abort skip"`
	SaveSteps        bool   `yaml:"save_steps"`
	Compress         bool   `yaml:"compress"`
	//0 for a random seed.
	Seed uint64 `yaml:"seed"`
	//File for the acceptance log, shared by all chains. A .db or .sqlite extension
	//gives a SQLite database, anything else a JSON-lines file. Empty for none.
	AcceptanceLog string `yaml:"acceptance_log"`
	//File where the metrics are written, in the Prometheus text format, when the run ends.
	MetricsFile string        `yaml:"metrics_file"`
	Log         Log           `yaml:"log"`
	Oracle      oracle.Config `yaml:"oracle"`
	OracleRetry retry.Policy  `yaml:"oracle_retry"`
	Chains      []ChainConfig `yaml:"chains" validate:"unique=Name,dive"`
}

// Default returns the configuration used for anything the file doesn't set.
func Default() *Config {
	o := chain.DefaultOptions()
	return &Config{
		WorkDir:          ".",
		Temperature:      o.Temperature,
		Boltzmann:        metropolis.Boltzmann,
		Exchanges:        o.Exchanges,
		PoolRetries:      o.PoolRetries,
		CollisionRetries: o.CollisionRetries,
		ChainRetries:     o.ChainRetries,
		OnCorruptState:   o.OnCorruptState,
		OnComputeError:   o.OnComputeError,
		SaveSteps:        o.SaveSteps,
		Log:              Log{Level: "info", Format: "text"},
		Oracle:           oracle.DefaultConfig(),
		OracleRetry:      retry.DefaultPolicy(),
	}
}

// Load reads the file path (if path is not empty) over the defaults, then applies the
// environment overrides and validates the result. Any problem gives an error of kind
// ErrConfiguration.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, metromc.Wrap(metromc.ErrConfiguration, "config.Load", err, "reading %s", path)
		}
		if err := c.decode(bytes.NewReader(b)); err != nil {
			return nil, metromc.Wrap(metromc.ErrConfiguration, "config.Load", err, "parsing %s", path)
		}
		c.relativeTo(filepath.Dir(path))
	}
	if err := c.FromEnv(os.LookupEnv); err != nil {
		return nil, metromc.Decorate(err, "config.Load")
	}
	if err := c.Validate(); err != nil {
		return nil, metromc.Decorate(err, "config.Load")
	}
	return c, nil
}

// decode reads YAML from r into c. Unknown keys are an error.
func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(c)
	if errors.Is(err, io.EOF) {
		//empty file
		return nil
	}
	return err
}

// relativeTo makes the relative paths of the file relative to the folder dir where
// the file is.
func (c *Config) relativeTo(dir string) {
	for _, p := range []*string{&c.Structure, &c.WorkDir, &c.AcceptanceLog, &c.MetricsFile, &c.Oracle.TemplateDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// FromEnv applies the overrides found with lookup (normally os.LookupEnv). Values that
// can't be parsed give an error of kind ErrConfiguration.
func (c *Config) FromEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	parse := func(name string, set func(string) error) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return
		}
		if err := set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, name, v, err))
		}
	}
	float := func(dst *float64) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseFloat(v, 64)
			return err
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.Atoi(v)
			return err
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseBool(v)
			return err
		}
	}
	str("STRUCTURE", &c.Structure)
	str("WORK_DIR", &c.WorkDir)
	str("REQUIRED", &c.Required)
	str("VACANCY", &c.Vacancy)
	str("ACCEPTANCE_LOG", &c.AcceptanceLog)
	str("METRICS_FILE", &c.MetricsFile)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("ORACLE_KIND", &c.Oracle.Kind)
	str("ORACLE_WORK_DIR", &c.Oracle.WorkDir)
	str("ORACLE_TEMPLATE_DIR", &c.Oracle.TemplateDir)
	str("ORACLE_MODEL", &c.Oracle.Model)
	str("ORACLE_CACHE", &c.Oracle.Cache)
	parse("ORACLE_COMMAND", func(v string) error {
		c.Oracle.Command = strings.Fields(v)
		return nil
	})
	parse("ORACLE_TIMEOUT", func(v string) (err error) {
		c.Oracle.Timeout, err = time.ParseDuration(v)
		return err
	})
	parse("TEMPERATURE", float(&c.Temperature))
	parse("BOLTZMANN", float(&c.Boltzmann))
	parse("CUTOFF", float(&c.Cutoff))
	parse("EXCHANGES", integer(&c.Exchanges))
	parse("ITERATIONS", integer(&c.Iterations))
	parse("RESUME", boolean(&c.Resume))
	parse("SAVE_STEPS", boolean(&c.SaveSteps))
	parse("COMPRESS", boolean(&c.Compress))
	parse("SEED", func(v string) (err error) {
		c.Seed, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	if len(errs) > 0 {
		return metromc.Wrap(metromc.ErrConfiguration, "config.FromEnv", errors.Join(errs...), "bad environment override")
	}
	return nil
}

// Validate checks every field and the relations between them.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return metromc.Wrap(metromc.ErrConfiguration, "config.Validate", err, "invalid configuration")
	}
	if c.Oracle.Kind == oracle.KindVasp && c.Oracle.TemplateDir == "" {
		return metromc.Errorf(metromc.ErrConfiguration, "config.Validate", "the vasp oracle needs a template_dir")
	}
	seen := make(map[string]bool)
	for _, s := range c.Sublattices {
		for _, sp := range s {
			if seen[sp] {
				return metromc.Errorf(metromc.ErrConfiguration, "config.Validate", "species %s is in more than one sublattice", sp)
			}
			seen[sp] = true
		}
	}
	if c.Required != "" && !seen[c.Required] {
		return metromc.Errorf(metromc.ErrConfiguration, "config.Validate", "required species %s is in no sublattice", c.Required)
	}
	if c.Vacancy != "" && !seen[c.Vacancy] {
		return metromc.Errorf(metromc.ErrConfiguration, "config.Validate", "vacancy species %s is in no sublattice", c.Vacancy)
	}
	return nil
}

// Runs returns the chains to run, with their overrides applied. Without a chains
// list, there is a single chain, called "chain", working in WorkDir.
func (c *Config) Runs() []ChainConfig {
	if len(c.Chains) == 0 {
		return []ChainConfig{{Name: "chain", Temperature: c.Temperature, Seed: c.Seed, WorkDir: c.WorkDir}}
	}
	ret := make([]ChainConfig, len(c.Chains))
	for i, v := range c.Chains {
		if v.Temperature == 0 {
			v.Temperature = c.Temperature
		}
		if v.Seed == 0 && c.Seed != 0 {
			//different, reproducible, seeds for each chain
			v.Seed = c.Seed + uint64(i)
		}
		switch {
		case v.WorkDir == "":
			v.WorkDir = filepath.Join(c.WorkDir, v.Name)
		case !filepath.IsAbs(v.WorkDir):
			v.WorkDir = filepath.Join(c.WorkDir, v.WorkDir)
		}
		ret[i] = v
	}
	return ret
}

// ChainOptions returns the options for the chain ch, which should be one of those
// returned by Runs.
func (c *Config) ChainOptions(ch ChainConfig) *chain.Options {
	o := chain.DefaultOptions()
	o.Name = ch.Name
	o.Sublattices = c.Sublattices
	o.Temperature = ch.Temperature
	o.Boltzmann = c.Boltzmann
	o.Required = c.Required
	o.Cutoff = c.Cutoff
	o.Exchanges = c.Exchanges
	o.PoolRetries = c.PoolRetries
	o.CollisionRetries = c.CollisionRetries
	o.ChainRetries = c.ChainRetries
	o.Resume = c.Resume
	o.OnCorruptState = c.OnCorruptState
	o.OnComputeError = c.OnComputeError
	o.WorkDir = ch.WorkDir
	o.SaveSteps = c.SaveSteps
	o.Compress = c.Compress
	o.Seed = ch.Seed
	o.OracleRetry = c.OracleRetry
	return o
}

// OracleConfig returns the oracle settings for the chain ch. Relative calculation and
// cache folders are put in the work folder of the chain, so chains don't share them.
func (c *Config) OracleConfig(ch ChainConfig) oracle.Config {
	oc := c.Oracle
	oc.Command = append([]string(nil), c.Oracle.Command...)
	oc.Env = append([]string(nil), c.Oracle.Env...)
	oc.Vacancy = c.Vacancy
	if !filepath.IsAbs(oc.WorkDir) {
		oc.WorkDir = filepath.Join(ch.WorkDir, oc.WorkDir)
	}
	if oc.Cache != "" && !filepath.IsAbs(oc.Cache) {
		oc.Cache = filepath.Join(ch.WorkDir, oc.Cache)
	}
	return oc
}

// Logger returns a logger writing to w with the level and format of l.
func (l Log) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
