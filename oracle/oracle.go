/*
 * oracle.go, part of metromc.
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
/***Dedicated to the long life of the Ven. Khenpo Phuntzok Tenzin Rinpoche***/

// Package oracle obtains the energies of structures from external programs: VASP,
// or a machine-learned potential (CHGNet, MatterSim) behind a small driver program.
// Each structure is calculated in its own folder, named after the structure's
// fingerprint, and energies can be kept in a persistent cache.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rmera/metromc"
)

// Oracle gives the energy of a structure. Evaluate may block for a long time
// (a whole DFT calculation) and must return when ctx is done. Errors are of kind
// ErrOracleUnavailable when the calculation could not be carried out, which may
// work on a later try, or ErrOracleCompute if it ran but gave no usable energy.
type Oracle interface {
	Evaluate(ctx context.Context, S *metromc.Structure) (float64, error)
}

// Func turns a function into an Oracle.
type Func func(ctx context.Context, S *metromc.Structure) (float64, error)

// Evaluate calls F.
func (F Func) Evaluate(ctx context.Context, S *metromc.Structure) (float64, error) {
	return F(ctx, S)
}

// The programs an oracle can use.
const (
	KindVasp      = "vasp"
	KindCHGNet    = "chgnet"
	KindMatterSim = "mattersim"
)

// Config selects and sets up an energy program.
type Config struct {
	//One of vasp, chgnet or mattersim.
	Kind string `yaml:"kind" validate:"required,oneof=vasp chgnet mattersim"`
	//Program and arguments. For VASP, the full command, say, mpirun -np 16 vasp_std. For the ML
	//potentials, a driver that prints the energy as JSON.
	Command []string `yaml:"command" validate:"required,min=1"`
	//Each structure is calculated in its own folder under WorkDir.
	WorkDir string `yaml:"work_dir" validate:"required"`
	//VASP only: folder with INCAR, KPOINTS and either POTCAR or one POTCAR.<Element> per species.
	TemplateDir string `yaml:"template_dir"`
	//Species order for the POSCAR given to the program. Species not listed go after.
	SpeciesOrder []string `yaml:"species_order"`
	//Species that marks vacant sites. Its atoms are removed from the POSCAR given to the
	//program. Set from the top level of the configuration.
	Vacancy string `yaml:"-"`
	//ML only: model name or file given to the driver.
	Model string `yaml:"model"`
	//ML only: relax the structure before giving its energy.
	Relax bool `yaml:"relax"`
	//VASP only: the command only submits the job, the calculation is finished when OUTCAR says so.
	Detached bool `yaml:"detached"`
	//Limit for one calculation. 0 means no limit.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	//How often to look at OUTCAR when Detached, in addition to file notifications.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=0"`
	//Folder for a persistent energy cache. Empty for no cache.
	Cache string `yaml:"cache"`
	//Extra environment variables for the program, as KEY=value.
	Env []string `yaml:"env"`
}

// DefaultConfig returns a VASP configuration running vasp_std in the folder "calc".
func DefaultConfig() Config {
	return Config{
		Kind:         KindVasp,
		Command:      []string{"vasp_std"},
		WorkDir:      "calc",
		PollInterval: 30 * time.Second,
	}
}

// New returns the oracle described by c. The choice of program is made here, once.
// If c.Cache is set, the oracle is wrapped in a Cached oracle, which must be closed with
// Close when not needed anymore.
func New(c Config, log *slog.Logger) (Oracle, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(c.Command) == 0 || c.Command[0] == "" {
		return nil, metromc.Errorf(metromc.ErrConfiguration, "oracle.New", "no command given for %s", c.Kind)
	}
	if c.WorkDir == "" {
		return nil, metromc.Errorf(metromc.ErrConfiguration, "oracle.New", "no work folder given")
	}
	var O Oracle
	namespace := c.Kind
	switch c.Kind {
	case KindVasp:
		if c.TemplateDir == "" {
			return nil, metromc.Errorf(metromc.ErrConfiguration, "oracle.New", "VASP needs a template folder with INCAR, KPOINTS and POTCAR")
		}
		O = &Vasp{
			Command:      c.Command,
			WorkDir:      c.WorkDir,
			TemplateDir:  c.TemplateDir,
			SpeciesOrder: c.SpeciesOrder,
			Vacancy:      c.Vacancy,
			Detached:     c.Detached,
			Timeout:      c.Timeout,
			PollInterval: c.PollInterval,
			Env:          c.Env,
			Log:          log.With("oracle", KindVasp),
		}
	case KindCHGNet, KindMatterSim:
		O = &MLPotential{
			Kind:         c.Kind,
			Command:      c.Command,
			WorkDir:      c.WorkDir,
			Model:        c.Model,
			Relax:        c.Relax,
			SpeciesOrder: c.SpeciesOrder,
			Vacancy:      c.Vacancy,
			Timeout:      c.Timeout,
			Env:          c.Env,
			Log:          log.With("oracle", c.Kind),
		}
		namespace = fmt.Sprintf("%s:%s:relax=%t", c.Kind, c.Model, c.Relax)
	default:
		return nil, metromc.Errorf(metromc.ErrConfiguration, "oracle.New", "unknown energy program %q", c.Kind)
	}
	if c.Cache == "" {
		return O, nil
	}
	db, err := OpenCache(CacheConfig{Path: c.Cache, SyncWrites: true, Logger: log})
	if err != nil {
		return nil, metromc.Wrap(metromc.ErrConfiguration, "oracle.New", err, "opening energy cache")
	}
	return NewCached(O, db, namespace, log), nil
}

// Close releases whatever resources O holds, if any.
func Close(O Oracle) error {
	if c, ok := O.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// stageDir returns the folder where S is calculated, named after its fingerprint, so a
// structure seen again finds its old results.
func stageDir(root string, S *metromc.Structure) string {
	return filepath.Join(root, fmt.Sprintf("%016x", S.Fingerprint()))
}

// withTimeout returns ctx with the timeout d, if d > 0.
// prepare returns S as the energy program sees it: without the atoms of the
// vacancy species, if one is given, and sorted in the species order.
func prepare(S *metromc.Structure, vacancy string, order []string) (*metromc.Structure, error) {
	if vacancy != "" {
		var err error
		if S, err = S.Without(vacancy); err != nil {
			return nil, metromc.Wrap(metromc.ErrOracleCompute, "oracle.prepare", err, "removing vacancies")
		}
	}
	return S.SortedBySpecies(order), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// runErr classifies the error from running a program. Programs that
// can't be started, and runs killed by ctx, can be retried. Runs that failed on
// their own are not.
func runErr(ctx context.Context, caller, prog string, err error) error {
	if ctx.Err() != nil {
		return metromc.Wrap(metromc.ErrOracleUnavailable, caller, ctx.Err(), "%s interrupted", prog)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return metromc.Wrap(metromc.ErrOracleCompute, caller, err, "%s failed", prog)
	}
	return metromc.Wrap(metromc.ErrOracleUnavailable, caller, err, "can't run %s", prog)
}

// command builds the command to run args in dir, adding env to the environment.
func command(ctx context.Context, dir string, env []string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd
}
