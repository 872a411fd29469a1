/*
 * ml.go, part of metromc.
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

package oracle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rmera/metromc"
	"github.com/tidwall/gjson"
)

// Name of the file, in the staging folder, that keeps the output of the driver.
const MLOutputName = "relaxation_output.json"

var errNoEnergy = errors.New("no energy in output")

// MLPotential calculates energies with a machine-learned potential. Python
// potentials are not run directly: a driver program is called as
//
//	Command... --kind <Kind> --structure <POSCAR> [--model <Model>] [--relax]
//
// and must print a JSON object to its standard output, with either the total
// energy, in eV, in "energy", or the energy per atom in "energy_per_atom" (the
// number of atoms is taken from "natoms", or from the structure). The output is kept
// in the staging folder, and reused if the same structure is evaluated again.
type MLPotential struct {
	Kind         string
	Command      []string
	WorkDir      string
	Model        string
	Relax        bool
	SpeciesOrder []string
	//Species that marks vacant sites, removed before calling the driver.
	Vacancy      string
	Timeout      time.Duration
	Env          []string
	Log          *slog.Logger
}

// Evaluate returns the energy of S, in eV.
func (M *MLPotential) Evaluate(ctx context.Context, S *metromc.Structure) (float64, error) {
	log := M.Log
	if log == nil {
		log = slog.Default()
	}
	P, err := prepare(S, M.Vacancy, M.SpeciesOrder)
	if err != nil {
		return 0, metromc.Decorate(err, "oracle.MLPotential.Evaluate")
	}
	dir := stageDir(M.WorkDir, S)
	outname := filepath.Join(dir, MLOutputName)
	if old, err := os.ReadFile(outname); err == nil {
		if e, err := MLEnergy(old, P.Len()); err == nil {
			log.Debug("reusing ML energy", "dir", dir, "energy", e)
			return e, nil
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, metromc.Wrap(metromc.ErrOracleUnavailable, "oracle.MLPotential.Evaluate", err, "creating %s", dir)
	}
	poscar := filepath.Join(dir, metromc.POSCARName)
	if err := metromc.WritePOSCARFile(poscar, P); err != nil {
		return 0, metromc.Wrap(metromc.ErrOracleUnavailable, "oracle.MLPotential.Evaluate", err, "writing POSCAR")
	}
	args := append(append([]string(nil), M.Command...), "--kind", M.Kind, "--structure", poscar)
	if M.Model != "" {
		args = append(args, "--model", M.Model)
	}
	if M.Relax {
		args = append(args, "--relax")
	}
	ctx, cancel := withTimeout(ctx, M.Timeout)
	defer cancel()
	var stdout, stderr bytes.Buffer
	cmd := command(ctx, dir, M.Env, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	start := time.Now()
	if err := cmd.Run(); err != nil {
		log.Warn("ML driver failed", "kind", M.Kind, "dir", dir, "stderr", strings.TrimSpace(stderr.String()))
		return 0, runErr(ctx, "oracle.MLPotential.Evaluate", args[0], err)
	}
	e, err := MLEnergy(stdout.Bytes(), P.Len())
	if err != nil {
		return 0, metromc.Wrap(metromc.ErrOracleCompute, "oracle.MLPotential.Evaluate", err, "%s driver output", M.Kind)
	}
	werr := metromc.WriteFileAtomic(outname, func(w io.Writer) error {
		_, err := w.Write(stdout.Bytes())
		return err
	})
	if werr != nil {
		log.Warn("can't keep ML output", "file", outname, "error", werr)
	}
	log.Info("ML energy", "kind", M.Kind, "formula", metromc.Formula(S), "energy", e, "elapsed", time.Since(start))
	return e, nil
}

// MLEnergy extracts the total energy from the JSON output of an ML driver, for a
// structure with natoms atoms.
func MLEnergy(out []byte, natoms int) (float64, error) {
	out = bytes.TrimSpace(out)
	if !gjson.ValidBytes(out) {
		//drivers sometimes print chatter before the JSON, so we try the last line.
		if i := bytes.LastIndexByte(out, '\n'); i >= 0 {
			out = out[i+1:]
		}
		if !gjson.ValidBytes(out) {
			return 0, errNoEnergy
		}
	}
	var e float64
	if v := gjson.GetBytes(out, "energy"); v.Exists() && v.Type == gjson.Number {
		e = v.Float()
	} else if v := gjson.GetBytes(out, "energy_per_atom"); v.Exists() && v.Type == gjson.Number {
		n := gjson.GetBytes(out, "natoms")
		if n.Exists() && n.Int() > 0 {
			natoms = int(n.Int())
		}
		e = v.Float() * float64(natoms)
	} else {
		return 0, errNoEnergy
	}
	if math.IsNaN(e) || math.IsInf(e, 0) {
		return 0, errNoEnergy
	}
	return e, nil
}
