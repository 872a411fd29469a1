/*
 * vasp.go, part of metromc.
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
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rmera/metromc"
)

// Line that VASP writes at the very end of a finished OUTCAR.
const outcarDone = "Total CPU time used (sec):"

// Vasp calculates energies with VASP. Each structure is staged in its own folder
// under WorkDir, with INCAR and KPOINTS (and OPTCELL, if present) from TemplateDir, and a
// POTCAR that is either the one in TemplateDir, or, if TemplateDir has one
// POTCAR.<Element> file for each species, their concatenation in the order of the POSCAR.
// The energy is the last E0 in OSZICAR. A folder that already has a finished
// calculation is not calculated again.
type Vasp struct {
	Command      []string
	WorkDir      string
	TemplateDir  string
	SpeciesOrder []string
	//Species that marks vacant sites, removed before staging.
	Vacancy      string
	Detached     bool
	Timeout      time.Duration
	PollInterval time.Duration
	Env          []string
	Log          *slog.Logger
}

func (V *Vasp) logger() *slog.Logger {
	if V.Log == nil {
		return slog.Default()
	}
	return V.Log
}

// Evaluate returns the VASP energy of S, in eV.
func (V *Vasp) Evaluate(ctx context.Context, S *metromc.Structure) (float64, error) {
	dir := stageDir(V.WorkDir, S)
	log := V.logger().With("dir", dir)
	if finished(dir) {
		e, err := OszicarEnergy(filepath.Join(dir, "OSZICAR"))
		if err == nil {
			log.Info("reusing finished VASP calculation", "energy", e)
			return e, nil
		}
		log.Warn("finished VASP calculation without energy, calculating again", "error", err)
	}
	if err := V.Stage(dir, S); err != nil {
		return 0, metromc.Decorate(err, "oracle.Vasp.Evaluate")
	}
	ctx, cancel := withTimeout(ctx, V.Timeout)
	defer cancel()
	start := time.Now()
	log.Info("running VASP", "formula", metromc.Formula(S), "command", strings.Join(V.Command, " "))
	out, err := os.Create(filepath.Join(dir, "output"))
	if err != nil {
		return 0, metromc.Wrap(metromc.ErrOracleUnavailable, "oracle.Vasp.Evaluate", err, "creating output file")
	}
	cmd := command(ctx, dir, V.Env, V.Command...)
	cmd.Stdout = out
	cmd.Stderr = out
	err = cmd.Run()
	out.Close()
	if err != nil {
		return 0, runErr(ctx, "oracle.Vasp.Evaluate", V.Command[0], err)
	}
	if V.Detached {
		if err := V.wait(ctx, dir); err != nil {
			return 0, err
		}
	}
	if !finished(dir) {
		return 0, metromc.Errorf(metromc.ErrOracleCompute, "oracle.Vasp.Evaluate", "VASP ended, but %s/OUTCAR is not finished", dir)
	}
	e, err := OszicarEnergy(filepath.Join(dir, "OSZICAR"))
	if err != nil {
		return 0, metromc.Decorate(err, "oracle.Vasp.Evaluate")
	}
	log.Info("VASP finished", "energy", e, "elapsed", time.Since(start))
	return e, nil
}

// Stage prepares the folder dir to calculate S.
func (V *Vasp) Stage(dir string, S *metromc.Structure) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return metromc.Wrap(metromc.ErrOracleUnavailable, "oracle.Vasp.Stage", err, "creating %s", dir)
	}
	//stale results from an interrupted run must not be taken as ours.
	for _, v := range []string{"OUTCAR", "OSZICAR"} {
		os.Remove(filepath.Join(dir, v))
	}
	sorted, err := prepare(S, V.Vacancy, V.SpeciesOrder)
	if err != nil {
		return metromc.Decorate(err, "oracle.Vasp.Stage")
	}
	if err := metromc.WritePOSCARFile(filepath.Join(dir, metromc.POSCARName), sorted); err != nil {
		return metromc.Wrap(metromc.ErrOracleUnavailable, "oracle.Vasp.Stage", err, "writing POSCAR")
	}
	for _, v := range []string{"INCAR", "KPOINTS"} {
		if err := copyFile(filepath.Join(V.TemplateDir, v), filepath.Join(dir, v)); err != nil {
			return metromc.Wrap(metromc.ErrConfiguration, "oracle.Vasp.Stage", err, "copying %s", v)
		}
	}
	optcell := filepath.Join(V.TemplateDir, "OPTCELL")
	if _, err := os.Stat(optcell); err == nil {
		if err := copyFile(optcell, filepath.Join(dir, "OPTCELL")); err != nil {
			return metromc.Wrap(metromc.ErrConfiguration, "oracle.Vasp.Stage", err, "copying OPTCELL")
		}
	}
	return V.potcar(dir, sorted.SpeciesOrder())
}

// potcar writes the POTCAR for species, in that order, to dir.
func (V *Vasp) potcar(dir string, species []string) error {
	parts := make([]string, 0, len(species))
	for _, sp := range species {
		p := filepath.Join(V.TemplateDir, "POTCAR."+sp)
		if _, err := os.Stat(p); err != nil {
			parts = nil
			break
		}
		parts = append(parts, p)
	}
	dest := filepath.Join(dir, "POTCAR")
	if parts == nil {
		if err := copyFile(filepath.Join(V.TemplateDir, "POTCAR"), dest); err != nil {
			return metromc.Wrap(metromc.ErrConfiguration, "oracle.Vasp.Stage", err, "no POTCAR.<Element> for all of %v, and no POTCAR", species)
		}
		return nil
	}
	err := metromc.WriteFileAtomic(dest, func(w io.Writer) error {
		for _, p := range parts {
			if err := appendFile(w, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return metromc.Wrap(metromc.ErrConfiguration, "oracle.Vasp.Stage", err, "building POTCAR")
	}
	return nil
}

// wait blocks until the OUTCAR in dir is finished, or ctx is done. It listens
// for changes in dir, and also looks at the file every PollInterval, since
// notifications don't work on every (network) filesystem.
func (V *Vasp) wait(ctx context.Context, dir string) error {
	poll := V.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	var events <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(dir); err == nil {
			events = watcher.Events
		} else {
			V.logger().Warn("can't watch VASP folder, polling only", "dir", dir, "error", err)
		}
	}
	tick := time.NewTicker(poll)
	defer tick.Stop()
	for {
		if finished(dir) {
			return nil
		}
		select {
		case <-ctx.Done():
			return metromc.Wrap(metromc.ErrOracleUnavailable, "oracle.Vasp.wait", ctx.Err(), "waiting for %s", dir)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != "OUTCAR" {
				continue
			}
		case <-tick.C:
		}
	}
}

// finished returns true if dir contains an OUTCAR from a calculation that ended.
// The line we look for is near the end, so only the tail of the file is read.
func finished(dir string) bool {
	f, err := os.Open(filepath.Join(dir, "OUTCAR"))
	if err != nil {
		return false
	}
	defer f.Close()
	const tail = 16 * 1024
	if fi, err := f.Stat(); err == nil && fi.Size() > tail {
		f.Seek(-tail, io.SeekEnd)
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return false
	}
	return strings.Contains(string(b), outcarDone)
}

// OszicarEnergy returns the last E0 energy in the OSZICAR file fname.
func OszicarEnergy(fname string) (float64, error) {
	f, err := os.Open(fname)
	if err != nil {
		return 0, metromc.Wrap(metromc.ErrOracleCompute, "oracle.OszicarEnergy", err, "no OSZICAR")
	}
	defer f.Close()
	return readOszicar(f)
}

// readOszicar reads the E0 energy of the last ionic step. Those lines look like
// "   1 F= -.49524311E+03 E0= -.49524311E+03  d E =-.495243E+03".
func readOszicar(r io.Reader) (float64, error) {
	sc := bufio.NewScanner(r)
	var last string
	for sc.Scan() {
		if strings.Contains(sc.Text(), "E0=") {
			last = sc.Text()
		}
	}
	if err := sc.Err(); err != nil {
		return 0, metromc.Wrap(metromc.ErrOracleCompute, "oracle.readOszicar", err, "reading OSZICAR")
	}
	if last == "" {
		return 0, metromc.Errorf(metromc.ErrOracleCompute, "oracle.readOszicar", "no ionic step in OSZICAR")
	}
	field := strings.TrimSpace(last[strings.Index(last, "E0=")+3:])
	fields := strings.Fields(field)
	if len(fields) == 0 {
		return 0, metromc.Errorf(metromc.ErrOracleCompute, "oracle.readOszicar", "no E0 value in %q", last)
	}
	e, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, metromc.Wrap(metromc.ErrOracleCompute, "oracle.readOszicar", err, "bad E0 in %q", last)
	}
	return e, nil
}

func copyFile(src, dst string) error {
	return metromc.WriteFileAtomic(dst, func(w io.Writer) error {
		return appendFile(w, src)
	})
}

func appendFile(w io.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}
