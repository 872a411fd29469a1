/*
 * run.go, part of metromc.
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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rmera/metromc"
	"github.com/rmera/metromc/acclog"
	"github.com/rmera/metromc/chain"
	"github.com/rmera/metromc/config"
	"github.com/rmera/metromc/oracle"
	"github.com/rmera/metromc/sublattice"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	iterations int
	resume     bool
	parallel   int

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the Monte Carlo chains",
		Long: `Runs every chain in the configuration until it has made the configured number
of steps. Chains are independent: each has its own work folder, random numbers and
energy program, and one failing doesn't stop the others. Interrupted runs can be
continued with --resume.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}
)

func init() {
	runCmd.Flags().IntVarP(&iterations, "iterations", "n", -1, "total steps per chain (overrides the configuration)")
	runCmd.Flags().BoolVar(&resume, "resume", false, "continue from the saved counters")
	runCmd.Flags().IntVarP(&parallel, "parallel", "j", 0, "chains run at the same time, 0 for all of them")
}

// initial reads the initial structure and checks it against the sublattices.
func initial(c *config.Config) (*metromc.Structure, *sublattice.Set, error) {
	S, err := metromc.ReadPOSCARFile(c.Structure)
	if err != nil {
		return nil, nil, err
	}
	set, err := sublattice.Build(S, c.Sublattices)
	if err != nil {
		return nil, nil, err
	}
	return S, set, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	c, log, err := loadConfig()
	if err != nil {
		return err
	}
	if iterations >= 0 {
		c.Iterations = iterations
	}
	if c.Iterations < 1 {
		return metromc.Errorf(metromc.ErrConfiguration, "run", "the iteration budget must be positive, got %d", c.Iterations)
	}
	if resume {
		c.Resume = true
	}
	S, _, err := initial(c)
	if err != nil {
		return err
	}
	runID := uuid.New()
	log = log.With("run", runID.String())
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acc, err := acclog.Open(ctx, c.AcceptanceLog)
	if err != nil {
		return err
	}
	defer acc.Close()
	reg := prometheus.NewRegistry()
	metrics := chain.NewMetrics(reg)

	runs := c.Runs()
	sums := make([]chain.Summary, len(runs))
	var mu sync.Mutex
	var errs []error
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	log.Info("starting", "chains", len(runs), "iterations", c.Iterations, "formula", metromc.Formula(S))
	for i, ch := range runs {
		g.Go(func() error {
			sum, err := runChain(ctx, c, ch, S, acc, metrics, log)
			sums[i] = sum
			if err != nil {
				log.Error("chain failed", "chain", ch.Name, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("chain %s: %w", ch.Name, err))
				mu.Unlock()
			}
			//a failed chain doesn't stop the others
			return nil
		})
	}
	g.Wait()
	printSummaries(cmd.OutOrStdout(), sums)
	if c.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(c.MetricsFile, reg); err != nil {
			log.Warn("can't write metrics", "file", c.MetricsFile, "error", err)
		}
	}
	return errors.Join(errs...)
}

// runChain sets up the energy program and the chain ch, and runs it.
func runChain(ctx context.Context, c *config.Config, ch config.ChainConfig, S *metromc.Structure, acc acclog.Log, m *chain.Metrics, log *slog.Logger) (chain.Summary, error) {
	clog := log.With("chain", ch.Name)
	if err := os.MkdirAll(ch.WorkDir, 0o755); err != nil {
		return chain.Summary{Name: ch.Name}, err
	}
	O, err := oracle.New(c.OracleConfig(ch), clog)
	if err != nil {
		return chain.Summary{Name: ch.Name}, err
	}
	defer func() {
		if err := oracle.Close(O); err != nil {
			clog.Warn("closing energy program", "error", err)
		}
	}()
	o := c.ChainOptions(ch)
	o.AccLog = acc
	o.Metrics = m
	//the chain adds its name
	o.Logger = log
	C, err := chain.New(S, o)
	if err != nil {
		return chain.Summary{Name: ch.Name}, err
	}
	return C.Run(ctx, O, c.Iterations)
}

func printSummaries(w io.Writer, sums []chain.Summary) {
	fmt.Fprintf(w, "%-12s %8s %8s %8s %8s %8s %14s %8s %12s\n", "chain", "total", "exch.", "ratio", "acc.", "skip", "lowest (eV)", "at step", "time")
	for _, s := range sums {
		if s.Name == "" {
			continue
		}
		fmt.Fprintf(w, "%-12s %8d %8d %8.3f %8d %8d %14.6f %8d %12s\n", s.Name, s.State.TotalSteps, s.State.ExchangedSteps,
			s.State.AcceptanceRatio(), s.Accepted, s.Skipped, s.LowestEnergy, s.LowestStep, s.Elapsed.Round(1e6))
	}
}
