/*
 * main.go, part of metromc.
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

// metromc samples the configurations of a crystal with Metropolis Monte Carlo,
// exchanging atoms within sublattices and getting energies from VASP or a
// machine-learning potential.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rmera/metromc"
	"github.com/rmera/metromc/config"
	"github.com/spf13/cobra"
)

var (
	cfgPath   string
	logLevel  string
	logFormat string

	rootCmd = &cobra.Command{
		Use:   "metromc",
		Short: "Metropolis Monte Carlo sampling of crystal configurations",
		Long: `metromc runs one or more Metropolis Monte Carlo chains over the configurations
of a crystal. Each step swaps atoms of different species within a sublattice, gets
the energy of the new structure from an external program, and accepts or rejects it.`,
		SilenceUsage: true,
	}
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the initial structure without running anything",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "metromc.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides the configuration)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "text or json (overrides the configuration)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateResetCmd)
}

// loadConfig reads the configuration and sets up the default logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	c, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if logFormat != "" {
		c.Log.Format = logFormat
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	log := c.Log.Logger(os.Stderr)
	slog.SetDefault(log)
	return c, log, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	c, _, err := loadConfig()
	if err != nil {
		return err
	}
	S, set, err := initial(c)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "structure: %s, %d atoms (%s)\n", c.Structure, S.Len(), metromc.Formula(S))
	for k := 0; k < set.Len(); k++ {
		sub := set.Sublattice(k)
		fmt.Fprintf(out, "sublattice %d: %d atoms,", k, sub.Len())
		for _, g := range sub.Groups() {
			fmt.Fprintf(out, " %s:%d", g.Species(), g.Len())
		}
		fmt.Fprintln(out)
	}
	for _, ch := range c.Runs() {
		fmt.Fprintf(out, "chain %s: T=%g K, work folder %s\n", ch.Name, ch.Temperature, ch.WorkDir)
	}
	fmt.Fprintf(out, "oracle: %s %v\n", c.Oracle.Kind, c.Oracle.Command)
	if c.Vacancy != "" {
		fmt.Fprintf(out, "vacancies: %s sites are left out of the energy program input\n", c.Vacancy)
	}
	fmt.Fprintln(out, "ok")
	return nil
}
