/*
 * stats.go, part of metromc.
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
	"fmt"

	"github.com/rmera/metromc/acclog"
	"github.com/rmera/metromc/mcstat"
	"github.com/spf13/cobra"
)

var (
	bins       int
	histograms bool

	statsCmd = &cobra.Command{
		Use:   "stats [acceptance log]",
		Short: "Summarize the acceptance log of the chains",
		Long: `Prints, for each chain in the acceptance log, the acceptance ratio, the energy
statistics and the autocorrelation time of the energy. Without arguments, the log
named in the configuration is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStats,
	}
)

func init() {
	statsCmd.Flags().IntVarP(&bins, "bins", "b", 10, "bins of the histograms")
	statsCmd.Flags().BoolVar(&histograms, "histograms", false, "print the energy and probability histograms")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) > 0 {
		path = args[0]
	} else {
		c, _, err := loadConfig()
		if err != nil {
			return err
		}
		path = c.AcceptanceLog
	}
	if path == "" {
		return fmt.Errorf("stats: no acceptance log given or configured")
	}
	entries, err := acclog.Read(cmd.Context(), path)
	if err != nil {
		return err
	}
	chains, names := mcstat.ByChain(entries)
	for _, n := range names {
		r, err := mcstat.Analyze(chains[n], bins)
		if err != nil {
			return err
		}
		r.Write(cmd.OutOrStdout(), histograms)
	}
	return nil
}
