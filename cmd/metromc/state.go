/*
 * state.go, part of metromc.
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
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rmera/metromc/chain"
	"github.com/spf13/cobra"
)

var (
	force bool

	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Look at or reset the saved step counters of the chains",
	}
	stateShowCmd = &cobra.Command{
		Use:   "show [chain...]",
		Short: "Print the saved counters of the chains (all of them if none is given)",
		RunE:  runStateShow,
	}
	stateResetCmd = &cobra.Command{
		Use:   "reset [chain...]",
		Short: "Set the saved counters of the chains to zero",
		Long: `Sets the saved counters of the chains (all of them if none is given) to zero, so a
resumed run starts counting again from the current structure. Needs --force.`,
		RunE: runStateReset,
	}
)

func init() {
	stateResetCmd.Flags().BoolVarP(&force, "force", "f", false, "really reset the counters")
}

// statePaths returns the state file of each chain named in names, or of every chain
// if names is empty.
func statePaths(names []string) (map[string]string, []string, error) {
	c, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	paths := make(map[string]string)
	var order []string
	for _, ch := range c.Runs() {
		paths[ch.Name] = filepath.Join(ch.WorkDir, chain.StateName)
		order = append(order, ch.Name)
	}
	if len(names) == 0 {
		return paths, order, nil
	}
	for _, n := range names {
		if _, ok := paths[n]; !ok {
			return nil, nil, fmt.Errorf("no chain called %q in %s", n, cfgPath)
		}
	}
	return paths, names, nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	paths, names, err := statePaths(args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	var errs []error
	for _, n := range names {
		s, err := chain.LoadState(paths[n])
		if err != nil {
			fmt.Fprintf(out, "%-12s unreadable: %v\n", n, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "%-12s total %d, exchanged %d, ratio %.3f\n", n, s.TotalSteps, s.ExchangedSteps, s.AcceptanceRatio())
	}
	return errors.Join(errs...)
}

func runStateReset(cmd *cobra.Command, args []string) error {
	if !force {
		return errors.New("state reset: refusing to reset the counters without --force")
	}
	paths, names, err := statePaths(args)
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := chain.SaveState(paths[n], chain.State{}); err != nil {
			return fmt.Errorf("state reset: chain %s: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s reset\n", n)
	}
	return nil
}
