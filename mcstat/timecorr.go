/*
 * timecorr.go, part of metromc.
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

package mcstat

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/rmera/metromc"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// windowFactor is the c in the self-consistent window M >= c*tau used to sum
// the autocorrelation function.
const windowFactor = 5

func cmplxMulConj(dst, b []complex128) {
	if len(dst) != len(b) {
		panic(fmt.Sprintf("complex conjugate multiplication of slices: Both slices should have the same len %d, %d", len(dst), len(b)))
	}
	for i, v := range b {
		dst[i] *= cmplx.Conj(v)
	}
}

// padded returns x minus its mean as complex numbers, followed by as many zeros, so the
// circular correlation computed by FFT equals the linear one.
func padded(x []float64) []complex128 {
	mean := stat.Mean(x, nil)
	ret := make([]complex128, 2*len(x))
	for i, v := range x {
		ret[i] = complex(v-mean, 0)
	}
	return ret
}

// CrossCorrelation returns the cross-correlation of the series x and y for lags
// 0 to len(x)-1: sum_t (x_t - <x>)(y_(t+k) - <y>) / (n sigma_x sigma_y), with population
// standard deviations. x and y must have the same length, at least 2, and non-zero variance.
func CrossCorrelation(x, y []float64) ([]float64, error) {
	n := len(x)
	if n != len(y) {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "mcstat.CrossCorrelation", "series of different lengths %d and %d", n, len(y))
	}
	if n < 2 {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "mcstat.CrossCorrelation", "need at least 2 points, got %d", n)
	}
	_, vx := stat.PopMeanVariance(x, nil)
	_, vy := stat.PopMeanVariance(y, nil)
	if vx == 0 || vy == 0 {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "mcstat.CrossCorrelation", "constant series")
	}
	xpad := padded(x)
	ypad := padded(y)
	f := fourier.NewCmplxFFT(len(xpad))
	f.Coefficients(xpad, xpad)
	f.Coefficients(ypad, ypad)
	//conj(X)*Y gives sum_t x_t y_(t+k) at positive lags
	cmplxMulConj(ypad, xpad)
	f.Sequence(ypad, ypad)
	norm := float64(len(ypad)) * float64(n) * math.Sqrt(vx*vy) //the inverse FFT is not normalized
	ret := make([]float64, n)
	for k := range ret {
		ret[k] = real(ypad[k]) / norm
	}
	return ret, nil
}

// AutoCorrelation returns the normalized autocorrelation function of x, for lags 0 to
// len(x)-1. The value at lag 0 is 1.
func AutoCorrelation(x []float64) ([]float64, error) {
	rho, err := CrossCorrelation(x, x)
	if err != nil {
		return nil, metromc.Decorate(err, "mcstat.AutoCorrelation")
	}
	//rounding
	c0 := rho[0]
	for i := range rho {
		rho[i] /= c0
	}
	return rho, nil
}

// IntegratedTime returns the integrated autocorrelation time, 1 + 2 sum_k rho(k), of the
// autocorrelation function rho. The sum stops at the first lag M with M >= 5 tau(M), or
// where rho is no longer positive. An uncorrelated series gives about 1, and n/tau is
// the number of independent samples in a series of length n.
func IntegratedTime(rho []float64) float64 {
	tau := 1.0
	for k := 1; k < len(rho); k++ {
		if rho[k] <= 0 {
			break
		}
		tau += 2 * rho[k]
		if float64(k) >= windowFactor*tau {
			break
		}
	}
	return tau
}
