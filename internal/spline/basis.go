// Package spline fits clamped B-spline curves to sensor series and reports
// how far each reading falls from the fitted curve.
package spline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// Linspace returns n evenly spaced values over [lo, hi]. The last value is hi exactly.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// Basis evaluates every B-spline basis function of the given degree at x.
//
// The knot vector is clamped by repeating min(x[0], knots[0]) and
// max(x[n-1], knots[m-1]) degree times on either side. The result is an
// n x (m+degree+1) matrix whose first m+degree-1 columns hold the basis
// functions; the two trailing columns are always zero and are removed by
// TrimBasis. Rows for points outside the support are NaN.
func Basis(x, knots []float64, degree int) (*mat.Dense, error) {
	n, m := len(x), len(knots)
	switch {
	case n == 0:
		return nil, fmt.Errorf("%w: no sample points", domain.ErrDegenerateBasis)
	case m < 2:
		return nil, fmt.Errorf("%w: need at least 2 knots, got %d", domain.ErrDegenerateBasis, m)
	case degree < 0:
		return nil, fmt.Errorf("%w: negative degree %d", domain.ErrDegenerateBasis, degree)
	}
	if !strictlyIncreasing(x) {
		return nil, fmt.Errorf("%w: sample points not strictly increasing", domain.ErrDegenerateBasis)
	}
	if !strictlyIncreasing(knots) {
		return nil, fmt.Errorf("%w: knots not strictly increasing", domain.ErrDegenerateBasis)
	}

	t := clampKnots(x, knots, degree)
	nb := len(t) - degree - 1
	out := mat.NewDense(n, m+degree+1, nil)
	nurbs := make([]float64, degree+1)
	left := make([]float64, degree+1)
	right := make([]float64, degree+1)

	for i, xi := range x {
		span, ok := findSpan(t, degree, nb, xi)
		if !ok {
			for j := 0; j < nb; j++ {
				out.Set(i, j, math.NaN())
			}
			continue
		}
		evalNonZero(t, degree, span, xi, nurbs, left, right)
		for r := 0; r <= degree; r++ {
			out.Set(i, span-degree+r, nurbs[r])
		}
	}
	return out, nil
}

// TrimBasis drops the two all-zero trailing columns of a Basis result.
func TrimBasis(b *mat.Dense) *mat.Dense {
	r, c := b.Dims()
	if c <= 2 {
		return b
	}
	return mat.DenseCopyOf(b.Slice(0, r, 0, c-2))
}

func clampKnots(x, knots []float64, degree int) []float64 {
	lo := math.Min(x[0], knots[0])
	hi := math.Max(x[len(x)-1], knots[len(knots)-1])
	t := make([]float64, 0, len(knots)+2*degree)
	for range degree {
		t = append(t, lo)
	}
	t = append(t, knots...)
	for range degree {
		t = append(t, hi)
	}
	return t
}

// findSpan locates l with t[l] <= x < t[l+1] and degree <= l < nb. The
// right end of the support maps onto the last non-empty interval.
func findSpan(t []float64, degree, nb int, x float64) (int, bool) {
	if math.IsNaN(x) || x < t[degree] || x > t[nb] {
		return 0, false
	}
	for l := nb - 1; l >= degree; l-- {
		if t[l] <= x && t[l] < t[l+1] {
			return l, true
		}
	}
	return 0, false
}

// evalNonZero is the Cox-de Boor triangle: it fills n[0..degree] with the
// values of the basis functions span-degree..span at x.
func evalNonZero(t []float64, degree, span int, x float64, n, left, right []float64) {
	n[0] = 1
	for j := 1; j <= degree; j++ {
		left[j] = x - t[span+1-j]
		right[j] = t[span+j] - x
		saved := 0.0
		for r := 0; r < j; r++ {
			tmp := n[r] / (right[r+1] + left[j-r])
			n[r] = saved + right[r+1]*tmp
			saved = left[j-r] * tmp
		}
		n[j] = saved
	}
}

func strictlyIncreasing(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if !(v[i] > v[i-1]) {
			return false
		}
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
