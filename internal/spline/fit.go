package spline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// Project returns the least-squares fit B * pinv(B) * y.
//
// The pseudo-inverse is taken through a thin SVD; singular values at or
// below rcond times the largest one are treated as zero.
func Project(b mat.Matrix, y []float64, rcond float64) ([]float64, error) {
	rows, cols := b.Dims()
	if rows != len(y) {
		return nil, fmt.Errorf("%w: design matrix has %d rows for %d values", domain.ErrSingularFit, rows, len(y))
	}
	if !finiteMatrix(b) || !finite(y) {
		return nil, fmt.Errorf("%w: non-finite input", domain.ErrSingularFit)
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%w: empty design matrix", domain.ErrSingularFit)
	}

	var svd mat.SVD
	if ok := svd.Factorize(b, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: svd did not converge", domain.ErrSingularFit)
	}
	s := svd.Values(nil)
	var u mat.Dense
	svd.UTo(&u)

	cutoff := rcond * s[0]
	yv := mat.NewVecDense(rows, append([]float64(nil), y...))
	fit := mat.NewVecDense(rows, nil)
	for k, sk := range s {
		if sk <= cutoff {
			break
		}
		uk := u.ColView(k)
		fit.AddScaledVec(fit, mat.Dot(uk, yv), uk)
	}

	out := make([]float64, rows)
	for i := range out {
		out[i] = fit.AtVec(i)
	}
	if !finite(out) {
		return nil, fmt.Errorf("%w: non-finite fit", domain.ErrSingularFit)
	}
	return out, nil
}

// selectRows copies the given rows of b into a new matrix.
func selectRows(b *mat.Dense, idx []int) *mat.Dense {
	_, cols := b.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	for i, r := range idx {
		out.SetRow(i, b.RawRowView(r))
	}
	return out
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func finiteMatrix(b mat.Matrix) bool {
	rows, cols := b.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := b.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
