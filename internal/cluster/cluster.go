// Package cluster groups one-dimensional readings by density.
package cluster

import (
	"math"
	"sort"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// MinMaxScale maps values onto [0, 1] and rounds to the given number of
// decimals, half to even. A zero range maps every value to 0. Missing values
// stay missing and do not affect the range.
func MinMaxScale(values []float64, decimals int) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if domain.IsMissing(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	scale := math.Pow(10, float64(decimals))
	out := make([]float64, len(values))
	for i, v := range values {
		switch {
		case domain.IsMissing(v):
			out[i] = domain.Missing()
		case hi == lo:
			out[i] = 0
		default:
			out[i] = math.RoundToEven((v-lo)/(hi-lo)*scale) / scale
		}
	}
	return out
}

// DBSCAN labels each point with a cluster id or domain.Noise.
//
// Two points are neighbours when |a-b| <= eps; a point is a core point when
// it has at least minSamples neighbours, itself included. Clusters are
// numbered from 0 in input order of their first core point.
func DBSCAN(points []float64, eps float64, minSamples int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = domain.Noise
	}
	if n == 0 {
		return labels
	}

	// Sorting once turns every neighbourhood into a contiguous range.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return points[order[a]] < points[order[b]] })
	rank := make([]int, n)
	sorted := make([]float64, n)
	for r, i := range order {
		rank[i] = r
		sorted[r] = points[i]
	}

	lo := make([]int, n)
	hi := make([]int, n)
	core := make([]bool, n)
	for r, v := range sorted {
		lo[r] = sort.Search(n, func(k int) bool { return v-sorted[k] <= eps })
		hi[r] = sort.Search(n, func(k int) bool { return sorted[k]-v > eps })
		core[r] = hi[r]-lo[r] >= minSamples
	}

	next := 0
	queue := make([]int, 0, n)
	for i := range points {
		r := rank[i]
		if !core[r] || labels[i] != domain.Noise {
			continue
		}
		id := next
		next++
		labels[i] = id
		queue = append(queue[:0], r)
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]
			if !core[q] {
				continue
			}
			for k := lo[q]; k < hi[q]; k++ {
				j := order[k]
				if labels[j] != domain.Noise {
					continue
				}
				labels[j] = id
				queue = append(queue, k)
			}
		}
	}
	return labels
}
