package opt

import (
	"math"
	"math/rand"
)

type point struct{ lat, lng float64 }

func (a point) dist2(b point) float64 {
	dl, dg := a.lat-b.lat, a.lng-b.lng
	return dl*dl + dg*dg
}

// kmeans clusters points into k groups with k-means++ seeding and Lloyd
// iterations, returning the cluster label of every point. Coordinates are
// treated as planar, which is fine at city scale.
func kmeans(points []point, k int, rng *rand.Rand, maxIter int) []int {
	labels := make([]int, len(points))
	if k <= 1 || len(points) == 0 {
		return labels
	}
	if k > len(points) {
		k = len(points)
	}

	centers := make([]point, 0, k)
	centers = append(centers, points[rng.Intn(len(points))])
	d2 := make([]float64, len(points))
	for len(centers) < k {
		total := 0.0
		for i, pt := range points {
			d2[i] = math.Inf(1)
			for _, c := range centers {
				if d := pt.dist2(c); d < d2[i] {
					d2[i] = d
				}
			}
			total += d2[i]
		}
		if total == 0 {
			// Fewer distinct points than clusters; reuse a random point.
			centers = append(centers, points[rng.Intn(len(points))])
			continue
		}
		target := rng.Float64() * total
		idx := len(points) - 1
		for i, d := range d2 {
			target -= d
			if target <= 0 {
				idx = i
				break
			}
		}
		centers = append(centers, points[idx])
	}

	for it := 0; it < maxIter; it++ {
		changed := false
		for i, pt := range points {
			best, bestD := 0, math.Inf(1)
			for c, center := range centers {
				if d := pt.dist2(center); d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && it > 0 {
			break
		}
		sums := make([]point, k)
		counts := make([]int, k)
		for i, pt := range points {
			sums[labels[i]].lat += pt.lat
			sums[labels[i]].lng += pt.lng
			counts[labels[i]]++
		}
		for c := range centers {
			if counts[c] > 0 {
				centers[c] = point{sums[c].lat / float64(counts[c]), sums[c].lng / float64(counts[c])}
			}
		}
	}
	return labels
}
