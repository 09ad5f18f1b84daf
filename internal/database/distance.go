package database

import "math"

// SquaredL2 computes the squared Euclidean distance between two vectors.
// Vectors of different length are infinitely far apart.
func SquaredL2(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
