// Package vector provides the IVF similarity index and immutable snapshots.
package vector

import "math"

// Dot returns the inner product of two vectors (for unit vectors this equals
// cosine similarity).
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

// Normalized returns a unit-length copy of v. A zero vector is returned as a
// zero copy, which every other vector is orthogonal to.
func Normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	norm := L2Norm(v)
	if norm == 0 {
		copy(out, v)
		return out
	}
	inv := 1.0 / norm
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// CosineDistance returns 1 - cosine similarity for two unit vectors, clamped
// to [0, 2]. Lower is more similar; identical vectors have distance 0.
func CosineDistance(a, b []float32) float64 {
	d := 1 - Dot(a, b)
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}
