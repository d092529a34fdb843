package reid

import "math"

// Cosine returns the cosine similarity of two vectors. Zero-norm or
// mismatched-length inputs score 0, so they can never match anything.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// L2Normalize scales v to unit length in place and returns it. An
// all-zero vector comes back unchanged.
func L2Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
	return v
}

// MeanVector averages vecs elementwise into a fresh slice. Shorter
// vectors contribute zeros in their missing tail.
func MeanVector(vecs [][]float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	dim := 0
	for _, v := range vecs {
		if len(v) > dim {
			dim = len(v)
		}
	}
	out := make([]float64, dim)
	for _, v := range vecs {
		for i, x := range v {
			out[i] += x
		}
	}
	n := float64(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}

// blend folds probe into template with exponential smoothing and
// renormalizes, so drifting coats update the stored identity without
// erasing it.
func blend(template, probe []float64, alpha float64) []float64 {
	out := make([]float64, len(template))
	for i := range template {
		var p float64
		if i < len(probe) {
			p = probe[i]
		}
		out[i] = (1-alpha)*template[i] + alpha*p
	}
	return L2Normalize(out)
}

func l1Normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}
