package reid

import "gocv.io/x/gocv"

// Uniform local binary patterns over 8 neighbors: 58 patterns with at
// most two circular bit transitions, plus one bucket for the rest.
const lbpBins = 59

var lbpUniformMap = buildUniformMap()

func buildUniformMap() [256]int {
	var m [256]int
	next := 0
	for v := 0; v < 256; v++ {
		if transitions(uint8(v)) <= 2 {
			m[v] = next
			next++
		} else {
			m[v] = lbpBins - 1
		}
	}
	return m
}

// transitions counts 0↔1 flips around the circular 8-bit pattern.
func transitions(v uint8) int {
	count := 0
	for i := 0; i < 8; i++ {
		a := (v >> i) & 1
		b := (v >> ((i + 1) % 8)) & 1
		if a != b {
			count++
		}
	}
	return count
}

// lbpHistogram computes the L1-normalized uniform-LBP histogram of a
// grayscale mat. Neighbors are read clockwise from the top-left; a bit
// is set when the neighbor is at least as bright as the center.
func lbpHistogram(gray gocv.Mat) []float64 {
	hist := make([]float64, lbpBins)
	rows, cols := gray.Rows(), gray.Cols()
	var total float64
	for y := 1; y < rows-1; y++ {
		for x := 1; x < cols-1; x++ {
			center := gray.GetUCharAt(y, x)
			var code uint8
			if gray.GetUCharAt(y-1, x-1) >= center {
				code |= 1 << 0
			}
			if gray.GetUCharAt(y-1, x) >= center {
				code |= 1 << 1
			}
			if gray.GetUCharAt(y-1, x+1) >= center {
				code |= 1 << 2
			}
			if gray.GetUCharAt(y, x+1) >= center {
				code |= 1 << 3
			}
			if gray.GetUCharAt(y+1, x+1) >= center {
				code |= 1 << 4
			}
			if gray.GetUCharAt(y+1, x) >= center {
				code |= 1 << 5
			}
			if gray.GetUCharAt(y+1, x-1) >= center {
				code |= 1 << 6
			}
			if gray.GetUCharAt(y, x-1) >= center {
				code |= 1 << 7
			}
			hist[lbpUniformMap[code]]++
			total++
		}
	}
	if total > 0 {
		for i := range hist {
			hist[i] /= total
		}
	}
	return hist
}
