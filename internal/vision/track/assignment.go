package track

import (
	hungarian "github.com/arthurkushman/go-hungarian"
)

// assignGreedy pairs tracks with detections by repeatedly taking the
// globally best IoU at or above threshold. Ties break toward the lower
// track index, then the lower detection index, which keeps runs
// reproducible. Returns a detection index per track, -1 for unmatched.
func assignGreedy(iou [][]float64, threshold float64) []int {
	assign := make([]int, len(iou))
	for i := range assign {
		assign[i] = -1
	}
	if len(iou) == 0 || len(iou[0]) == 0 {
		return assign
	}

	nDets := len(iou[0])
	usedTrack := make([]bool, len(iou))
	usedDet := make([]bool, nDets)
	for {
		best := -1.0
		bi, bj := -1, -1
		for i := range iou {
			if usedTrack[i] {
				continue
			}
			for j := 0; j < nDets; j++ {
				if usedDet[j] {
					continue
				}
				if iou[i][j] > best {
					best = iou[i][j]
					bi, bj = i, j
				}
			}
		}
		if bi < 0 || best < threshold {
			break
		}
		assign[bi] = bj
		usedTrack[bi] = true
		usedDet[bj] = true
	}
	return assign
}

// assignHungarian solves the pairing globally instead of greedily. The
// solver wants a square matrix, so the IoU table is zero-padded with
// phantom rows or columns; phantom pairings and pairings under the
// threshold are discarded afterwards.
func assignHungarian(iou [][]float64, threshold float64) []int {
	assign := make([]int, len(iou))
	for i := range assign {
		assign[i] = -1
	}
	if len(iou) == 0 || len(iou[0]) == 0 {
		return assign
	}

	nTracks := len(iou)
	nDets := len(iou[0])
	n := nTracks
	if nDets > n {
		n = nDets
	}
	padded := make([][]float64, n)
	for i := range padded {
		padded[i] = make([]float64, n)
		if i < nTracks {
			copy(padded[i], iou[i])
		}
	}

	solved := hungarian.SolveMax(padded)
	for i := 0; i < nTracks; i++ {
		for j := range solved[i] {
			if j < nDets && iou[i][j] >= threshold {
				assign[i] = j
			}
		}
	}
	return assign
}
