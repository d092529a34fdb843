package detect

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// Tile grids swept per frame, coarse to fine. The coarse grids resolve
// large foreground animals; the fine grids see small regions at usable
// resolution and recover the animals hiding in dense clusters. Every
// grid's detections are pooled before suppression, so no scale's finds
// are lost.
var sweepGrids = [][2]int{{1, 1}, {2, 2}, {3, 3}, {4, 4}}

// tiledDetect sweeps every grid over the frame, projects each tile's
// detections back to frame coordinates, and suppresses duplicates
// across the pooled set in one pass. The method tag names the finest
// grid that contributed a surviving detection.
func (d *Detector) tiledDetect(frame gocv.Mat) ([]Detection, string, error) {
	var pooled []Detection
	for _, grid := range sweepGrids {
		rows, cols := grid[0], grid[1]
		tag := fmt.Sprintf("grid_%dx%d", rows, cols)

		// Fine grids see small regions, so they get a lower floor.
		floor := d.confFloorCoarse
		if rows >= 3 {
			floor = d.confFloorFine
		}

		for _, tile := range TileRects(frame.Cols(), frame.Rows(), rows, cols, d.overlapPx) {
			region := frame.Region(tile)
			dets, err := d.backend.Infer(region, floor)
			region.Close()
			if err != nil {
				return nil, "", fmt.Errorf("infer tile %v: %w", tile, err)
			}
			for _, det := range dets {
				det.Box = det.Box.Add(tile.Min).Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
				if det.Box.Empty() {
					continue
				}
				det.Grid = tag
				pooled = append(pooled, det)
			}
		}
	}

	merged := ClusterNMS(pooled, d.nmsIoU)
	return merged, finestGrid(merged), nil
}

// finestGrid returns the method tag of the finest grid present among
// the surviving detections, or "grid_1x1" when none survived.
func finestGrid(dets []Detection) string {
	best := "grid_1x1"
	bestIdx := -1
	for _, det := range dets {
		for i := range sweepGrids {
			tag := fmt.Sprintf("grid_%dx%d", sweepGrids[i][0], sweepGrids[i][1])
			if det.Grid == tag && i > bestIdx {
				best, bestIdx = tag, i
			}
		}
	}
	return best
}

// TileRects splits a width×height frame into rows×cols tiles, each
// grown by overlapPx on every interior edge and clamped to the frame.
func TileRects(width, height, rows, cols, overlapPx int) []image.Rectangle {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	tileH := height / rows
	tileW := width / cols

	tiles := make([]image.Rectangle, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			y0 := max(0, r*tileH-overlapPx)
			y1 := min(height, (r+1)*tileH+overlapPx)
			x0 := max(0, c*tileW-overlapPx)
			x1 := min(width, (c+1)*tileW+overlapPx)
			rect := image.Rect(x0, y0, x1, y1)
			if rect.Empty() {
				continue
			}
			tiles = append(tiles, rect)
		}
	}
	return tiles
}

// ClusterNMS keeps the highest-confidence detection of each overlap
// cluster: sort by confidence descending (stable), take the head,
// drop everything overlapping it past iouThreshold, repeat. The result
// is ordered by descending confidence.
func ClusterNMS(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) <= 1 {
		return dets
	}
	remaining := make([]Detection, len(dets))
	copy(remaining, dets)
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].Confidence > remaining[j].Confidence
	})

	var kept []Detection
	for len(remaining) > 0 {
		head := remaining[0]
		kept = append(kept, head)
		next := remaining[:0]
		for _, det := range remaining[1:] {
			if IoU(head.Box, det.Box) < iouThreshold {
				next = append(next, det)
			}
		}
		remaining = next
	}
	return kept
}

// IoU is intersection-over-union of two pixel rectangles.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}
