package detect

import (
	"errors"
	"image"
	"testing"

	"gocv.io/x/gocv"

	"github.com/pasture-data/herdsight/internal/config"
)

func TestClassifyDensity(t *testing.T) {
	cases := []struct {
		count int
		want  string
	}{
		{0, DensitySparse},
		{9, DensitySparse},
		{10, DensityModerate},
		{29, DensityModerate},
		{30, DensityDense},
		{59, DensityDense},
		{60, DensityCrowded},
		{99, DensityCrowded},
		{100, DensityExtreme},
		{400, DensityExtreme},
	}
	for _, tc := range cases {
		if got := ClassifyDensity(tc.count); got != tc.want {
			t.Errorf("ClassifyDensity(%d) = %q, want %q", tc.count, got, tc.want)
		}
	}
}

func TestUncertaintyScore(t *testing.T) {
	cases := []struct {
		count      int
		lowQuality bool
		want       float64
	}{
		{5, false, 10},
		{5, true, 30},
		{46, false, 20},
		{46, true, 40},
		{45, false, 10}, // threshold is strictly greater-than
	}
	for _, tc := range cases {
		if got := UncertaintyScore(tc.count, tc.lowQuality); got != tc.want {
			t.Errorf("UncertaintyScore(%d, %v) = %v, want %v", tc.count, tc.lowQuality, got, tc.want)
		}
	}
}

func TestIoU(t *testing.T) {
	a := image.Rect(0, 0, 10, 10)

	if got := IoU(a, a); got != 1.0 {
		t.Errorf("identical boxes IoU = %v, want 1.0", got)
	}
	if got := IoU(a, image.Rect(20, 20, 30, 30)); got != 0 {
		t.Errorf("disjoint boxes IoU = %v, want 0", got)
	}
	// Half-overlapping: inter 50, union 150.
	got := IoU(a, image.Rect(5, 0, 15, 10))
	want := 50.0 / 150.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("half overlap IoU = %v, want %v", got, want)
	}
}

func TestClusterNMS_SuppressesOverlaps(t *testing.T) {
	dets := []Detection{
		{Box: image.Rect(0, 0, 100, 100), Confidence: 0.6},
		{Box: image.Rect(2, 2, 102, 102), Confidence: 0.9}, // near-duplicate, higher conf
		{Box: image.Rect(300, 300, 400, 400), Confidence: 0.5},
	}
	kept := ClusterNMS(dets, 0.75)
	if len(kept) != 2 {
		t.Fatalf("expected 2 survivors, got %d: %v", len(kept), kept)
	}
	if kept[0].Confidence != 0.9 {
		t.Errorf("highest-confidence detection should survive first, got %v", kept[0])
	}
	if kept[1].Confidence != 0.5 {
		t.Errorf("disjoint detection should survive, got %v", kept[1])
	}
}

func TestClusterNMS_KeepsPartialOverlapsBelowThreshold(t *testing.T) {
	// IoU of these two is 50/150 ≈ 0.33, well under 0.75.
	dets := []Detection{
		{Box: image.Rect(0, 0, 10, 10), Confidence: 0.8},
		{Box: image.Rect(5, 0, 15, 10), Confidence: 0.7},
	}
	kept := ClusterNMS(dets, 0.75)
	if len(kept) != 2 {
		t.Fatalf("partial overlaps below threshold must both survive, got %d", len(kept))
	}
}

func TestClusterNMS_StableOnEqualConfidence(t *testing.T) {
	// Two identical-confidence near-duplicates: the earlier one wins.
	dets := []Detection{
		{Box: image.Rect(0, 0, 100, 100), Confidence: 0.5, Class: "first"},
		{Box: image.Rect(1, 1, 101, 101), Confidence: 0.5, Class: "second"},
	}
	kept := ClusterNMS(dets, 0.75)
	if len(kept) != 1 || kept[0].Class != "first" {
		t.Fatalf("tie should keep the earlier detection, got %v", kept)
	}
}

func TestTileRects_SingleTileCoversFrame(t *testing.T) {
	tiles := TileRects(640, 480, 1, 1, 60)
	if len(tiles) != 1 {
		t.Fatalf("expected 1 tile, got %d", len(tiles))
	}
	if tiles[0] != image.Rect(0, 0, 640, 480) {
		t.Errorf("1x1 tile = %v, want full frame", tiles[0])
	}
}

func TestTileRects_OverlapAndClamp(t *testing.T) {
	tiles := TileRects(640, 480, 2, 2, 60)
	want := []image.Rectangle{
		image.Rect(0, 0, 380, 300),
		image.Rect(260, 0, 640, 300),
		image.Rect(0, 180, 380, 480),
		image.Rect(260, 180, 640, 480),
	}
	if len(tiles) != len(want) {
		t.Fatalf("expected %d tiles, got %d", len(want), len(tiles))
	}
	frame := image.Rect(0, 0, 640, 480)
	for i, tile := range tiles {
		if tile != want[i] {
			t.Errorf("tile %d = %v, want %v", i, tile, want[i])
		}
		if !tile.In(frame) {
			t.Errorf("tile %d = %v extends past the frame", i, tile)
		}
	}
}

// stubBackend reports one fixed region-local detection per tile.
type stubBackend struct {
	det  Detection
	err  error
	seen []float64 // confidence floors observed, in call order
}

func (s *stubBackend) Infer(region gocv.Mat, confFloor float64) ([]Detection, error) {
	s.seen = append(s.seen, confFloor)
	if s.err != nil {
		return nil, s.err
	}
	return []Detection{s.det}, nil
}

func (s *stubBackend) Close() error { return nil }

// scriptedBackend returns a fixed response per tile inference, keyed
// by call order: 1 call for the 1x1 grid, then 4, 9, and 16.
type scriptedBackend struct {
	byCall map[int][]Detection
	calls  int
}

func (s *scriptedBackend) Infer(region gocv.Mat, confFloor float64) ([]Detection, error) {
	dets := s.byCall[s.calls]
	s.calls++
	return dets, nil
}

func (s *scriptedBackend) Close() error { return nil }

func TestTiledDetect_PoolsAllGridsBeforeNMS(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	// The full-frame pass sees one large foreground animal that the fine
	// tiles chop up; the 4x4 pass sees a small animal in every tile. A
	// faithful merge keeps all of them: the scales complement each other.
	large := Detection{Box: image.Rect(100, 100, 400, 400), Confidence: 0.9, Class: "goat"}
	backend := &scriptedBackend{byCall: map[int][]Detection{0: {large}}}
	for call := 14; call < 30; call++ {
		backend.byCall[call] = []Detection{{Box: image.Rect(2, 2, 20, 20), Confidence: 0.3, Class: "goat"}}
	}
	d := New(backend, config.DefaultTuningConfig())

	dets, method, err := d.tiledDetect(frame)
	if err != nil {
		t.Fatalf("tiledDetect: %v", err)
	}
	if backend.calls != 30 {
		t.Fatalf("expected 30 tile inferences, got %d", backend.calls)
	}
	if len(dets) != 17 {
		t.Fatalf("expected 1 coarse + 16 fine detections after pooled NMS, got %d", len(dets))
	}
	if dets[0].Confidence != 0.9 || dets[0].Grid != "grid_1x1" {
		t.Errorf("coarse detection must survive the merge, got %+v", dets[0])
	}
	if method != "grid_4x4" {
		t.Errorf("method = %q, want grid_4x4 (finest contributing grid)", method)
	}
	bounds := image.Rect(0, 0, 640, 480)
	for _, det := range dets {
		if !det.Box.In(bounds) {
			t.Errorf("detection %v escapes frame bounds", det.Box)
		}
	}
}

func TestTiledDetect_CollapsesCrossScaleDuplicates(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	// The same animal found by two grids is one animal: the pooled NMS
	// keeps the higher-confidence sighting. Call 1 is the first 2x2
	// tile, whose origin is (0,0), so its region-local box projects to
	// the same frame box the full-frame pass reported.
	box := image.Rect(100, 100, 400, 299)
	backend := &scriptedBackend{byCall: map[int][]Detection{
		0: {{Box: box, Confidence: 0.9, Class: "goat"}},
		1: {{Box: box, Confidence: 0.6, Class: "goat"}},
	}}
	d := New(backend, config.DefaultTuningConfig())

	dets, method, err := d.tiledDetect(frame)
	if err != nil {
		t.Fatalf("tiledDetect: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("duplicate across scales must collapse to one, got %d", len(dets))
	}
	if dets[0].Confidence != 0.9 || dets[0].Grid != "grid_1x1" {
		t.Errorf("higher-confidence sighting should win, got %+v", dets[0])
	}
	if method != "grid_1x1" {
		t.Errorf("method = %q, want grid_1x1", method)
	}
}

func TestTiledDetect_ConfidenceFloorsPerGrid(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	backend := &stubBackend{det: Detection{Box: image.Rect(0, 0, 10, 10), Confidence: 0.5}}
	d := New(backend, config.DefaultTuningConfig())

	if _, _, err := d.tiledDetect(frame); err != nil {
		t.Fatalf("tiledDetect: %v", err)
	}
	// 1 + 4 coarse tiles at 0.12, then 9 + 16 fine tiles at 0.05.
	if len(backend.seen) != 30 {
		t.Fatalf("expected 30 tile inferences, got %d", len(backend.seen))
	}
	for i, floor := range backend.seen {
		want := 0.12
		if i >= 5 {
			want = 0.05
		}
		if floor != want {
			t.Errorf("tile %d floor = %v, want %v", i, floor, want)
		}
	}
}

func TestTiledDetect_BackendErrorPropagates(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	boom := errors.New("inference node offline")
	d := New(&stubBackend{err: boom}, config.DefaultTuningConfig())

	_, _, err := d.tiledDetect(frame)
	if !errors.Is(err, boom) {
		t.Fatalf("expected backend error to propagate, got %v", err)
	}
}

func TestFrameOccluded(t *testing.T) {
	cases := []struct {
		method string
		conf   float64
		want   bool
	}{
		{"grid_1x1", 0.9, false},
		{"grid_2x2", 0.9, true},
		{"grid_1x1", 0.1, true},
		{"fallback", 0.4, false},
	}
	for _, tc := range cases {
		dets := []Detection{{Confidence: tc.conf}}
		if got := frameOccluded(tc.method, dets); got != tc.want {
			t.Errorf("frameOccluded(%q, conf=%v) = %v, want %v", tc.method, tc.conf, got, tc.want)
		}
	}
}
