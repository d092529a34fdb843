package pipeline

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/pasture-data/herdsight/internal/vision/detect"
)

func testMat(t *testing.T) gocv.Mat {
	t.Helper()
	mat := gocv.NewMatWithSize(24, 32, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { mat.Close() })
	return mat
}

func retainedIndexes(b *snapshotBuffer) []int {
	snaps := b.Frames()
	out := make([]int, len(snaps))
	for i, s := range snaps {
		out[i] = s.frameIdx
	}
	return out
}

func TestSnapshotBufferTracksFirstPeak(t *testing.T) {
	buf := newSnapshotBuffer(0)
	defer buf.Close()
	mat := testMat(t)

	buf.Offer(0, 3, mat, nil, nil, "sparse")
	buf.Offer(1, 5, mat, nil, nil, "sparse")
	buf.Offer(2, 5, mat, nil, nil, "sparse")
	buf.Offer(3, 2, mat, nil, nil, "sparse")

	frame, count := buf.Peak()
	assert.Equal(t, 1, frame, "the first frame reaching the peak wins")
	assert.Equal(t, 5, count)
	assert.Equal(t, []int{0, 1, 2}, retainedIndexes(buf), "below-peak frames are rejected")
}

func TestSnapshotBufferCapsRetention(t *testing.T) {
	buf := newSnapshotBuffer(0)
	defer buf.Close()
	mat := testMat(t)

	for i := 0; i < 7; i++ {
		buf.Offer(i, i+1, mat, nil, nil, "sparse")
	}

	assert.Equal(t, []int{2, 3, 4, 5, 6}, retainedIndexes(buf))
	frame, count := buf.Peak()
	assert.Equal(t, 6, frame)
	assert.Equal(t, 7, count)
}

func TestSnapshotBufferStopsCloningAtFlatPeak(t *testing.T) {
	buf := newSnapshotBuffer(0)
	defer buf.Close()
	mat := testMat(t)

	for i := 0; i < 9; i++ {
		buf.Offer(i, 4, mat, nil, nil, "sparse")
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, retainedIndexes(buf), "a flat peak keeps the first frames without churn")
}

func TestSnapshotBufferEvictsNewestOnTies(t *testing.T) {
	buf := newSnapshotBuffer(0)
	defer buf.Close()
	mat := testMat(t)

	for i := 0; i < 5; i++ {
		buf.Offer(i, 5, mat, nil, nil, "moderate")
	}
	buf.Offer(5, 6, mat, nil, nil, "moderate")

	assert.Equal(t, []int{0, 1, 2, 3, 5}, retainedIndexes(buf), "ties evict the newest duplicate")
}

func TestSnapshotBufferByteLimitSparesPeak(t *testing.T) {
	mat := testMat(t)
	matBytes := int64(mat.Total()) * int64(mat.ElemSize())

	buf := newSnapshotBuffer(2*matBytes + 1)
	defer buf.Close()

	buf.Offer(0, 2, mat, nil, nil, "sparse")
	buf.Offer(1, 3, mat, nil, nil, "sparse")
	buf.Offer(2, 4, mat, nil, nil, "sparse")

	assert.Equal(t, []int{1, 2}, retainedIndexes(buf))
	frame, count := buf.Peak()
	assert.Equal(t, 2, frame)
	assert.Equal(t, 4, count)
}

func TestSnapshotBufferByteLimitKeepsLastSnapshot(t *testing.T) {
	buf := newSnapshotBuffer(1)
	defer buf.Close()
	mat := testMat(t)

	buf.Offer(0, 1, mat, nil, nil, "sparse")

	assert.Len(t, buf.Frames(), 1, "the byte cap never evicts the only snapshot")
}

func TestSnapshotBufferCopiesDetections(t *testing.T) {
	buf := newSnapshotBuffer(0)
	defer buf.Close()
	mat := testMat(t)

	dets := []detect.Detection{{Box: image.Rect(1, 2, 11, 12), Confidence: 0.7, Class: "goat"}}
	ids := []int{9}
	buf.Offer(0, 1, mat, dets, ids, "sparse")
	dets[0].Confidence = 0
	ids[0] = 0

	snaps := buf.Frames()
	require.Len(t, snaps, 1)
	assert.InDelta(t, 0.7, snaps[0].dets[0].Confidence, 1e-9, "the buffer must not alias caller slices")
	assert.Equal(t, 9, snaps[0].trackIDs[0])
}

func TestSnapshotBufferClose(t *testing.T) {
	buf := newSnapshotBuffer(0)
	mat := testMat(t)
	buf.Offer(0, 1, mat, nil, nil, "sparse")

	buf.Close()
	assert.Empty(t, buf.Frames())
}
