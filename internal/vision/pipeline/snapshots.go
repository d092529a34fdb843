package pipeline

import (
	"sort"

	"gocv.io/x/gocv"

	"github.com/pasture-data/herdsight/internal/vision/detect"
)

// snapshot is one frame retained in memory for evidence rendering,
// together with everything needed to annotate it after the job ends.
type snapshot struct {
	frameIdx int
	count    int
	density  string
	mat      gocv.Mat
	dets     []detect.Detection
	trackIDs []int
	bytes    int64
}

// snapshotBuffer keeps the densest frames of a running job in memory,
// bounded by frame count and total pixel bytes. Frames below the
// running peak count are rejected outright, so the buffer follows the
// peak-density window of the video.
type snapshotBuffer struct {
	byteLimit int64
	peakCount int
	peakFrame int
	total     int64
	snaps     []*snapshot
}

func newSnapshotBuffer(byteLimit int64) *snapshotBuffer {
	return &snapshotBuffer{byteLimit: byteLimit}
}

// Offer considers a frame for retention. The mat is cloned only when
// the frame is actually kept; detections and track IDs are copied so
// callers may reuse their slices.
func (b *snapshotBuffer) Offer(frameIdx, count int, frame gocv.Mat, dets []detect.Detection, trackIDs []int, density string) {
	if count < b.peakCount {
		return
	}
	if count > b.peakCount {
		b.peakCount = count
		b.peakFrame = frameIdx
	}
	if len(b.snaps) >= maxRetainedFrames && count <= b.lowestCount() {
		return
	}

	clone := frame.Clone()
	snap := &snapshot{
		frameIdx: frameIdx,
		count:    count,
		density:  density,
		mat:      clone,
		dets:     append([]detect.Detection(nil), dets...),
		trackIDs: append([]int(nil), trackIDs...),
		bytes:    int64(clone.Total()) * int64(clone.ElemSize()),
	}
	b.snaps = append(b.snaps, snap)
	b.total += snap.bytes
	b.evict()
}

// Peak reports the first frame index that reached the highest count
// seen so far, and that count.
func (b *snapshotBuffer) Peak() (frame, count int) {
	return b.peakFrame, b.peakCount
}

// Frames returns the retained snapshots in frame order. The mats stay
// owned by the buffer.
func (b *snapshotBuffer) Frames() []*snapshot {
	out := append([]*snapshot(nil), b.snaps...)
	sort.Slice(out, func(i, j int) bool { return out[i].frameIdx < out[j].frameIdx })
	return out
}

// Close releases every retained mat.
func (b *snapshotBuffer) Close() {
	for _, s := range b.snaps {
		s.mat.Close()
	}
	b.snaps = nil
	b.total = 0
}

// evict drops the weakest snapshots until both caps hold. The byte cap
// never evicts the last remaining snapshot.
func (b *snapshotBuffer) evict() {
	for len(b.snaps) > maxRetainedFrames || (b.byteLimit > 0 && b.total > b.byteLimit && len(b.snaps) > 1) {
		idx := b.victim()
		if idx < 0 {
			return
		}
		s := b.snaps[idx]
		b.total -= s.bytes
		s.mat.Close()
		b.snaps = append(b.snaps[:idx], b.snaps[idx+1:]...)
	}
}

// victim picks the lowest-count snapshot, breaking ties toward the
// newest frame. The peak frame is spared while alternatives exist.
func (b *snapshotBuffer) victim() int {
	idx := -1
	for i, s := range b.snaps {
		if s.frameIdx == b.peakFrame && len(b.snaps) > 1 {
			continue
		}
		if idx == -1 || s.count < b.snaps[idx].count ||
			(s.count == b.snaps[idx].count && s.frameIdx > b.snaps[idx].frameIdx) {
			idx = i
		}
	}
	return idx
}

func (b *snapshotBuffer) lowestCount() int {
	low := -1
	for _, s := range b.snaps {
		if low < 0 || s.count < low {
			low = s.count
		}
	}
	return low
}
