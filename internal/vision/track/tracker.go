// Package track maintains per-video animal trajectories by associating
// detector boxes across frames on IoU overlap. Tracks confirm after a
// few consecutive hits and survive short misses, which filters detector
// flicker out of the counts downstream.
package track

import (
	"image"

	"github.com/pasture-data/herdsight/internal/config"
	"github.com/pasture-data/herdsight/internal/vision/detect"
)

// TrackState is the lifecycle state of a track.
type TrackState string

const (
	// TrackTentative tracks are newly created and not yet trusted.
	TrackTentative TrackState = "tentative"
	// TrackConfirmed tracks have enough consecutive hits to count.
	TrackConfirmed TrackState = "confirmed"
	// TrackLost tracks aged out and are removed from the active set.
	TrackLost TrackState = "lost"
)

// Assignment strategies.
const (
	AssignmentGreedy    = "greedy"
	AssignmentHungarian = "hungarian"
)

// historyCap bounds per-track box history.
const historyCap = 30

// lostGraceCap bounds how far frame skipping can stretch the
// lost-track grace period.
const lostGraceCap = 60

// Track is one animal's trajectory through the current video.
type Track struct {
	ID    int
	State TrackState

	// Box is the most recently matched detection box.
	Box image.Rectangle

	// History holds recent boxes, oldest first, capped at historyCap.
	History []image.Rectangle

	// Hits counts matched updates; Age counts updates since the last
	// match; LastFrame is the frame index of the last match.
	Hits      int
	Age       int
	LastFrame int
}

// StableBox averages the last (up to five) boxes componentwise. Feature
// extraction uses it so a single jittery detection does not shift the
// crop.
func (tr *Track) StableBox() image.Rectangle {
	n := len(tr.History)
	if n == 0 {
		return tr.Box
	}
	k := n
	if k > 5 {
		k = 5
	}
	var x0, y0, x1, y1 int
	for _, b := range tr.History[n-k:] {
		x0 += b.Min.X
		y0 += b.Min.Y
		x1 += b.Max.X
		y1 += b.Max.Y
	}
	return image.Rect(x0/k, y0/k, x1/k, y1/k)
}

// PrevBox returns the box before the current one, when the track has
// been matched at least twice. Motion features come from it.
func (tr *Track) PrevBox() (image.Rectangle, bool) {
	if len(tr.History) < 2 {
		return image.Rectangle{}, false
	}
	return tr.History[len(tr.History)-2], true
}

func (tr *Track) pushHistory(b image.Rectangle) {
	tr.History = append(tr.History, b)
	if len(tr.History) > historyCap {
		tr.History = tr.History[1:]
	}
}

// Config tunes the tracker.
type Config struct {
	// MinHits is how many matches a track needs before it confirms.
	MinHits int
	// MaxAge is how many consecutive misses a track survives.
	MaxAge int
	// IoUThreshold is the minimum overlap for a match.
	IoUThreshold float64
	// Assignment picks the association strategy.
	Assignment string
	// Stride is the pipeline sampling stride; misses accumulate per
	// sampled frame, so the grace period scales with it.
	Stride int
}

// DefaultConfig returns the tuning used in production pastures.
func DefaultConfig() Config {
	return Config{
		MinHits:      3,
		MaxAge:       30,
		IoUThreshold: 0.3,
		Assignment:   AssignmentGreedy,
		Stride:       1,
	}
}

// ConfigFromTuning maps the shared tuning file onto a tracker Config.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MinHits:      cfg.GetTrackerMinHits(),
		MaxAge:       cfg.GetTrackerMaxAge(),
		IoUThreshold: cfg.GetTrackerIoUThreshold(),
		Assignment:   cfg.GetTrackerAssignment(),
		Stride:       cfg.GetFrameSkip(),
	}
}

// effectiveMaxAge widens the miss budget under frame skipping so a
// track survives the same wall-clock gap, capped at lostGraceCap.
func (c Config) effectiveMaxAge() int {
	if c.Stride <= 1 {
		return c.MaxAge
	}
	age := c.MaxAge * c.Stride
	if age > lostGraceCap {
		age = lostGraceCap
		if c.MaxAge > age {
			age = c.MaxAge
		}
	}
	return age
}

// Tracker associates detections to tracks frame by frame. Not safe for
// concurrent use; every processing job owns its own.
type Tracker struct {
	cfg        Config
	tracks     []*Track
	nextID     int
	lastAssign []int
}

// NewTracker builds a Tracker. Zero-value config fields fall back to
// defaults.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.MinHits <= 0 {
		cfg.MinHits = def.MinHits
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = def.IoUThreshold
	}
	if cfg.Assignment == "" {
		cfg.Assignment = def.Assignment
	}
	if cfg.Stride <= 0 {
		cfg.Stride = def.Stride
	}
	return &Tracker{cfg: cfg, nextID: 1}
}

// Update advances all tracks by one sampled frame and returns the
// confirmed set, ordered by track ID. The returned pointers stay valid
// until the next Update.
func (t *Tracker) Update(frameIdx int, dets []detect.Detection) []*Track {
	// 1. Score all track/detection pairs.
	iou := make([][]float64, len(t.tracks))
	for i, tr := range t.tracks {
		row := make([]float64, len(dets))
		for j, det := range dets {
			row[j] = detect.IoU(tr.Box, det.Box)
		}
		iou[i] = row
	}

	// 2. Associate.
	var assign []int
	if t.cfg.Assignment == AssignmentHungarian {
		assign = assignHungarian(iou, t.cfg.IoUThreshold)
	} else {
		assign = assignGreedy(iou, t.cfg.IoUThreshold)
	}

	t.lastAssign = make([]int, len(dets))
	matchedDet := make([]bool, len(dets))

	// 3. Update matched tracks: reset age, advance hit count, promote.
	for i, tr := range t.tracks {
		j := assign[i]
		if j < 0 {
			continue
		}
		matchedDet[j] = true
		tr.Hits++
		tr.Age = 0
		tr.Box = dets[j].Box
		tr.LastFrame = frameIdx
		tr.pushHistory(dets[j].Box)
		if tr.State == TrackTentative && tr.Hits >= t.cfg.MinHits {
			tr.State = TrackConfirmed
		}
		t.lastAssign[j] = tr.ID
	}

	// 4. Age unmatched tracks and drop the ones past the grace period.
	maxAge := t.cfg.effectiveMaxAge()
	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if assign[i] < 0 {
			tr.Age++
			if tr.Age > maxAge {
				tr.State = TrackLost
			}
		}
		if tr.State != TrackLost {
			kept = append(kept, tr)
		}
	}
	t.tracks = kept

	// 5. Open tentative tracks for leftover detections, in detection
	// order so IDs stay deterministic.
	for j, det := range dets {
		if matchedDet[j] {
			continue
		}
		tr := &Track{
			ID:        t.nextID,
			State:     TrackTentative,
			Box:       det.Box,
			Hits:      1,
			LastFrame: frameIdx,
		}
		tr.pushHistory(det.Box)
		if tr.Hits >= t.cfg.MinHits {
			tr.State = TrackConfirmed
		}
		t.nextID++
		t.tracks = append(t.tracks, tr)
		t.lastAssign[j] = tr.ID
	}

	// 6. Report the confirmed set.
	var confirmed []*Track
	for _, tr := range t.tracks {
		if tr.State == TrackConfirmed {
			confirmed = append(confirmed, tr)
		}
	}
	return confirmed
}

// Assignments returns, for each detection passed to the last Update,
// the ID of the track it was folded into. Detection persistence uses it
// to attribute boxes to animals.
func (t *Tracker) Assignments() []int {
	return t.lastAssign
}

// ActiveCount reports how many tracks are alive in any state.
func (t *Tracker) ActiveCount() int {
	return len(t.tracks)
}
