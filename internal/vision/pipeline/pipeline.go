// Package pipeline runs video analysis jobs end to end: decode, herd
// detection, tracking, identity resolution, count verification, and
// evidence generation. Every job transition lands on the video row and
// in the audit log before the call returns.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/pasture-data/herdsight/internal/config"
	"github.com/pasture-data/herdsight/internal/db"
	"github.com/pasture-data/herdsight/internal/fsutil"
	"github.com/pasture-data/herdsight/internal/vision/census"
	"github.com/pasture-data/herdsight/internal/vision/detect"
	"github.com/pasture-data/herdsight/internal/vision/evidence"
	"github.com/pasture-data/herdsight/internal/vision/reid"
	"github.com/pasture-data/herdsight/internal/vision/track"
	"github.com/pasture-data/herdsight/internal/vision/video"
)

// progressInterval is how many frames pass between persisted progress
// and counter updates.
const progressInterval = 50

// maxRetainedFrames bounds how many frames a job keeps in memory for
// evidence rendering.
const maxRetainedFrames = 5

// fallbackWarning is recorded on jobs that ran without the neural
// backend. noBackendWarning is its counterpart for deployments that
// never configured one.
const (
	fallbackWarning  = "neural detector unavailable; counts rely on the classical fallback (reduced accuracy)"
	noBackendWarning = "no neural detector configured; counts rely on the classical fallback (reduced accuracy)"
)

// Config wires a Processor's collaborators. Store, Tuning, Engine and
// Evidence are required; the rest default to production behavior.
type Config struct {
	Store    *db.DB
	Tuning   *config.TuningConfig
	Engine   *reid.Engine
	Evidence *evidence.Generator

	// NewBackend builds the per-job neural detector backend. Both a
	// nil factory and a factory error select the classical fallback
	// and record a warning on the job so consumers can see the
	// degraded accuracy.
	NewBackend func() (detect.Backend, error)

	// OpenSource opens the frame source for a video file. Defaults to
	// video.OpenFile. Tests substitute synthetic sources.
	OpenSource func(path string) (video.FrameSource, error)

	// Notify receives progress snapshots as jobs advance. Optional; a
	// nil hook drops them. Called from worker goroutines, so the hook
	// must not block.
	Notify func(ProgressUpdate)

	// FS stats uploads for their on-disk size. Defaults to the OS
	// filesystem.
	FS fsutil.FileSystem
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
// This handles the Go interface nil pitfall where interface{} != nil but the underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Processor executes video jobs. One Processor is shared by all
// workers; everything mutable is local to a Process call, so it is safe
// for concurrent use.
type Processor struct {
	store      *db.DB
	tuning     *config.TuningConfig
	engine     *reid.Engine
	evidence   *evidence.Generator
	verifier   *census.Verifier
	newBackend func() (detect.Backend, error)
	openSource func(path string) (video.FrameSource, error)
	notify     func(ProgressUpdate)
	fs         fsutil.FileSystem
}

// New validates cfg and builds a Processor.
func New(cfg Config) (*Processor, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline: Store is required")
	}
	if cfg.Tuning == nil {
		return nil, errors.New("pipeline: Tuning is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("pipeline: Engine is required")
	}
	if cfg.Evidence == nil {
		return nil, errors.New("pipeline: Evidence is required")
	}

	p := &Processor{
		store:      cfg.Store,
		tuning:     cfg.Tuning,
		engine:     cfg.Engine,
		evidence:   cfg.Evidence,
		verifier:   census.New(0),
		newBackend: cfg.NewBackend,
		openSource: cfg.OpenSource,
		notify:     cfg.Notify,
		fs:         cfg.FS,
	}
	if p.openSource == nil {
		p.openSource = func(path string) (video.FrameSource, error) {
			return video.OpenFile(path)
		}
	}
	if isNilInterface(p.fs) {
		p.fs = fsutil.OSFileSystem{}
	}
	return p, nil
}

// JobResult summarizes one finished job. The same numbers land on the
// video row; the struct spares synchronous callers a re-read.
type JobResult struct {
	VideoID           string                     `json:"video_id"`
	Status            string                     `json:"status"`
	FramesTotal       int                        `json:"total_frames"`
	FramesProcessed   int                        `json:"frames_processed"`
	UniqueDetected    int                        `json:"unique_goats_detected"`
	UniqueMatched     int                        `json:"existing_goats_matched"`
	UniqueRegistered  int                        `json:"new_goats_registered"`
	ProcessingSeconds float64                    `json:"processing_time_seconds"`
	Errors            []string                   `json:"errors,omitempty"`
	Warnings          []string                   `json:"warnings,omitempty"`
	Verification      *census.VerificationResult `json:"count_verification,omitempty"`
}

// jobState carries one job's in-memory accumulators across frames. The
// Processor owns it exclusively for the duration of a Process call.
type jobState struct {
	samples     []census.Sample
	densities   map[int]string
	trackAnimal map[int]int64
	seen        map[int64]bool
	pending     []pendingDetection
	analyzed    int
	occluded    int
	matched     int
	registered  int
}

// pendingDetection is a detection awaiting batch persistence, held
// until the job ends so late identity resolutions still attribute it.
type pendingDetection struct {
	frameIdx  int
	timestamp float64
	box       image.Rectangle
	conf      float64
	class     string
	trackID   int
}

type detectionMeta struct {
	TrackID int    `json:"track_id"`
	Class   string `json:"class,omitempty"`
}

// Process runs the full job protocol for one uploaded video: mark
// Processing, decode and analyze every frame, persist detections and
// identities, verify the count, write evidence, and finalize the row.
// Failures are classified onto the video row before the error returns,
// so callers that only watch the row may discard it.
func (p *Processor) Process(ctx context.Context, videoID, path string) (*JobResult, error) {
	start := time.Now()
	res := &JobResult{VideoID: videoID, Status: db.VideoStatusFailed}

	if err := p.store.MarkVideoProcessing(videoID); err != nil {
		return res, fmt.Errorf("failed to mark video %s processing: %w", videoID, err)
	}
	p.audit(db.AuditCategoryVideo, "video", videoID, db.AuditVideoProcessing, "processing started: "+path)
	p.publish(ProgressUpdate{VideoID: videoID, Status: db.VideoStatusProcessing})
	diagf("job %s: started on %s", videoID, path)

	err := p.run(ctx, videoID, path, res)
	res.ProcessingSeconds = round2(time.Since(start).Seconds())

	if err != nil {
		msg := FaultMessage(err)
		res.Errors = append(res.Errors, msg)
		if dbErr := p.store.MarkVideoFailed(videoID, msg); dbErr != nil {
			opsf("job %s: persisting failure state failed: %v", videoID, dbErr)
		}
		p.audit(db.AuditCategoryVideo, "video", videoID, db.AuditVideoFailed, msg)
		p.publish(ProgressUpdate{
			VideoID:         videoID,
			Status:          db.VideoStatusFailed,
			FramesProcessed: res.FramesProcessed,
			UniqueGoats:     res.UniqueDetected,
			Error:           msg,
		})
		opsf("job %s: failed after %.1fs: %s", videoID, res.ProcessingSeconds, msg)
		return res, err
	}

	p.audit(db.AuditCategoryVideo, "video", videoID, db.AuditVideoCompleted,
		fmt.Sprintf("%s: %d frames, %d unique goats (%d new), %.1fs",
			res.Status, res.FramesProcessed, res.UniqueDetected, res.UniqueRegistered, res.ProcessingSeconds))
	p.publish(ProgressUpdate{
		VideoID:         videoID,
		Status:          res.Status,
		Progress:        100,
		FramesProcessed: res.FramesProcessed,
		UniqueGoats:     res.UniqueDetected,
	})
	diagf("job %s: %s in %.1fs: %d unique goats, %d matched, %d new",
		videoID, res.Status, res.ProcessingSeconds, res.UniqueDetected, res.UniqueMatched, res.UniqueRegistered)
	return res, nil
}

// run is the job body. Any returned error fails the job; Process
// classifies it onto the row.
func (p *Processor) run(ctx context.Context, videoID, path string, res *JobResult) error {
	// Stage 1: open and probe the source.
	src, err := p.openSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	meta := src.Meta()
	res.FramesTotal = meta.FrameCount

	var fileSize int64
	if fi, statErr := p.fs.Stat(path); statErr == nil {
		fileSize = fi.Size()
	}
	if err := p.store.SetVideoMedia(videoID, meta.Duration, meta.FPS, meta.Resolution(), fileSize); err != nil {
		return fmt.Errorf("failed to record media properties: %w", err)
	}
	diagf("job %s: %s, %.1f fps, %d frames, %.1fs", videoID, meta.Resolution(), meta.FPS, meta.FrameCount, meta.Duration)

	// Stage 2: build the per-job processing stack.
	detector, warn := p.buildDetector(videoID)
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}
	defer detector.Close()

	tracker := track.NewTracker(track.ConfigFromTuning(p.tuning))
	session := p.engine.NewSession()
	extractor := reid.NewExtractor(p.tuning.GetFeatureVersion())
	stride := p.tuning.GetFrameSkip()
	if stride < 1 {
		stride = 1
	}

	st := &jobState{
		densities:   make(map[int]string),
		trackAnimal: make(map[int]int64),
		seen:        make(map[int64]bool),
	}
	retain := newSnapshotBuffer(p.tuning.GetSnapshotByteLimit())
	defer retain.Close()

	// Stage 3: the frame loop. Cancellation is honored at frame
	// boundaries; once the stream ends the job runs to completion.
	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ProcessingFault{Frame: res.FramesProcessed, Err: err}
		}
		res.FramesProcessed = frame.Index + 1

		if frame.Index%stride == 0 {
			// Stage 3a: detect.
			fr, err := detector.DetectFrame(frame.Mat, frame.Index)
			if err != nil {
				return &ProcessingFault{Frame: frame.Index, Err: err}
			}
			st.analyzed++
			count := len(fr.Detections)
			st.samples = append(st.samples, census.Sample{
				FrameIndex:  frame.Index,
				Count:       count,
				Uncertainty: fr.Uncertainty,
			})
			st.densities[frame.Index] = fr.Density
			if fr.Occluded {
				st.occluded++
			}

			// Stage 3b: track, and queue every box for persistence.
			tracks := tracker.Update(frame.Index, fr.Detections)
			assignments := tracker.Assignments()
			for i, det := range fr.Detections {
				st.pending = append(st.pending, pendingDetection{
					frameIdx:  frame.Index,
					timestamp: frame.TimestampSec,
					box:       det.Box,
					conf:      det.Confidence,
					class:     det.Class,
					trackID:   assignments[i],
				})
			}

			// Stage 3c: resolve identities for confirmed tracks.
			if err := p.resolveIdentities(ctx, videoID, frame, tracks, session, extractor, st); err != nil {
				return err
			}

			// Stage 3d: retain high-density frames for evidence.
			retain.Offer(frame.Index, count, frame.Mat, fr.Detections, assignments, fr.Density)

			tracef("job %s: frame %d: %d detections (%s, %s), %d active tracks",
				videoID, frame.Index, count, fr.Method, fr.Density, tracker.ActiveCount())
		}

		if res.FramesProcessed%progressInterval == 0 {
			if err := p.heartbeat(videoID, res.FramesProcessed, meta.FrameCount, len(st.seen)); err != nil {
				return err
			}
			_, peak := retain.Peak()
			diagf("job %s: frame %d/%d, unique goats %d, peak %d",
				videoID, res.FramesProcessed, meta.FrameCount, len(st.seen), peak)
		}
	}

	res.UniqueDetected = len(st.seen)
	res.UniqueMatched = st.matched
	res.UniqueRegistered = st.registered

	// Stage 4: persist detections in frame order with resolved IDs.
	rows := buildDetectionRows(videoID, st)
	if err := p.store.InsertDetections(videoID, rows); err != nil {
		return fmt.Errorf("failed to persist detections: %w", err)
	}

	// Stage 5: verify the count. An empty video is a completion that
	// reports zero confidence, not a failure.
	verification, verr := p.verifier.Verify(st.samples, census.VideoInfo{
		Width:          meta.Width,
		Height:         meta.Height,
		SamplingStride: stride,
	})
	if verr != nil {
		if !errors.Is(verr, census.ErrNoDetections) {
			return fmt.Errorf("count verification: %w", verr)
		}
		res.Warnings = append(res.Warnings, "no frames analyzed; count verification skipped")
		opsf("job %s: %v", videoID, verr)
	}
	res.Verification = verification

	// Stage 6: evidence artifacts and per-goat gallery.
	peakFrame, peakCount := retain.Peak()
	occludedFraction := 0.0
	if st.analyzed > 0 {
		occludedFraction = float64(st.occluded) / float64(st.analyzed)
	}
	art, err := p.evidence.Generate(evidence.JobSummary{
		VideoID:          videoID,
		Samples:          st.samples,
		Densities:        st.densities,
		Verification:     verification,
		PeakFrame:        peakFrame,
		UniqueTracked:    len(st.seen),
		UniqueMatched:    st.matched,
		UniqueRegistered: st.registered,
		OccludedFraction: occludedFraction,
	}, retainedFrames(retain, st))
	if err != nil {
		return fmt.Errorf("failed to generate evidence: %w", err)
	}

	entries := make([]evidence.GalleryEntry, 0, len(st.seen))
	for _, animalID := range sortedAnimalIDs(st.seen) {
		entries = append(entries, evidence.GalleryEntryFor(videoID, animalID))
	}
	if err := p.evidence.WriteGallery(videoID, entries); err != nil {
		return fmt.Errorf("failed to write gallery: %w", err)
	}
	p.audit(db.AuditCategoryEvidence, "video", videoID, db.AuditEvidenceGenerated,
		fmt.Sprintf("%d key frames, %d profiles, %s", len(art.KeyFrames), len(entries), art.Dir))

	// Stage 7: finalize the row. Progress pins to 100 here and only
	// here.
	metaJSON, err := buildCompletionMetadata(verification, len(st.seen), peakCount, art.Dir)
	if err != nil {
		return err
	}
	status := db.VideoStatusCompleted
	if len(res.Warnings) > 0 || (verification != nil && !verification.Reliable) {
		status = db.VideoStatusCompletedWithWarnings
	}
	if err := p.store.CompleteVideo(videoID, status,
		int64(res.FramesProcessed), int64(len(rows)), int64(len(st.seen)), &metaJSON); err != nil {
		return fmt.Errorf("failed to finalize video: %w", err)
	}
	res.Status = status
	return nil
}

// resolveIdentities observes every confirmed, still-anonymous track and
// resolves it against the registry once it has enough observations. A
// track resolves at most once per job.
func (p *Processor) resolveIdentities(ctx context.Context, videoID string, frame video.Frame, tracks []*track.Track, session *reid.Session, extractor *reid.Extractor, st *jobState) error {
	for _, tr := range tracks {
		if _, done := st.trackAnimal[tr.ID]; done {
			continue
		}

		var prev *image.Rectangle
		if pb, ok := tr.PrevBox(); ok {
			prev = &pb
		}
		vec, err := extractor.Extract(frame.Mat, tr.StableBox(), prev)
		if err != nil {
			diagf("job %s: frame %d: features for track %d failed: %v", videoID, frame.Index, tr.ID, err)
			continue
		}
		session.Observe(tr.ID, vec)

		resol, err := session.Resolve(ctx, tr.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &IdentityResolutionFault{TrackID: tr.ID, Err: err}
		}

		switch resol.Decision {
		case reid.DecisionPending:
			// Not enough observations yet; try again next frame.

		case reid.DecisionStrong, reid.DecisionWeak:
			st.trackAnimal[tr.ID] = resol.AnimalID
			first := !st.seen[resol.AnimalID]
			st.seen[resol.AnimalID] = true
			if first {
				st.matched++
				p.saveProfile(videoID, resol.AnimalID, frame, tr)
			}
			p.recordSighting(videoID, frame, tr, resol)
			session.ClearTrack(tr.ID)
			tracef("job %s: track %d -> goat %d (%s, %.3f)",
				videoID, tr.ID, resol.AnimalID, resol.Decision, resol.Similarity)

		case reid.DecisionNew:
			animal, err := session.Register(tr.ID)
			if err != nil {
				return &IdentityResolutionFault{TrackID: tr.ID, Err: err}
			}
			st.trackAnimal[tr.ID] = animal.ID
			st.seen[animal.ID] = true
			st.registered++
			p.recordRegistration(videoID, frame, tr, animal, resol.Similarity)
			p.saveProfile(videoID, animal.ID, frame, tr)
			diagf("job %s: frame %d: registered goat %d (%s) from track %d",
				videoID, frame.Index, animal.ID, animal.EarTag, tr.ID)
		}
	}
	return nil
}

// buildDetector assembles the per-job detector. A missing or failing
// backend downgrades to the classical path with a job warning.
func (p *Processor) buildDetector(videoID string) (*detect.Detector, string) {
	if p.newBackend == nil {
		return detect.New(nil, p.tuning), noBackendWarning
	}
	backend, err := p.newBackend()
	if err != nil {
		unavail := &DetectorBackendUnavailable{Err: err}
		opsf("job %s: %v", videoID, unavail)
		return detect.New(nil, p.tuning), fallbackWarning
	}
	return detect.New(backend, p.tuning), ""
}

// heartbeat persists progress and the running unique count. Progress
// caps at 99 mid-run; only successful completion writes 100.
func (p *Processor) heartbeat(videoID string, framesRead, total, unique int) error {
	if total <= 0 {
		return nil
	}
	progress := float64(100*framesRead) / float64(total)
	if progress > 99 {
		progress = 99
	}
	if err := p.store.UpdateVideoCounters(videoID, progress, int64(unique)); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	p.publish(ProgressUpdate{
		VideoID:         videoID,
		Status:          db.VideoStatusProcessing,
		Progress:        progress,
		FramesProcessed: framesRead,
		UniqueGoats:     unique,
	})
	return nil
}

// recordSighting persists a match as an event plus an audit row. Event
// metadata carries similarity and decision for the match-quality
// charts.
func (p *Processor) recordSighting(videoID string, frame video.Frame, tr *track.Track, resol reid.Resolution) {
	animalID := resol.AnimalID
	vid := videoID
	desc := fmt.Sprintf("%s at frame %d with similarity %.3f", resol.Decision, frame.Index, resol.Similarity)
	metaStr := eventMetadata(tr.ID, frame.Index, resol.Decision, resol.Similarity, p.tuning.GetFeatureVersion())
	ev := &db.Event{
		AnimalID:    &animalID,
		VideoID:     &vid,
		EventType:   db.EventTypeSighting,
		Severity:    db.SeverityLow,
		Title:       "Goat Re-identified",
		Description: &desc,
		Metadata:    &metaStr,
	}
	if err := p.store.InsertEvent(ev); err != nil {
		opsf("job %s: sighting event for goat %d failed: %v", videoID, animalID, err)
	}
	p.audit(db.AuditCategoryIdentity, "animal", strconv.FormatInt(animalID, 10), db.AuditSightingRecorded,
		fmt.Sprintf("%s in video %s (similarity %.3f)", resol.Decision, videoID, resol.Similarity))
}

// recordRegistration persists a registration event plus its audit row.
func (p *Processor) recordRegistration(videoID string, frame video.Frame, tr *track.Track, animal *db.Animal, similarity float64) {
	vid := videoID
	desc := fmt.Sprintf("first seen at frame %d, ear tag %s", frame.Index, animal.EarTag)
	metaStr := eventMetadata(tr.ID, frame.Index, reid.DecisionNew, similarity, p.tuning.GetFeatureVersion())
	ev := &db.Event{
		AnimalID:    &animal.ID,
		VideoID:     &vid,
		EventType:   db.EventTypeSighting,
		Severity:    db.SeverityLow,
		Title:       "New Goat Registered",
		Description: &desc,
		Metadata:    &metaStr,
	}
	if err := p.store.InsertEvent(ev); err != nil {
		opsf("job %s: registration event for goat %d failed: %v", videoID, animal.ID, err)
	}
	p.audit(db.AuditCategoryIdentity, "animal", strconv.FormatInt(animal.ID, 10), db.AuditAnimalRegistered,
		fmt.Sprintf("new goat registered from video %s (track %d)", videoID, tr.ID))
}

// saveProfile crops the track's current box into the per-video profile
// gallery. Failures degrade the gallery, not the job.
func (p *Processor) saveProfile(videoID string, animalID int64, frame video.Frame, tr *track.Track) {
	if _, err := p.evidence.SaveProfile(videoID, animalID, frame.Mat, tr.Box); err != nil {
		diagf("job %s: profile crop for goat %d failed: %v", videoID, animalID, err)
	}
}

func (p *Processor) audit(category, entityType, entityID, action, details string) {
	if err := p.store.AppendAudit(category, entityType, entityID, action, details); err != nil {
		opsf("audit append failed (%s %s): %v", action, entityID, err)
	}
}

// buildDetectionRows converts the queued detections to rows, attributing
// each to its resolved animal when the track got an identity.
func buildDetectionRows(videoID string, st *jobState) []db.Detection {
	rows := make([]db.Detection, 0, len(st.pending))
	for _, d := range st.pending {
		row := db.Detection{
			VideoID:     videoID,
			FrameNumber: d.frameIdx,
			Timestamp:   d.timestamp,
			X:           float64(d.box.Min.X),
			Y:           float64(d.box.Min.Y),
			W:           float64(d.box.Dx()),
			H:           float64(d.box.Dy()),
			Confidence:  d.conf,
		}
		if animalID, ok := st.trackAnimal[d.trackID]; ok {
			id := animalID
			row.AnimalID = &id
		}
		if b, err := json.Marshal(detectionMeta{TrackID: d.trackID, Class: d.class}); err == nil {
			meta := string(b)
			row.Metadata = &meta
		}
		rows = append(rows, row)
	}
	return rows
}

// retainedFrames adapts the snapshot buffer for the evidence generator,
// labeling each box with its resolved goat tag.
func retainedFrames(retain *snapshotBuffer, st *jobState) []evidence.RetainedFrame {
	snaps := retain.Frames()
	out := make([]evidence.RetainedFrame, 0, len(snaps))
	for _, s := range snaps {
		labels := make([]string, len(s.dets))
		for i, tid := range s.trackIDs {
			if animalID, ok := st.trackAnimal[tid]; ok {
				labels[i] = fmt.Sprintf("GOAT%03d", animalID)
			}
		}
		out = append(out, evidence.RetainedFrame{
			FrameIndex: s.frameIdx,
			Image:      s.mat,
			Detections: s.dets,
			Labels:     labels,
			Density:    s.density,
		})
	}
	return out
}

// completionMetadata is the JSON persisted on the video row when a job
// finishes. The flat keys are what dashboards read; the full verifier
// result rides along for the result endpoint.
type completionMetadata struct {
	EstimatedCount    int      `json:"estimated_count"`
	CountRange        string   `json:"count_range"`
	PeakVisible       int      `json:"peak_visible"`
	ConfidenceScore   float64  `json:"confidence_score"`
	UncertaintyLevel  string   `json:"uncertainty_level"`
	IsReliable        bool     `json:"is_reliable"`
	TemporalStability float64  `json:"temporal_stability"`
	UniqueTracked     int      `json:"unique_goats_tracked"`
	Warnings          []string `json:"warnings"`
	FailureReasons    []string `json:"failure_reasons"`
	Recommendation    string   `json:"recommendation,omitempty"`

	Verification *census.VerificationResult `json:"verification,omitempty"`
	EvidenceDir  string                     `json:"evidence_dir,omitempty"`
}

func buildCompletionMetadata(v *census.VerificationResult, uniqueTracked, peakVisible int, evidenceDir string) (string, error) {
	m := completionMetadata{
		UniqueTracked:  uniqueTracked,
		PeakVisible:    peakVisible,
		Warnings:       []string{},
		FailureReasons: []string{},
		Verification:   v,
		EvidenceDir:    evidenceDir,
	}
	if v != nil {
		m.EstimatedCount = v.LikelyCount
		m.CountRange = fmt.Sprintf("%d-%d", v.MinCount, v.MaxCount)
		m.ConfidenceScore = v.Confidence
		m.UncertaintyLevel = v.UncertaintyLevel
		m.IsReliable = v.Reliable
		m.TemporalStability = v.Stability
		m.Recommendation = v.Recommendation
		if v.Warnings != nil {
			m.Warnings = v.Warnings
		}
		if v.FailureReasons != nil {
			m.FailureReasons = v.FailureReasons
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion metadata: %w", err)
	}
	return string(b), nil
}

func eventMetadata(trackID, frameIdx int, decision reid.Decision, similarity float64, modelVersion string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"track_id":      trackID,
		"frame":         frameIdx,
		"decision":      string(decision),
		"similarity":    similarity,
		"model_version": modelVersion,
	})
	return string(b)
}

func sortedAnimalIDs(seen map[int64]bool) []int64 {
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
