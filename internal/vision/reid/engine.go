package reid

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pasture-data/herdsight/internal/config"
	"github.com/pasture-data/herdsight/internal/db"
	"github.com/pasture-data/herdsight/internal/monitoring"
)

// Decision classifies a resolution outcome.
type Decision string

const (
	DecisionStrong  Decision = "STRONG_MATCH"
	DecisionWeak    Decision = "WEAK_MATCH"
	DecisionNew     Decision = "NEW"
	DecisionPending Decision = "PENDING"
)

// simTieWindow is how close two similarities must be to count as a tie;
// ties resolve to the identity updated most recently.
const simTieWindow = 0.001

// Resolution is the outcome of resolving one track against the
// registry. AnimalID is only set for matches.
type Resolution struct {
	Decision   Decision
	AnimalID   int64
	Similarity float64
}

// Config tunes matching and drift compensation.
type Config struct {
	StrongThreshold float64
	WeakThreshold   float64
	NewThreshold    float64
	AlphaStrong     float64
	AlphaWeak       float64
	MinObservations int
	ModelVersion    string
}

// ConfigFromTuning maps the shared tuning file onto an engine Config.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		StrongThreshold: cfg.GetReIDStrongThreshold(),
		WeakThreshold:   cfg.GetReIDWeakThreshold(),
		NewThreshold:    cfg.GetReIDNewThreshold(),
		AlphaStrong:     cfg.GetReIDAlphaStrong(),
		AlphaWeak:       cfg.GetReIDAlphaWeak(),
		MinObservations: cfg.GetReIDMinObservations(),
		ModelVersion:    cfg.GetFeatureVersion(),
	}
}

// template is one cached identity.
type template struct {
	vec          []float64
	modelVersion string
	lastUpdated  time.Time
}

// Engine matches probes against the persistent identity registry. The
// cache is write-through: every template update lands in the biometric
// table in the same logical transaction that bumps last_seen. One
// Engine is shared by all workers; per-job state lives in Sessions.
type Engine struct {
	store *db.DB
	cfg   Config

	mu    sync.RWMutex
	cache map[int64]*template

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex
}

// NewEngine loads the registry from store. Corrupt stored vectors
// surface here rather than mid-job.
func NewEngine(store *db.DB, cfg Config) (*Engine, error) {
	bios, err := store.LoadBiometrics()
	if err != nil {
		return nil, fmt.Errorf("load identity registry: %w", err)
	}
	cache := make(map[int64]*template, len(bios))
	for id, b := range bios {
		cache[id] = &template{
			vec:          b.Embedding,
			modelVersion: b.ModelVersion,
			lastUpdated:  b.LastUpdated,
		}
	}
	monitoring.Logf("reid: loaded %d identities from registry", len(cache))
	if err := store.AppendAudit(db.AuditCategorySystem, "", "", db.AuditEngineInitialized,
		fmt.Sprintf("identity engine started with %d known identities (model %s)", len(cache), cfg.ModelVersion)); err != nil {
		monitoring.Debugf("reid: audit append failed: %v", err)
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		cache: cache,
		locks: make(map[int64]*sync.Mutex),
	}, nil
}

// IdentityCount reports how many identities are cached.
func (e *Engine) IdentityCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// NewSession opens per-job accumulator state. Track IDs restart at one
// for every job, so concurrent jobs must not share accumulators.
func (e *Engine) NewSession() *Session {
	return &Session{engine: e, pending: make(map[int][][]float64)}
}

// bestMatch scans same-version templates for the highest cosine
// similarity. Scan order is sorted by animal ID and near-ties resolve
// to the most recently updated identity, keeping results reproducible.
func (e *Engine) bestMatch(probe []float64) (int64, float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]int64, 0, len(e.cache))
	for id, t := range e.cache {
		if t.modelVersion == e.cfg.ModelVersion {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return -1, 0
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	sims := make([]float64, len(ids))
	maxSim := -1.0
	for i, id := range ids {
		sims[i] = Cosine(probe, e.cache[id].vec)
		if sims[i] > maxSim {
			maxSim = sims[i]
		}
	}

	bestID := int64(-1)
	bestSim := 0.0
	var bestUpdated time.Time
	for i, id := range ids {
		if sims[i] < maxSim-simTieWindow {
			continue
		}
		if t := e.cache[id]; bestID < 0 || t.lastUpdated.After(bestUpdated) {
			bestID, bestSim, bestUpdated = id, sims[i], t.lastUpdated
		}
	}
	return bestID, bestSim
}

// adopt applies the EMA template update for a matched animal and
// persists it. A per-animal lock serializes concurrent matches of the
// same identity from different jobs.
func (e *Engine) adopt(animalID int64, probe []float64, alpha float64) error {
	lock := e.animalLock(animalID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	t, ok := e.cache[animalID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("identity %d missing from cache", animalID)
	}

	updated := blend(t.vec, probe, alpha)
	if err := e.store.CommitBiometricUpdate(animalID, updated, e.cfg.ModelVersion); err != nil {
		return fmt.Errorf("persist template update for animal %d: %w", animalID, err)
	}
	if err := e.store.AppendAudit(db.AuditCategoryIdentity, "animal", strconv.FormatInt(animalID, 10),
		db.AuditBiometricUpdated, fmt.Sprintf("template drift update, alpha %.2f, model %s", alpha, e.cfg.ModelVersion)); err != nil {
		monitoring.Debugf("reid: audit append failed: %v", err)
	}

	e.mu.Lock()
	e.cache[animalID] = &template{
		vec:          updated,
		modelVersion: e.cfg.ModelVersion,
		lastUpdated:  time.Now(),
	}
	e.mu.Unlock()
	return nil
}

// register creates the animal row, stores its first template, and
// caches it.
func (e *Engine) register(probe []float64) (*db.Animal, error) {
	animal := &db.Animal{EarTag: newEarTag()}
	if err := e.store.CreateAnimal(animal); err != nil {
		return nil, fmt.Errorf("register animal: %w", err)
	}
	if err := e.store.UpsertBiometric(animal.ID, probe, e.cfg.ModelVersion); err != nil {
		return nil, fmt.Errorf("store template for animal %d: %w", animal.ID, err)
	}

	e.mu.Lock()
	e.cache[animal.ID] = &template{
		vec:          probe,
		modelVersion: e.cfg.ModelVersion,
		lastUpdated:  time.Now(),
	}
	e.mu.Unlock()

	monitoring.Logf("reid: registered new identity %d (%s)", animal.ID, animal.EarTag)
	return animal, nil
}

func (e *Engine) animalLock(id int64) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	return m
}

// newEarTag mints the auto-assigned tag for animals first seen on
// camera: AUTO-<unix seconds>-<uuid prefix>.
func newEarTag() string {
	return fmt.Sprintf("AUTO-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
}

// Session is one job's view of the engine: it owns the per-track probe
// accumulators while sharing the registry cache. Not safe for
// concurrent use.
type Session struct {
	engine  *Engine
	pending map[int][][]float64
}

// Observe accumulates one feature vector for a track.
func (s *Session) Observe(trackID int, vec []float64) {
	if len(vec) == 0 {
		return
	}
	s.pending[trackID] = append(s.pending[trackID], vec)
}

// Observations reports how many vectors a track has accumulated.
func (s *Session) Observations(trackID int) int {
	return len(s.pending[trackID])
}

// Resolve matches a track's aggregated probe against the registry.
// Match decisions update the stored template; New leaves the
// accumulator in place so Register can consume it.
func (s *Session) Resolve(ctx context.Context, trackID int) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}
	if len(s.pending[trackID]) < s.engine.cfg.MinObservations {
		return Resolution{Decision: DecisionPending}, nil
	}

	probe := s.probe(trackID)
	bestID, bestSim := s.engine.bestMatch(probe)

	cfg := s.engine.cfg
	switch {
	case bestID >= 0 && bestSim >= cfg.StrongThreshold:
		if err := s.engine.adopt(bestID, probe, cfg.AlphaStrong); err != nil {
			return Resolution{}, err
		}
		return Resolution{Decision: DecisionStrong, AnimalID: bestID, Similarity: bestSim}, nil

	case bestID >= 0 && bestSim >= cfg.WeakThreshold:
		if err := s.engine.adopt(bestID, probe, cfg.AlphaWeak); err != nil {
			return Resolution{}, err
		}
		return Resolution{Decision: DecisionWeak, AnimalID: bestID, Similarity: bestSim}, nil

	default:
		if bestID >= 0 && bestSim >= cfg.NewThreshold {
			monitoring.Debugf("reid: borderline similarity %.3f to animal %d; registering as new", bestSim, bestID)
		}
		return Resolution{Decision: DecisionNew, Similarity: bestSim}, nil
	}
}

// Register creates a fresh identity from the track's aggregated probe
// and clears its accumulator.
func (s *Session) Register(trackID int) (*db.Animal, error) {
	if len(s.pending[trackID]) == 0 {
		return nil, fmt.Errorf("track %d has no observations to register", trackID)
	}
	animal, err := s.engine.register(s.probe(trackID))
	if err != nil {
		return nil, err
	}
	s.ClearTrack(trackID)
	return animal, nil
}

// ClearTrack drops a track's accumulator, typically after it resolved.
func (s *Session) ClearTrack(trackID int) {
	delete(s.pending, trackID)
}

// probe aggregates a track's observations into one normalized vector.
func (s *Session) probe(trackID int) []float64 {
	return L2Normalize(MeanVector(s.pending[trackID]))
}
