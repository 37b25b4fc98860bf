// Package health scores registered components from pushed metric snapshots
// and raises issues when a component transitions into a non-healthy state.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halcyon-systems/dispatch/internal/metrics"
	"github.com/halcyon-systems/dispatch/pkg/models"
)

// Config tunes the monitor.
type Config struct {
	// SampleInterval is how often components are scored.
	SampleInterval time.Duration
	// GracePeriod is how long a component may stay silent before the
	// silence itself is treated as a critical signal.
	GracePeriod time.Duration
	// LatencyWeight, ErrorWeight and SaturationWeight control the scoring
	// formula; they are normalized before use.
	LatencyWeight    float64
	ErrorWeight      float64
	SaturationWeight float64
	// LatencyBudgetMillis is the latency at which the latency subscore
	// reaches zero.
	LatencyBudgetMillis float64
	// HistoryLimit caps the per-component sample history.
	HistoryLimit int
}

func (c *Config) applyDefaults() {
	if c.SampleInterval == 0 {
		c.SampleInterval = 60 * time.Second
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 3 * time.Minute
	}
	if c.LatencyWeight == 0 && c.ErrorWeight == 0 && c.SaturationWeight == 0 {
		c.LatencyWeight, c.ErrorWeight, c.SaturationWeight = 1, 1, 1
	}
	if c.LatencyBudgetMillis == 0 {
		c.LatencyBudgetMillis = 1000
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 32
	}
}

// componentRecord pairs a health record with its own lock. The monitor
// writes and the escalation manager reads concurrently; each record is
// guarded independently so there is no global lock across components.
type componentRecord struct {
	mu       sync.Mutex
	rec      models.ComponentHealthRecord
	snapshot *models.MetricSnapshot
}

// Monitor samples the health of every registered component on an interval,
// classifies it, and emits exactly one issue per transition into a
// non-healthy state.
type Monitor struct {
	cfg Config
	log zerolog.Logger
	met *metrics.Registry

	mu      sync.RWMutex
	records map[string]*componentRecord
	order   []string

	issues chan models.HealthIssue

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. Components register explicitly or implicitly
// on their first metric report.
func NewMonitor(cfg Config, log zerolog.Logger, met *metrics.Registry) *Monitor {
	cfg.applyDefaults()
	if met == nil {
		met = metrics.NewUnregistered()
	}
	return &Monitor{
		cfg:     cfg,
		log:     log.With().Str("component", "health").Logger(),
		met:     met,
		records: make(map[string]*componentRecord),
		issues:  make(chan models.HealthIssue, 64),
	}
}

// RegisterComponent adds a component in the healthy state. Registration is
// idempotent.
func (m *Monitor) RegisterComponent(componentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(componentID)
}

func (m *Monitor) registerLocked(componentID string) *componentRecord {
	if cr, ok := m.records[componentID]; ok {
		return cr
	}
	cr := &componentRecord{
		rec: models.ComponentHealthRecord{
			ComponentID: componentID,
			Status:      models.HealthHealthy,
			LastScore:   100,
			LastReport:  time.Now(),
		},
	}
	m.records[componentID] = cr
	m.order = append(m.order, componentID)
	return cr
}

// ReportMetrics is the push interface external components call with fresh
// metric snapshots. Unknown components are registered on first report.
func (m *Monitor) ReportMetrics(componentID string, snapshot models.MetricSnapshot) {
	if snapshot.ReportedAt.IsZero() {
		snapshot.ReportedAt = time.Now()
	}

	m.mu.Lock()
	cr := m.registerLocked(componentID)
	m.mu.Unlock()

	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.snapshot = &snapshot
	cr.rec.LastReport = snapshot.ReportedAt
}

// Score computes the 0-100 health score for a snapshot using the weighted
// formula. Exported so the escalation manager can re-score a component after
// applying a permanent solution.
func (m *Monitor) Score(snapshot models.MetricSnapshot) float64 {
	latency := 1 - snapshot.LatencyMillis/m.cfg.LatencyBudgetMillis
	if latency < 0 {
		latency = 0
	}
	errScore := 1 - clamp01(snapshot.ErrorRate)
	satScore := 1 - clamp01(snapshot.Saturation)

	total := m.cfg.LatencyWeight + m.cfg.ErrorWeight + m.cfg.SaturationWeight
	weighted := m.cfg.LatencyWeight*latency + m.cfg.ErrorWeight*errScore + m.cfg.SaturationWeight*satScore
	return 100 * weighted / total
}

// Sample scores every registered component once. Called by the background
// worker on each tick; exported so tests can drive transitions
// deterministically.
func (m *Monitor) Sample() {
	now := time.Now()

	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, id := range ids {
		m.mu.RLock()
		cr := m.records[id]
		m.mu.RUnlock()
		if cr == nil {
			continue
		}
		m.sampleOne(id, cr, now)
	}
}

func (m *Monitor) sampleOne(id string, cr *componentRecord, now time.Time) {
	cr.mu.Lock()

	var score float64
	var status models.HealthStatus

	switch {
	case now.Sub(cr.rec.LastReport) > m.cfg.GracePeriod:
		// Silence past the grace period is itself a critical signal.
		score = cr.rec.LastScore
		status = models.HealthCritical
	case cr.snapshot == nil:
		// Registered but never reported, still inside the grace period.
		cr.mu.Unlock()
		return
	default:
		score = m.Score(*cr.snapshot)
		status = models.StatusForScore(score)
	}

	prev := cr.rec.Status
	cr.rec.LastScore = score
	cr.rec.Status = status
	cr.rec.History = append(cr.rec.History, models.HealthSample{Score: score, Status: status, At: now})
	if len(cr.rec.History) > m.cfg.HistoryLimit {
		cr.rec.History = cr.rec.History[len(cr.rec.History)-m.cfg.HistoryLimit:]
	}
	cr.mu.Unlock()

	m.met.ComponentScore.WithLabelValues(id).Set(score)

	if status == prev {
		return
	}
	m.met.HealthTransitions.WithLabelValues(string(status)).Inc()
	m.log.Info().
		Str("component_id", id).
		Str("from", string(prev)).
		Str("to", string(status)).
		Float64("score", score).
		Msg("health transition")

	// One issue per state change into a non-healthy state, never per
	// sample: repeated unhealthy scores in the same band stay silent.
	if status == models.HealthHealthy {
		return
	}
	issue := models.HealthIssue{
		ID:          uuid.New().String(),
		ComponentID: id,
		Severity:    status,
		Score:       score,
		DetectedAt:  now,
	}
	select {
	case m.issues <- issue:
	default:
		m.log.Warn().Str("component_id", id).Msg("issue channel full, dropping issue")
	}
}

// Rescore recomputes a component's score and status from its latest snapshot
// immediately, outside the sampling schedule. Used by tier-3 re-validation.
func (m *Monitor) Rescore(componentID string) (float64, models.HealthStatus, bool) {
	m.mu.RLock()
	cr := m.records[componentID]
	m.mu.RUnlock()
	if cr == nil {
		return 0, "", false
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.snapshot == nil {
		return cr.rec.LastScore, cr.rec.Status, true
	}
	score := m.Score(*cr.snapshot)
	status := models.StatusForScore(score)
	cr.rec.LastScore = score
	cr.rec.Status = status
	return score, status, true
}

// Record returns a copy of a component's health record.
func (m *Monitor) Record(componentID string) (models.ComponentHealthRecord, bool) {
	m.mu.RLock()
	cr := m.records[componentID]
	m.mu.RUnlock()
	if cr == nil {
		return models.ComponentHealthRecord{}, false
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()
	rec := cr.rec
	rec.History = append([]models.HealthSample(nil), cr.rec.History...)
	return rec, true
}

// Snapshot returns the latest metric snapshot a component reported.
func (m *Monitor) Snapshot(componentID string) (models.MetricSnapshot, bool) {
	m.mu.RLock()
	cr := m.records[componentID]
	m.mu.RUnlock()
	if cr == nil {
		return models.MetricSnapshot{}, false
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.snapshot == nil {
		return models.MetricSnapshot{}, false
	}
	return *cr.snapshot, true
}

// Issues returns the channel transitions are published on. The escalation
// manager is the intended consumer.
func (m *Monitor) Issues() <-chan models.HealthIssue {
	return m.issues
}

// Start launches the sampling worker. It stops when ctx is canceled or Stop
// is called.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sample()
			}
		}
	}()
}

// Stop halts the sampling worker and waits for it to exit. Safe to call
// more than once.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
