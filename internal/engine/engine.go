// Package engine ties decomposition, coordination, and validation together
// behind a submit/status API. One engine serves many concurrent tasks.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/halcyon-systems/dispatch/internal/agent"
	"github.com/halcyon-systems/dispatch/internal/config"
	"github.com/halcyon-systems/dispatch/internal/coordinator"
	"github.com/halcyon-systems/dispatch/internal/decompose"
	"github.com/halcyon-systems/dispatch/internal/metrics"
	"github.com/halcyon-systems/dispatch/internal/validation"
	"github.com/halcyon-systems/dispatch/pkg/models"
)

// taskEntry is the engine's bookkeeping for one submitted task.
type taskEntry struct {
	task   *models.Task
	report models.TaskStatusReport
	done   chan struct{}
}

// Engine accepts tasks and runs each through decompose, coordinate, and
// validate. Tasks are immutable once submitted; status is read through
// reports.
type Engine struct {
	cfg     *config.Config
	log     zerolog.Logger
	met     *metrics.Registry
	dec     *decompose.Decomposer
	coord   *coordinator.Coordinator
	pool    *agent.Pool
	emitter *EventEmitter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	tasks   map[string]*taskEntry
	stopped bool
}

// New wires an engine from configuration and the host's agent pool.
func New(cfg *config.Config, pool *agent.Pool, log zerolog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}
	met := metrics.New(o.registerer)

	pipeline := o.pipeline
	if pipeline == nil {
		pipeline = validation.NewPipeline(validation.Config{
			PassThreshold:    cfg.Validation.PassThreshold,
			ValidatorTimeout: cfg.Validation.ValidatorTimeout,
			Weights:          cfg.Validation.Weights,
		}, log, met)
		if err := validation.RegisterReference(pipeline); err != nil {
			return nil, fmt.Errorf("registering reference validators: %w", err)
		}
	}

	dec := o.decomposer
	if dec == nil {
		dec = decompose.New(decompose.Config{}, log)
	}

	coord := o.coordinator
	if coord == nil {
		coord = coordinator.New(coordinator.Config{
			FanOut:         cfg.Coordinator.FanOut,
			Quorum:         cfg.Coordinator.Quorum,
			SubtaskTimeout: cfg.Coordinator.SubtaskTimeout,
		}, pool, pipeline, log, met)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		log:     log.With().Str("component", "engine").Logger(),
		met:     met,
		dec:     dec,
		coord:   coord,
		pool:    pool,
		emitter: NewEventEmitter(o.eventBufferSize, log),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*taskEntry),
	}, nil
}

// Submit accepts a task and starts executing it in the background. The
// returned ID is used with Status and Await.
func (e *Engine) Submit(task *models.Task) (string, error) {
	if task == nil {
		return "", fmt.Errorf("nil task")
	}

	t := *task
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return "", fmt.Errorf("engine stopped")
	}
	if _, dup := e.tasks[t.ID]; dup {
		e.mu.Unlock()
		return "", fmt.Errorf("task %s already submitted", t.ID)
	}
	entry := &taskEntry{
		task:   &t,
		report: models.TaskStatusReport{TaskID: t.ID, Status: models.TaskStatusPending},
		done:   make(chan struct{}),
	}
	e.tasks[t.ID] = entry
	e.wg.Add(1)
	e.mu.Unlock()

	e.emitter.Emit(Event{Type: EventTaskSubmitted, TaskID: t.ID, Message: "task accepted", Timestamp: time.Now()})
	e.log.Info().Str("task_id", t.ID).Int("units", len(t.Units)).Msg("task submitted")

	go func() {
		defer e.wg.Done()
		defer close(entry.done)
		e.run(entry)
	}()
	return t.ID, nil
}

// run executes one task to a terminal status.
func (e *Engine) run(entry *taskEntry) {
	task := entry.task
	e.setStatus(task.ID, models.TaskStatusRunning)

	ctx := e.ctx
	if !task.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, task.Deadline)
		defer cancel()
	}

	g, err := e.dec.Decompose(ctx, task)
	if err != nil {
		e.fail(task.ID, fmt.Sprintf("decomposition: %v", err))
		return
	}
	e.emitter.Emit(Event{
		Type:      EventTaskDecomposed,
		TaskID:    task.ID,
		Message:   fmt.Sprintf("%d subtasks, critical path %d", g.Size(), g.CriticalPathLength()),
		Timestamp: time.Now(),
	})

	outcomes, err := e.coord.Coordinate(ctx, task, g)
	if err != nil {
		e.fail(task.ID, fmt.Sprintf("coordination: %v", err))
		return
	}

	var unresolved []string
	for _, o := range outcomes {
		if o.State == models.SubtaskUnresolved {
			unresolved = append(unresolved, o.SubtaskID)
		}
	}

	// The task fails only when a terminal subtask is unresolved; unresolved
	// work upstream always surfaces there through dependency skipping.
	terminalUnresolved := false
	terminal := make(map[string]bool)
	for _, id := range g.Terminal() {
		terminal[id] = true
	}
	for _, o := range outcomes {
		if terminal[o.SubtaskID] && o.State == models.SubtaskUnresolved {
			terminalUnresolved = true
			break
		}
	}

	status := models.TaskStatusCompleted
	if terminalUnresolved {
		status = models.TaskStatusFailed
	}

	e.mu.Lock()
	entry.report.Status = status
	entry.report.Outcomes = outcomes
	entry.report.UnresolvedSubtasks = unresolved
	if terminalUnresolved {
		entry.report.Error = "terminal subtask unresolved"
	}
	e.mu.Unlock()

	eventType := EventTaskCompleted
	if status == models.TaskStatusFailed {
		eventType = EventTaskFailed
	}
	e.emitter.Emit(Event{
		Type:      eventType,
		TaskID:    task.ID,
		Message:   fmt.Sprintf("%d outcomes, %d unresolved", len(outcomes), len(unresolved)),
		Timestamp: time.Now(),
	})
	e.log.Info().
		Str("task_id", task.ID).
		Str("status", string(status)).
		Int("unresolved", len(unresolved)).
		Msg("task finished")
}

func (e *Engine) setStatus(taskID string, status models.TaskStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.tasks[taskID]; ok {
		entry.report.Status = status
	}
}

func (e *Engine) fail(taskID, reason string) {
	e.mu.Lock()
	if entry, ok := e.tasks[taskID]; ok {
		entry.report.Status = models.TaskStatusFailed
		entry.report.Error = reason
	}
	e.mu.Unlock()
	e.emitter.Emit(Event{Type: EventTaskFailed, TaskID: taskID, Message: reason, Timestamp: time.Now()})
	e.log.Error().Str("task_id", taskID).Str("reason", reason).Msg("task failed")
}

// Status returns the current report for a task.
func (e *Engine) Status(taskID string) (models.TaskStatusReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.tasks[taskID]
	if !ok {
		return models.TaskStatusReport{}, fmt.Errorf("unknown task %s", taskID)
	}
	return cloneReport(entry.report), nil
}

// Await blocks until the task reaches a terminal status or ctx expires.
func (e *Engine) Await(ctx context.Context, taskID string) (models.TaskStatusReport, error) {
	e.mu.RLock()
	entry, ok := e.tasks[taskID]
	e.mu.RUnlock()
	if !ok {
		return models.TaskStatusReport{}, fmt.Errorf("unknown task %s", taskID)
	}
	select {
	case <-entry.done:
		return e.Status(taskID)
	case <-ctx.Done():
		return models.TaskStatusReport{}, ctx.Err()
	}
}

// Events returns the subscriber channel for progress events.
func (e *Engine) Events() <-chan Event {
	return e.emitter.Events()
}

// DroppedEvents returns how many events were dropped on a full buffer.
func (e *Engine) DroppedEvents() uint64 {
	return e.emitter.DroppedCount()
}

// Stop cancels running tasks and waits for them to finish. The engine
// accepts no submissions afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.emitter.Close()
}

func cloneReport(r models.TaskStatusReport) models.TaskStatusReport {
	out := r
	out.Outcomes = append([]models.SubtaskOutcome(nil), r.Outcomes...)
	out.UnresolvedSubtasks = append([]string(nil), r.UnresolvedSubtasks...)
	return out
}
