package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/batch"
	"github.com/aescanero/stepflow/pkg/definition"
	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
	"github.com/aescanero/stepflow/pkg/steps"
)

var (
	// ErrBatchNotFound is returned for ids the manager is not running.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrShuttingDown is returned by SubmitBatch after Shutdown.
	ErrShuttingDown = errors.New("manager is shutting down")
)

// Submission statuses recorded through MetricsCollector.RecordBatchSubmitted.
const (
	SubmissionAccepted = "accepted"
	SubmissionRejected = "rejected"
)

const (
	defaultEventBuffer = 1024
	saveTimeout        = 10 * time.Second
)

// Options tunes a Manager.
type Options struct {
	// StepTimeout fails steps that do not report in time. Zero disables it.
	StepTimeout time.Duration
	// BatchTimeout cancels batches still running after this long. Zero disables it.
	BatchTimeout time.Duration

	LLM              ports.LLMClient
	DefaultModel     string
	DefaultMaxTokens int

	// EventBuffer bounds the queue of events waiting to be published.
	EventBuffer int
}

// Manager coordinates batch execution
type Manager struct {
	registry  *steps.Registry
	validator *Validator
	executor  ports.Executor
	eventBus  ports.EventBus
	store     ports.ResultStore
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	opts      Options

	mu         sync.Mutex
	closed     bool
	executions map[string]*execution
	wg         sync.WaitGroup

	events      chan domain.Event
	eventsMu    sync.RWMutex
	eventsDone  chan struct{}
	eventsShut  bool
	publishOnce sync.Once
}

// execution holds state for a single running batch
type execution struct {
	batchID   string
	startedAt time.Time
	cancel    context.CancelFunc
	ctx       context.Context
	done      chan struct{}

	mu     sync.Mutex
	report *domain.BatchReport
}

// NewManager creates a new batch manager. metrics may be nil.
func NewManager(
	registry *steps.Registry,
	validator *Validator,
	executor ports.Executor,
	eventBus ports.EventBus,
	store ports.ResultStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	opts Options,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if validator == nil {
		validator = NewValidator(registry)
	}
	m := &Manager{
		registry:   registry,
		validator:  validator,
		executor:   executor,
		eventBus:   eventBus,
		store:      store,
		metrics:    metrics,
		logger:     logger,
		opts:       opts,
		executions: make(map[string]*execution),
		events:     make(chan domain.Event, opts.EventBuffer),
		eventsDone: make(chan struct{}),
	}
	go m.publishLoop()
	return m
}

// SubmitBatch validates def, starts it and returns the batch id. The batch
// runs in the background; use Wait or GetReport to follow it.
func (m *Manager) SubmitBatch(ctx context.Context, def *definition.Batch) (string, error) {
	if !m.Accepting() {
		return "", ErrShuttingDown
	}

	if err := m.validator.Validate(def); err != nil {
		m.logger.Warn("batch definition rejected", zap.Error(err))
		m.recordSubmitted(SubmissionRejected)
		return "", err
	}

	env := steps.Env{
		Executor:         m.executor,
		LLM:              m.opts.LLM,
		DefaultModel:     m.opts.DefaultModel,
		DefaultMaxTokens: m.opts.DefaultMaxTokens,
	}
	built, err := m.registry.BuildBatch(def, env)
	if err != nil {
		m.logger.Warn("failed to build batch steps",
			zap.String("name", def.Name),
			zap.Error(err))
		m.recordSubmitted(SubmissionRejected)
		return "", fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	batchID := uuid.NewString()
	now := time.Now().UTC()
	report := &domain.BatchReport{
		BatchID:     batchID,
		Name:        def.Name,
		Status:      domain.BatchStatusRunning,
		Steps:       []domain.StepReport{},
		SubmittedAt: now,
	}
	var execCtx context.Context
	var cancel context.CancelFunc
	if m.opts.BatchTimeout > 0 {
		execCtx, cancel = context.WithTimeout(context.Background(), m.opts.BatchTimeout)
	} else {
		execCtx, cancel = context.WithCancel(context.Background())
	}
	exec := &execution{
		batchID:   batchID,
		startedAt: now,
		cancel:    cancel,
		ctx:       execCtx,
		done:      make(chan struct{}),
		report:    cloneReport(report),
	}

	orch := batch.New(
		batch.WithLogger(m.logger),
		batch.WithObserver(ports.NewCompositeObserver(m.observer(), &eventObserver{manager: m})),
		batch.WithStepTimeout(m.opts.StepTimeout),
		batch.WithBatchID(batchID),
	)
	if err := orch.Load(built...); err != nil {
		cancel()
		m.recordSubmitted(SubmissionRejected)
		return "", fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	m.executions[batchID] = exec
	active := len(m.executions)
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.store.Save(ctx, report); err != nil {
		m.logger.Error("failed to save initial report",
			zap.String("batch_id", batchID),
			zap.Error(err))
		m.release(exec)
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	m.setActive(active)

	m.publish(domain.Event{
		Type:    domain.EventBatchSubmitted,
		BatchID: batchID,
		Data: map[string]interface{}{
			"name":  def.Name,
			"steps": len(def.Steps),
		},
	})

	progress := func(id domain.StepID, outcome domain.Outcome) {
		exec.mu.Lock()
		exec.report.Steps = append(exec.report.Steps, domain.NewStepReport(id, outcome))
		exec.mu.Unlock()
	}
	if err := orch.StartWithProgress(execCtx, progress, func(result *domain.BatchResult) {
		m.finish(exec, result)
	}); err != nil {
		m.finish(exec, &domain.BatchResult{Outcomes: map[domain.StepID]domain.Outcome{}})
		return "", fmt.Errorf("failed to start batch: %w", err)
	}

	m.recordSubmitted(SubmissionAccepted)
	m.logger.Info("batch submitted",
		zap.String("batch_id", batchID),
		zap.String("name", def.Name),
		zap.Int("steps", len(def.Steps)))

	return batchID, nil
}

// finish stores the final report and releases the execution. It runs once
// per batch, after the orchestrator has finalized.
func (m *Manager) finish(exec *execution, result *domain.BatchResult) {
	defer m.wg.Done()

	if errors.Is(exec.ctx.Err(), context.DeadlineExceeded) {
		m.logger.Warn("batch deadline exceeded",
			zap.String("batch_id", exec.batchID),
			zap.Duration("timeout", m.opts.BatchTimeout))
	}
	exec.cancel()

	completedAt := time.Now().UTC()
	exec.mu.Lock()
	exec.report.Complete(result, completedAt)
	final := cloneReport(exec.report)
	exec.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	if err := m.store.Save(ctx, final); err != nil {
		m.logger.Error("failed to save final report",
			zap.String("batch_id", exec.batchID),
			zap.Error(err))
	}
	cancel()

	m.mu.Lock()
	delete(m.executions, exec.batchID)
	active := len(m.executions)
	m.mu.Unlock()
	m.setActive(active)

	data := map[string]interface{}{
		"status":      string(final.Status),
		"duration_ms": completedAt.Sub(exec.startedAt).Milliseconds(),
	}
	eventType := domain.EventBatchFinished
	if result.ValidationErr != nil {
		eventType = domain.EventBatchValidationFailed
		data["error"] = result.ValidationErr.Error()
		data["kind"] = string(result.ValidationErr.Kind)
	} else {
		data["failed_steps"] = domain.JoinStepIDs(result.FailedSteps())
	}
	m.publish(domain.Event{Type: eventType, BatchID: exec.batchID, Data: data})

	close(exec.done)
}

// release drops an execution that never started.
func (m *Manager) release(exec *execution) {
	exec.cancel()
	m.mu.Lock()
	delete(m.executions, exec.batchID)
	m.mu.Unlock()
	close(exec.done)
	m.wg.Done()
}

// GetReport returns the report of a batch. Running batches report the
// outcomes recorded so far.
func (m *Manager) GetReport(ctx context.Context, batchID string) (*domain.BatchReport, error) {
	if exec, ok := m.execution(batchID); ok {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return cloneReport(exec.report), nil
	}

	report, err := m.store.Get(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// ListReports returns every stored report, oldest first.
func (m *Manager) ListReports(ctx context.Context) ([]*domain.BatchReport, error) {
	reports, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	for i, r := range reports {
		if exec, ok := m.execution(r.BatchID); ok {
			exec.mu.Lock()
			reports[i] = cloneReport(exec.report)
			exec.mu.Unlock()
		}
	}
	return reports, nil
}

// Wait blocks until the batch finishes or ctx is done, then returns its
// report.
func (m *Manager) Wait(ctx context.Context, batchID string) (*domain.BatchReport, error) {
	if exec, ok := m.execution(batchID); ok {
		select {
		case <-exec.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.GetReport(ctx, batchID)
}

// CancelBatch cancels a running batch. Steps not yet dispatched fail, and
// running steps see their context canceled.
func (m *Manager) CancelBatch(batchID string) error {
	exec, ok := m.execution(batchID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	exec.cancel()

	m.logger.Info("batch canceled", zap.String("batch_id", batchID))
	return nil
}

// ActiveBatches returns the number of running batches.
func (m *Manager) ActiveBatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executions)
}

// Accepting reports whether new batches are accepted.
func (m *Manager) Accepting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Shutdown stops accepting batches and waits for running ones. Batches still
// running when ctx is done are canceled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down batch manager")

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.mu.Lock()
		for _, exec := range m.executions {
			exec.cancel()
		}
		m.mu.Unlock()
		m.closeEvents()
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}

	m.closeEvents()
	select {
	case <-m.eventsDone:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}

	m.logger.Info("batch manager shut down complete")
	return nil
}

func (m *Manager) execution(batchID string) (*execution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[batchID]
	return exec, ok
}

func (m *Manager) observer() ports.Observer {
	if m.metrics == nil {
		return nil
	}
	return m.metrics
}

func (m *Manager) recordSubmitted(status string) {
	if m.metrics != nil {
		m.metrics.RecordBatchSubmitted(status)
	}
}

func (m *Manager) setActive(n int) {
	if m.metrics != nil {
		m.metrics.SetActiveBatches(n)
	}
}

// publish queues an event without blocking. Events are dropped when the
// queue is full.
func (m *Manager) publish(e domain.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	if m.eventsShut {
		return
	}
	select {
	case m.events <- e:
	default:
		m.logger.Warn("event queue full, dropping event",
			zap.String("batch_id", e.BatchID),
			zap.String("type", string(e.Type)))
	}
}

func (m *Manager) publishLoop() {
	defer close(m.eventsDone)
	for e := range m.events {
		if err := m.eventBus.Publish(context.Background(), topicFor(e.Type), e); err != nil {
			m.logger.Error("failed to publish event",
				zap.String("batch_id", e.BatchID),
				zap.String("type", string(e.Type)),
				zap.Error(err))
		}
	}
}

func (m *Manager) closeEvents() {
	m.publishOnce.Do(func() {
		m.eventsMu.Lock()
		m.eventsShut = true
		close(m.events)
		m.eventsMu.Unlock()
	})
}

func topicFor(t domain.EventType) string {
	switch t {
	case domain.EventStepDispatched, domain.EventStepFinished:
		return ports.TopicStepEvents
	default:
		return ports.TopicBatchEvents
	}
}

func cloneReport(r *domain.BatchReport) *domain.BatchReport {
	c := *r
	c.Steps = append([]domain.StepReport(nil), r.Steps...)
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
