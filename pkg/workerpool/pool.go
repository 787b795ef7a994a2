// Package workerpool drains the submitted-task queue with N concurrent
// pollers, following the same ticker+select scheduler shape as
// settlement.Worker but guarding every dequeue with an in-memory
// single-flight set so two pollers never process the same task twice.
package workerpool

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/provenanceagent/proof-agent/pkg/database"
	"github.com/provenanceagent/proof-agent/pkg/eventbus"
	"github.com/provenanceagent/proof-agent/pkg/skills"
	"github.com/provenanceagent/proof-agent/pkg/task"
)

// Pool runs pollCount goroutines, each repeatedly dequeuing a task id,
// re-checking its persisted state, dispatching it to the skill handler and
// publishing the resulting events in order: running -> artifacts -> the
// terminal status -> task-complete.
type Pool struct {
	tasks     *task.Store
	bus       *eventbus.Bus
	deps      *skills.Deps
	pollCount int
	pollTick  time.Duration
	logger    *log.Logger

	mu         sync.Mutex
	processing map[string]struct{}

	audit *database.Client

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(tasks *task.Store, bus *eventbus.Bus, deps *skills.Deps, pollCount int, pollTick time.Duration, logger *log.Logger) *Pool {
	if pollCount <= 0 {
		pollCount = 1
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[WorkerPool] ", log.LstdFlags)
	}
	return &Pool{
		tasks:      tasks,
		bus:        bus,
		deps:       deps,
		pollCount:  pollCount,
		pollTick:   pollTick,
		logger:     logger,
		processing: make(map[string]struct{}),
	}
}

// SetAuditClient wires an optional Postgres mirror for completed proofs.
// Left unset, the pool never touches the database.
func (p *Pool) SetAuditClient(db *database.Client) {
	p.audit = db
}

// Start launches pollCount background pollers.
func (p *Pool) Start(ctx context.Context) {
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(p.pollCount)
	for i := 0; i < p.pollCount; i++ {
		go func() {
			defer wg.Done()
			p.pollLoop(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(p.doneCh)
	}()
}

// Stop signals every poller to exit and waits for them to finish.
func (p *Pool) Stop() {
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	<-p.doneCh
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce dequeues at most one task id and processes it if no other poller
// currently holds it.
func (p *Pool) pollOnce(ctx context.Context) {
	id, ok, err := p.tasks.Dequeue(ctx)
	if err != nil {
		p.logger.Printf("dequeue failed: %v", err)
		return
	}
	if !ok {
		return
	}

	p.mu.Lock()
	if _, inFlight := p.processing[id]; inFlight {
		p.mu.Unlock()
		return
	}
	p.processing[id] = struct{}{}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.processing, id)
		p.mu.Unlock()
	}()

	p.process(ctx, id)
}

// process re-checks the task's persisted state (it may have been canceled
// between enqueue and dequeue) before dispatching it to a skill handler.
func (p *Pool) process(ctx context.Context, id string) {
	t, err := p.tasks.GetTask(ctx, id)
	if err != nil {
		p.logger.Printf("task %s vanished before processing: %v", id, err)
		return
	}
	if t.Status.IsTerminal() {
		return // canceled or already completed between enqueue and dequeue
	}

	t, err = p.tasks.UpdateStatus(ctx, id, task.StateRunning, &task.StatusMessage{
		Role:      task.RoleAgent,
		Parts:     []task.Part{task.TextPart("processing")},
		Timestamp: time.Now(),
	})
	if err != nil {
		p.logger.Printf("task %s: failed to mark running: %v", id, err)
		return
	}
	p.bus.PublishStatusUpdate(t.ID, t.Status, false)

	result, err := skills.Dispatch(ctx, p.deps, t.Skill, t.Params, t.ContextID)
	if err != nil {
		p.logger.Printf("task %s: skill %s dispatch error: %v", id, t.Skill, err)
		result = &skills.Result{Status: task.StateFailed}
	}

	for i, artifact := range result.Artifacts {
		if t, err = p.tasks.AddArtifact(ctx, id, artifact); err != nil {
			p.logger.Printf("task %s: failed to persist artifact: %v", id, err)
			continue
		}
		p.bus.PublishArtifactUpdate(t.ID, artifact, i == len(result.Artifacts)-1)
	}

	t, err = p.tasks.UpdateStatus(ctx, id, result.Status, nil)
	if err != nil {
		p.logger.Printf("task %s: failed to persist terminal status: %v", id, err)
		return
	}
	p.bus.PublishStatusUpdate(t.ID, t.Status, true)

	if p.audit != nil && t.Skill == "generate_proof" && result.Status == task.StateCompleted {
		p.mirrorProofRecord(ctx, t, result)
	}

	p.bus.PublishTaskComplete(t)
}

// mirrorProofRecord persists a completed proof to the optional Postgres
// audit trail. Failures are logged, never fatal to the task itself: Redis
// remains the source of truth for task state.
func (p *Pool) mirrorProofRecord(ctx context.Context, t *task.Task, result *skills.Result) {
	if len(result.Artifacts) == 0 || len(result.Artifacts[0].Parts) == 0 {
		return
	}
	data, ok := result.Artifacts[0].Parts[0].Data.(map[string]interface{})
	if !ok {
		return
	}
	circuitID, _ := t.Params["circuitId"].(string)
	record := database.ProofRecord{
		ID:              uuid.NewString(),
		TaskID:          t.ID,
		CircuitID:       circuitID,
		Fingerprint:     stringField(data["proofId"]),
		ProofHex:        stringField(data["proof"]),
		PublicInputsHex: stringField(data["publicInputs"]),
	}
	if err := p.audit.InsertProofRecord(ctx, record); err != nil {
		p.logger.Printf("task %s: audit mirror failed: %v", t.ID, err)
	}
}

func stringField(v interface{}) string {
	s, _ := v.(string)
	return s
}
