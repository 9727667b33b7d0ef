package dag

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"stagerunner/internal/artifact"
	"stagerunner/internal/cond"
	"stagerunner/internal/exec"
)

// Observer receives job lifecycle notifications. Implementations must be
// cheap; calls happen under the executor's state lock.
type Observer interface {
	JobStarted(stage, job string)
	JobFinished(stage, job string, state JobState)
}

// Executor runs a RunGraph to completion.
//
// All state reads and writes are synchronized by mu; step execution happens
// outside the lock on a bounded worker pool. Fail-fast cancellation is
// cooperative and racy by design: a sibling may complete before observing
// the cancellation signal, and its result is still recorded.
type Executor struct {
	Graph     *RunGraph
	Steps     exec.StepExecutor
	Artifacts artifact.Store
	Context   cond.Vars // run-context variables for gate evaluation

	RunID       string
	Concurrency int
	Log         *zap.Logger
	Observer    Observer

	mu       sync.Mutex
	state    ExecutionState
	outcomes map[string]*JobOutcome
	open     map[string]bool       // stages whose gate resolved open
	decided  map[string]bool       // stages whose disposition is resolved
	skipped  map[string]SkipReason // reason per skipped stage
	ffFired  map[string]bool       // stages where fail-fast triggered

	stageCtx    map[string]context.Context
	stageCancel map[string]context.CancelFunc

	order    []string
	inFlight int
}

// NewExecutor creates an executor with every job initialized to pending.
func NewExecutor(rg *RunGraph, steps exec.StepExecutor, store artifact.Store, vars cond.Vars) (*Executor, error) {
	if rg == nil {
		return nil, fmt.Errorf("nil run graph")
	}
	if steps == nil {
		return nil, fmt.Errorf("nil step executor")
	}
	if store == nil {
		return nil, fmt.Errorf("nil artifact store")
	}

	e := &Executor{
		Graph:     rg,
		Steps:     steps,
		Artifacts: store,
		Context:   vars,
		state:     make(ExecutionState, len(rg.jobs)),
		outcomes:  make(map[string]*JobOutcome, len(rg.jobs)),
		open:      make(map[string]bool),
		decided:   make(map[string]bool),
		skipped:   make(map[string]SkipReason),
		ffFired:   make(map[string]bool),
	}
	for id, job := range rg.jobs {
		e.state[id] = StatePending
		e.outcomes[id] = &JobOutcome{
			Job:        id,
			Stage:      job.Stage,
			Assignment: job.Assignment,
			State:      StatePending,
		}
	}
	return e, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

type workItem struct {
	job *JobInstance
	ctx context.Context
}

type jobFailureKind int

const (
	jobOK jobFailureKind = iota
	jobFailedStep
	jobMissingArtifact
	jobTimeout
	jobCancelled
	jobInfraError
	jobPublishError
)

type workResult struct {
	job      *JobInstance
	kind     jobFailureKind
	steps    []StepOutcome
	err      error
	duration time.Duration
}

// Run executes the graph and returns its result. A non-nil error means an
// engine invariant broke; job-level failures are reported in the Result,
// never as an error.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conc := e.Concurrency
	if conc <= 0 {
		conc = runtime.NumCPU()
	}
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}

	e.stageCtx = make(map[string]context.Context)
	e.stageCancel = make(map[string]context.CancelFunc)
	for _, node := range e.Graph.Stages.Nodes() {
		sctx, cancel := context.WithCancel(ctx)
		e.stageCtx[node.Name] = sctx
		e.stageCancel[node.Name] = cancel
	}
	defer func() {
		for _, cancel := range e.stageCancel {
			cancel()
		}
	}()

	workCh := make(chan workItem, conc)
	doneCh := make(chan workResult, conc)

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			wg.Wait()
		})
	}
	for i := 0; i < conc; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				doneCh <- e.runJob(w)
			}
		}()
	}

	ctxDone := ctx.Done()
	for {
		e.mu.Lock()
		e.resolveStages(log)

		ready := ReadyJobs(e.Graph, e.state, e.open)
		for _, id := range ready {
			if e.inFlight >= conc {
				break
			}
			job := e.Graph.jobs[id]
			if err := Transition(e.state, id, StatePending, StateRunning); err != nil {
				e.mu.Unlock()
				stopWorkers()
				return nil, err
			}
			e.outcomes[id].State = StateRunning
			e.order = append(e.order, id)
			e.inFlight++
			if e.Observer != nil {
				e.Observer.JobStarted(job.Stage, id)
			}
			log.Info("job started", zap.String("stage", job.Stage), zap.String("job", id))
			workCh <- workItem{job: job, ctx: e.stageCtx[job.Stage]}
		}

		allTerminal := true
		for _, st := range e.state {
			if !IsTerminal(st) {
				allTerminal = false
				break
			}
		}
		inFlight := e.inFlight
		e.mu.Unlock()

		if allTerminal && inFlight == 0 {
			break
		}
		if inFlight == 0 {
			// Nothing running, nothing dispatchable, not finished: broken
			// invariant rather than a schedulable situation.
			stopWorkers()
			return nil, fmt.Errorf("no ready jobs but run not finished")
		}

		select {
		case <-ctxDone:
			ctxDone = nil
			e.cancelRun(log)
		case r := <-doneCh:
			if err := e.handleResult(r, log); err != nil {
				stopWorkers()
				return nil, err
			}
		}
	}

	stopWorkers()
	return e.buildResult(), nil
}

// resolveStages decides stage dispositions to a fixpoint: once every needed
// stage has settled, the stage's gate is evaluated; a closed (or
// unevaluable) gate skips the stage as gate-closed, an unsatisfied upstream
// skips it as dependency-failed or dependency-skipped depending on how the
// upstream settled, otherwise it opens for dispatch. Caller holds mu.
func (e *Executor) resolveStages(log *zap.Logger) {
	for changed := true; changed; {
		changed = false
		for _, name := range e.Graph.Stages.TopologicalOrder() {
			if e.decided[name] {
				continue
			}
			node, _ := e.Graph.Stages.Node(name)
			if !e.needsSettled(node.Spec.Needs) {
				continue
			}

			// The stage's own gate wins over upstream failure for
			// reporting: a stage that would not have run anyway reports
			// gate-closed, not dependency-failed.
			if gate := e.Graph.Gate(name); gate != nil {
				ok, err := gate.Eval(e.Context)
				if err != nil {
					// Fail safe: an unresolvable condition must never let
					// an unsafe stage run.
					log.Warn("gate evaluation failed, closing gate",
						zap.String("stage", name), zap.Error(err))
				}
				if err != nil || !ok {
					e.skipStage(name, SkipGateClosed, err)
					changed = true
					continue
				}
			}

			if e.needsAllSucceeded(node.Spec.Needs) {
				e.open[name] = true
				e.decided[name] = true
				changed = true
			} else {
				e.skipStage(name, e.dependencySkipReason(node.Spec.Needs), nil)
				changed = true
			}
		}
	}
}

func (e *Executor) needsSettled(needs []string) bool {
	for _, need := range needs {
		for _, id := range e.Graph.jobsByStage[need] {
			if !IsTerminal(e.state[id]) {
				return false
			}
		}
	}
	return true
}

// dependencySkipReason classifies why a stage's needs settled short of
// success. Any failed or cancelled upstream job means dependency_failed; a
// purely gate-originated upstream skip propagates as dependency_skipped so
// the report keeps gating distinct from failure. Caller holds mu.
func (e *Executor) dependencySkipReason(needs []string) SkipReason {
	sawGateSkip := false
	for _, need := range needs {
		for _, id := range e.Graph.jobsByStage[need] {
			switch e.state[id] {
			case StateFailed, StateCancelled:
				return SkipDependencyFailed
			}
		}
		switch e.skipped[need] {
		case SkipGateClosed, SkipDependencySkipped:
			sawGateSkip = true
		}
	}
	if sawGateSkip {
		return SkipDependencySkipped
	}
	return SkipDependencyFailed
}

func (e *Executor) needsAllSucceeded(needs []string) bool {
	for _, need := range needs {
		for _, id := range e.Graph.jobsByStage[need] {
			if e.state[id] != StateSucceeded {
				return false
			}
		}
	}
	return true
}

// skipStage marks every pending job of the stage skipped. The stage-level
// reason is recorded only when a job actually skipped: after run
// cancellation the jobs are already cancelled, and a cancelled stage must
// not surface a skip reason in the report. Caller holds mu.
func (e *Executor) skipStage(name string, reason SkipReason, cause error) {
	e.decided[name] = true
	for _, id := range e.Graph.jobsByStage[name] {
		if e.state[id] != StatePending {
			continue
		}
		if err := Transition(e.state, id, StatePending, StateSkipped); err != nil {
			// Unreachable: the stage never opened, so no job left pending
			// can be in another state.
			continue
		}
		e.skipped[name] = reason
		out := e.outcomes[id]
		out.State = StateSkipped
		out.SkipReason = reason
		if cause != nil {
			out.Err = cause.Error()
		}
		if e.Observer != nil {
			e.Observer.JobFinished(name, id, StateSkipped)
		}
	}
}

// cancelRun handles run-context cancellation: every stage context is
// cancelled and every not-yet-started job moves straight to cancelled.
// In-flight jobs report back through the normal completion path.
func (e *Executor) cancelRun(log *zap.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log.Info("run cancelled, stopping in-flight jobs")
	for _, cancel := range e.stageCancel {
		cancel()
	}
	for id, st := range e.state {
		if st != StatePending {
			continue
		}
		if err := Transition(e.state, id, StatePending, StateCancelled); err != nil {
			continue
		}
		out := e.outcomes[id]
		out.State = StateCancelled
		out.Err = "run cancelled"
		if e.Observer != nil {
			e.Observer.JobFinished(out.Stage, id, StateCancelled)
		}
	}
}

// handleResult folds one completed job back into the state machine.
func (e *Executor) handleResult(r workResult, log *zap.Logger) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inFlight--
	job := r.job
	out := e.outcomes[job.ID]
	out.Steps = r.steps
	out.Duration = r.duration

	switch r.kind {
	case jobOK:
		if err := Transition(e.state, job.ID, StateRunning, StateSucceeded); err != nil {
			return err
		}
		out.State = StateSucceeded
		log.Info("job succeeded", zap.String("job", job.ID),
			zap.Duration("duration", r.duration))

	case jobCancelled:
		// The cancellation request won the race; a completed result would
		// have arrived as jobOK or jobFailedStep instead.
		if err := Transition(e.state, job.ID, StateRunning, StateCancelled); err != nil {
			return err
		}
		out.State = StateCancelled
		if r.err != nil {
			out.Err = r.err.Error()
		}
		log.Debug("job cancelled", zap.String("job", job.ID))

	default:
		cause := CauseStepFailure
		switch r.kind {
		case jobMissingArtifact:
			cause = CauseMissingArtifact
		case jobTimeout:
			cause = CauseTimeout
		}
		if err := Transition(e.state, job.ID, StateRunning, StateFailed); err != nil {
			return err
		}
		out.State = StateFailed
		out.Cause = cause
		if r.err != nil {
			out.Err = r.err.Error()
		}
		log.Info("job failed", zap.String("job", job.ID),
			zap.String("cause", string(cause)), zap.Error(r.err))
		e.failFast(job, log)
	}

	if e.Observer != nil {
		e.Observer.JobFinished(job.Stage, job.ID, e.state[job.ID])
	}
	return nil
}

// failFast applies the stage's fail-fast policy after a sibling failure:
// in-flight siblings get a cooperative cancellation signal, not-yet-started
// siblings move straight to cancelled. Caller holds mu.
func (e *Executor) failFast(job *JobInstance, log *zap.Logger) {
	if !job.FailFast || e.ffFired[job.Stage] {
		return
	}
	e.ffFired[job.Stage] = true
	e.stageCancel[job.Stage]()

	for _, id := range e.Graph.jobsByStage[job.Stage] {
		if e.state[id] != StatePending {
			continue
		}
		if err := Transition(e.state, id, StatePending, StateCancelled); err != nil {
			continue
		}
		out := e.outcomes[id]
		out.State = StateCancelled
		out.Err = fmt.Sprintf("fail-fast: sibling %q failed", job.ID)
		if e.Observer != nil {
			e.Observer.JobFinished(job.Stage, id, StateCancelled)
		}
	}
	log.Info("fail-fast triggered", zap.String("stage", job.Stage),
		zap.String("failed_job", job.ID))
}

// runJob executes one job instance on a worker goroutine: resolve consumed
// artifacts, run the steps in order, then publish declared artifacts. The
// publish happens before the result is reported, so the job's terminal
// transition is the visibility barrier for consumers.
func (e *Executor) runJob(w workItem) (res workResult) {
	job := w.job
	res.job = job
	start := time.Now()
	defer func() { res.duration = time.Since(start) }()

	ctx := w.ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	blobs, err := e.resolveConsumes(job)
	if err != nil {
		res.kind = jobMissingArtifact
		res.err = err
		return res
	}

	jc := exec.JobContext{
		RunID:      e.RunID,
		Stage:      job.Stage,
		JobID:      job.ID,
		Assignment: job.Assignment,
		Outputs:    job.Outputs,
		Artifacts:  blobs,
	}

	harvested := make(map[string][]byte)
	for _, step := range job.Steps {
		sres, err := e.Steps.ExecuteStep(ctx, step, jc)
		if err != nil {
			switch {
			case w.ctx.Err() != nil:
				res.kind = jobCancelled
			case ctx.Err() == context.DeadlineExceeded:
				res.kind = jobTimeout
			default:
				res.kind = jobInfraError
			}
			res.err = err
			return res
		}
		res.steps = append(res.steps, StepOutcome{
			Name:     step.Name,
			ExitCode: sres.ExitCode,
			Stdout:   sres.Stdout,
			Stderr:   sres.Stderr,
		})
		if sres.ExitCode != 0 {
			res.kind = jobFailedStep
			res.err = fmt.Errorf("step %q exited with code %d", step.Name, sres.ExitCode)
			return res
		}
		for name, blob := range sres.Harvested {
			harvested[name] = blob
		}
	}

	for _, name := range job.Produce {
		blob, ok := harvested[name]
		if !ok {
			res.kind = jobPublishError
			res.err = fmt.Errorf("declared artifact %q was not produced", name)
			return res
		}
		id := artifact.ProducerID{Stage: job.Stage, Qualifier: job.Qualifier}
		if err := e.Artifacts.Put(id, name, blob); err != nil {
			res.kind = jobPublishError
			res.err = err
			return res
		}
	}

	res.kind = jobOK
	return res
}

// resolveConsumes fetches every consumed artifact before the job's steps
// run. A producer that did not publish (skipped, failed, or never declared
// for that fan-out instance) surfaces as a missing-artifact failure, never
// a silent empty blob.
func (e *Executor) resolveConsumes(job *JobInstance) (map[string][]byte, error) {
	if len(job.Consume) == 0 {
		return nil, nil
	}
	blobs := make(map[string][]byte)
	for _, ref := range job.Consume {
		matched := 0
		for _, producerID := range e.Graph.jobsByStage[ref.Stage] {
			producer, _ := e.Graph.Job(producerID)
			if !producer.Assignment.Matches(ref.Matrix) {
				continue
			}
			matched++
			id := artifact.ProducerID{Stage: producer.Stage, Qualifier: producer.Qualifier}
			blob, err := e.Artifacts.Get(id, ref.Name)
			if err != nil {
				return nil, fmt.Errorf("consume %s/%s: %w", id, ref.Name, err)
			}
			blobs[id.String()+"/"+ref.Name] = blob
		}
		if matched == 0 {
			return nil, fmt.Errorf("consume %s/%s: no producer instance matches %v",
				ref.Stage, ref.Name, ref.Matrix)
		}
	}
	return blobs, nil
}

// buildResult assembles the final report. Stage status: all jobs skipped is
// a skipped stage; all succeeded is a succeeded stage; anything else
// (including succeeded siblings next to cancelled ones after fail-fast) is
// a failed stage. The run succeeds iff no stage failed; an all-skipped run
// is a success, because gating is not failure.
func (e *Executor) buildResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	stageStatus := make(map[string]StageStatus, len(e.Graph.jobsByStage))
	status := RunSucceeded
	for _, node := range e.Graph.Stages.Nodes() {
		allSkipped, allSucceeded := true, true
		for _, id := range e.Graph.jobsByStage[node.Name] {
			switch e.state[id] {
			case StateSkipped:
				allSucceeded = false
			case StateSucceeded:
				allSkipped = false
			default:
				allSkipped, allSucceeded = false, false
			}
		}
		switch {
		case allSkipped:
			stageStatus[node.Name] = StageSkipped
		case allSucceeded:
			stageStatus[node.Name] = StageSucceeded
		default:
			stageStatus[node.Name] = StageFailed
			status = RunFailed
		}
	}

	jobs := make(map[string]*JobOutcome, len(e.outcomes))
	for id, out := range e.outcomes {
		cp := *out
		jobs[id] = &cp
	}
	skip := make(map[string]SkipReason, len(e.skipped))
	for k, v := range e.skipped {
		skip[k] = v
	}

	return &Result{
		Status:         status,
		FinalState:     e.state.Clone(),
		Jobs:           jobs,
		StageStatus:    stageStatus,
		StageSkip:      skip,
		ExecutionOrder: append([]string(nil), e.order...),
		Manifest:       e.Artifacts.Manifest(),
	}
}
