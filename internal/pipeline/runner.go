package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/o2c-export/internal/model"
	"github.com/sells-group/o2c-export/internal/period"
	"github.com/sells-group/o2c-export/internal/progress"
)

// ErrRunInProgress is returned by Start while another run is active.
var ErrRunInProgress = eris.New("pipeline: an export run is already in progress")

// maxJobs bounds how many finished jobs keep their progress in memory.
const maxJobs = 20

// Job is one background run.
type Job struct {
	RunID    string
	Progress *progress.Buffer

	done chan struct{}
	err  error
}

// Done is closed once the run reaches a terminal status.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err is the run error. Only valid after Done is closed.
func (j *Job) Err() error { return j.err }

// Runner executes at most one run at a time in the background and keeps its
// progress lines for polling.
type Runner struct {
	p *Pipeline

	mu     sync.Mutex
	active *Job
	jobs   map[string]*Job
	order  []string
}

// NewRunner creates a Runner around p.
func NewRunner(p *Pipeline) *Runner {
	return &Runner{p: p, jobs: make(map[string]*Job)}
}

// Start records a run and executes it on its own goroutine. The run outlives
// ctx; only ctx values are kept.
func (r *Runner) Start(ctx context.Context, per period.Period, trigger model.Trigger) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, eris.Wrapf(ErrRunInProgress, "run %s", r.active.RunID)
	}

	run, err := r.p.store.CreateRun(ctx, per.Month(), trigger)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	snapshot := *run

	job := &Job{RunID: run.ID, Progress: progress.NewBuffer(), done: make(chan struct{})}
	r.active = job
	r.remember(job)

	bg := context.WithoutCancel(ctx)
	go func() {
		_, err := r.p.Execute(bg, run, per, job.Progress)
		if err != nil {
			zap.L().Warn("runner: run failed", zap.String("run_id", run.ID), zap.Error(err))
		}

		r.mu.Lock()
		job.err = err
		r.active = nil
		r.mu.Unlock()
		close(job.done)
	}()

	return &snapshot, nil
}

// Job returns the in-memory job for runID, if still retained.
func (r *Runner) Job(runID string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[runID]
	return j, ok
}

// Active returns the id of the running job, or "".
func (r *Runner) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.RunID
}

// Snapshot is a polled view of a job.
type Snapshot struct {
	Lines []string
	// Done is set once the job goroutine has finished; no line follows it.
	Done bool
}

// Snapshot returns progress lines of runID from index since on and whether
// the job has finished. The second result is false for unknown jobs.
func (r *Runner) Snapshot(runID string, since int) (Snapshot, bool) {
	j, ok := r.Job(runID)
	if !ok {
		return Snapshot{}, false
	}
	// Done is read before the lines, so a finished job never loses its tail.
	done := false
	select {
	case <-j.done:
		done = true
	default:
	}
	return Snapshot{Lines: j.Progress.Lines(since), Done: done}, true
}

// remember must be called with mu held.
func (r *Runner) remember(job *Job) {
	r.jobs[job.RunID] = job
	r.order = append(r.order, job.RunID)
	for len(r.order) > maxJobs {
		oldest := r.order[0]
		if j := r.jobs[oldest]; j == r.active {
			break
		}
		delete(r.jobs, oldest)
		r.order = r.order[1:]
	}
}
