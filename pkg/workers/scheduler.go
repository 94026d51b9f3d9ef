// Package workers implements the two periodic maintenance jobs named
// in spec.md §4.6: quality aggregation and sleep-time distillation.
// Both are scheduled by elapsed-time only — the scheduler ticks on a
// short, fixed cadence, and each job decides for itself (by reading
// its own DeploymentConfig last-run key) whether enough time has
// passed to actually do work, so a duplicate tick before a job's
// interval elapses produces no work (spec.md §5: "jobs are idempotent
// at the last_run-advance step so duplicate firings produce no
// duplicate work").
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic maintenance task. Run reports whether it
// actually did work this tick; false is the common case (the elapsed-
// time gate declined), not an error.
type Job interface {
	Name() string
	Run(ctx context.Context) (workDone bool, err error)
}

// Scheduler polls each registered Job on a fixed tick, one goroutine
// per job, following the teacher's pkg/queue/worker.go run() loop
// shape: select on stop channel / ticker / context, errors are logged
// and never stop the loop.
type Scheduler struct {
	jobs []Job
	tick time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler wires a Scheduler. tick is how often each job's Run is
// invoked to re-check its own elapsed-time gate; operators should set
// it well under the shortest job interval (spec.md's defaults: 10 min
// quality aggregation, 30 min distillation).
func NewScheduler(tick time.Duration, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, tick: tick, stopCh: make(chan struct{})}
}

// Start runs every job's polling loop in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.run(ctx, j)
	}
}

// Stop signals every job loop to exit and waits for them. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, j Job) {
	defer s.wg.Done()

	log := slog.With("job", j.Name())
	log.Info("worker job started")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			log.Info("worker job stopping")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker job stopping")
			return
		case <-ticker.C:
			workDone, err := j.Run(ctx)
			if err != nil {
				log.Error("worker job run failed", "error", err)
				continue
			}
			if workDone {
				log.Info("worker job completed work")
			}
		}
	}
}
