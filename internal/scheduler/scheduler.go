// Package scheduler drives one phase of a job to completion on a pool of
// workers.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zeebo/errs"
	"storj.io/common/sync2"

	"github.com/prxssh/mapreduce/internal/queue"
	"github.com/prxssh/mapreduce/internal/rpc"
	"github.com/prxssh/mapreduce/internal/task"
)

// Error is the error class for scheduling failures.
var Error = errs.Class("scheduler")

// Dispatcher runs one task attempt on the worker at addr.
type Dispatcher interface {
	DoTask(ctx context.Context, addr string, d task.Descriptor) rpc.Outcome
}

// Phase describes the tasks of one phase.
type Phase struct {
	JobName string
	Phase   task.Phase

	// Files are the Map inputs, one per map task. Reduce tasks carry no file.
	Files []string

	// NTasks is the number of tasks in this phase, NOther the number in the
	// other phase.
	NTasks int
	NOther int
}

// NewPhase derives the task counts of phase for a job over files with
// nReduce reduce tasks.
func NewPhase(jobName string, phase task.Phase, files []string, nReduce int) Phase {
	p := Phase{JobName: jobName, Phase: phase, Files: files}
	switch phase {
	case task.PhaseMap:
		p.NTasks, p.NOther = len(files), nReduce
	case task.PhaseReduce:
		p.NTasks, p.NOther = nReduce, len(files)
	}
	return p
}

func (p Phase) descriptor(index int) task.Descriptor {
	d := task.Descriptor{
		JobName:  p.JobName,
		Phase:    p.Phase,
		Index:    index,
		NumOther: p.NOther,
	}
	if p.Phase == task.PhaseMap {
		d.File = p.Files[index]
	}
	return d
}

// Stats summarizes one Schedule call.
type Stats struct {
	Attempts int64
	Failures int64
}

// Schedule assigns every task of p to workers taken from workers and returns
// once each task has one successful attempt.
//
// A worker that completes a task is pushed back onto workers. A worker whose
// attempt fails in any way is dropped for good and the task is retried on
// another worker; this includes failures raised by the user's map or reduce
// function, so a deterministic bug in user code is retried forever.
//
// If tasks remain and no worker ever becomes available, Schedule blocks until
// ctx is done. A phase whose last task succeeded is reported as complete even
// when ctx ends at the same moment.
func Schedule(
	ctx context.Context,
	p Phase,
	workers *queue.Queue[string],
	dispatcher Dispatcher,
	logger *slog.Logger,
) (Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("job", p.JobName, "phase", p.Phase.String())
	logger.Info("scheduling phase", "tasks", p.NTasks, "n-other", p.NOther)

	var stats Stats
	if p.NTasks == 0 {
		return stats, nil
	}

	// pending never holds an index twice, so it can't fill up.
	pending := make(chan int, p.NTasks)
	for i := 0; i < p.NTasks; i++ {
		pending <- i
	}

	var (
		remaining atomic.Int64
		attempts  atomic.Int64
		failures  atomic.Int64
		done      sync2.Fence
		wg        sync.WaitGroup
	)
	remaining.Store(int64(p.NTasks))

	dispatch := func(addr string, index int) {
		d := p.descriptor(index)
		attempts.Add(1)

		out := dispatcher.DoTask(ctx, addr, d)
		if !out.OK {
			failures.Add(1)
			logger.Warn(
				"task attempt failed, discarding worker",
				"task-index", index,
				"worker-addr", addr,
				"kind", out.Kind.String(),
				"error", out.Err,
			)
			pending <- index
			return
		}

		logger.Debug("task completed", "task-index", index, "worker-addr", addr)
		workers.Push(addr)
		if remaining.Add(-1) == 0 {
			done.Release()
		}
	}

	err := func() error {
		for {
			select {
			case <-done.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case index := <-pending:
				addr, err := workers.Pop(ctx)
				if err != nil {
					return err
				}
				logger.Debug("assigning task", "task-index", index, "worker-addr", addr)
				wg.Add(1)
				go func() {
					defer wg.Done()
					dispatch(addr, index)
				}()
			}
		}
	}()

	wg.Wait()
	stats = Stats{Attempts: attempts.Load(), Failures: failures.Load()}
	if err != nil && remaining.Load() > 0 {
		return stats, Error.Wrap(err)
	}

	logger.Info("phase done", "attempts", stats.Attempts, "failures", stats.Failures)
	return stats, nil
}
