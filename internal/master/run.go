package master

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prxssh/mapreduce/api"
	"github.com/prxssh/mapreduce/internal/mapper"
	"github.com/prxssh/mapreduce/internal/reducer"
	"github.com/prxssh/mapreduce/internal/scheduler"
	"github.com/prxssh/mapreduce/internal/task"
)

const shutdownTimeout = 5 * time.Second

// Result describes a finished job.
type Result struct {
	// Outputs holds the merged output file of each reduce task, indexed by
	// reduce task number.
	Outputs []string

	// Merged is the key-sorted concatenation of Outputs.
	Merged string

	// WorkerTasks holds the task count each reachable worker reported on
	// shutdown. Empty for sequential runs.
	WorkerTasks []int

	Map    scheduler.Stats
	Reduce scheduler.Stats
}

type phaseFunc func(ctx context.Context, p scheduler.Phase) (scheduler.Stats, error)

// run executes a job: every map task, then, once all of them have
// succeeded, every reduce task, then the merge.
//
// Note that this implementation assumes a shared file system.
func run(
	ctx context.Context,
	fs api.Storer,
	dir string,
	job Job,
	schedule phaseFunc,
	setPhase func(string),
	logger *slog.Logger,
) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	logger = logger.With("job", job.Name)
	logger.Info("starting job", "files", len(job.Files), "n-reduce", job.NReduce)

	res := &Result{}
	var err error

	setPhase(task.PhaseMap.String())
	res.Map, err = schedule(ctx, scheduler.NewPhase(job.Name, task.PhaseMap, job.Files, job.NReduce))
	if err != nil {
		return res, err
	}

	setPhase(task.PhaseReduce.String())
	res.Reduce, err = schedule(ctx, scheduler.NewPhase(job.Name, task.PhaseReduce, job.Files, job.NReduce))
	if err != nil {
		return res, err
	}

	setPhase("merge")
	res.Merged, err = merge(fs, dir, job)
	if err != nil {
		return res, err
	}
	for r := 0; r < job.NReduce; r++ {
		res.Outputs = append(res.Outputs, outputPath(dir, job.Name, r))
	}

	setPhase("done")
	logger.Info("job completed", "merged", res.Merged)
	return res, nil
}

// Run executes job on the registered workers and blocks until it is done.
// Afterwards every registered worker is asked to shut down.
//
// A master runs a single job. Run blocks for as long as tasks remain and no
// worker is available; cancel ctx to give up.
func (m *Master) Run(ctx context.Context, job Job) (*Result, error) {
	if !m.used.CompareAndSwap(false, true) {
		return nil, Error.New("master already ran a job")
	}

	schedule := func(ctx context.Context, p scheduler.Phase) (scheduler.Stats, error) {
		return scheduler.Schedule(ctx, p, m.workers, m.dispatcher, m.logger)
	}
	setPhase := func(phase string) { m.setPhase(job.Name, phase) }

	res, err := run(ctx, m.fs, m.cfg.OutputDir, job, schedule, setPhase, m.logger)
	if err != nil {
		return res, err
	}

	res.WorkerTasks = m.killWorkers(ctx)
	return res, nil
}

// Sequential runs every map and reduce task in the calling goroutine,
// without RPC or workers, waiting for each task to complete before starting
// the next. It produces the same files as a distributed run and is meant for
// testing and debugging.
func Sequential(
	ctx context.Context,
	fs api.Storer,
	dir string,
	job Job,
	mapF api.MapFunc,
	reduceF api.ReduceFunc,
	logger *slog.Logger,
) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	schedule := func(ctx context.Context, p scheduler.Phase) (scheduler.Stats, error) {
		var stats scheduler.Stats
		for i := 0; i < p.NTasks; i++ {
			if err := ctx.Err(); err != nil {
				return stats, Error.Wrap(err)
			}

			stats.Attempts++
			var err error
			switch p.Phase {
			case task.PhaseMap:
				err = mapper.DoMap(fs, dir, p.JobName, i, p.Files[i], p.NOther, mapF)
			case task.PhaseReduce:
				err = reducer.DoReduce(fs, dir, p.JobName, i, p.NOther, reduceF)
			}
			if err != nil {
				stats.Failures++
				return stats, err
			}
		}
		return stats, nil
	}

	return run(ctx, fs, dir, job, schedule, func(string) {}, logger)
}

// killWorkers sends Shutdown to every registered worker and collects the
// number of tasks each has performed. Unreachable workers are skipped.
func (m *Master) killWorkers(ctx context.Context) []int {
	m.mu.Lock()
	addrs := slices.Clone(m.registered)
	m.mu.Unlock()

	slices.Sort(addrs)
	addrs = slices.Compact(addrs)

	ntasks := make([]int, len(addrs))
	reached := make([]bool, len(addrs))

	var grp errgroup.Group
	grp.SetLimit(8)
	for i, addr := range addrs {
		i, addr := i, addr
		grp.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			n, err := m.client.Shutdown(callCtx, addr)
			if err != nil {
				m.logger.Warn("shutdown worker failed", "worker-addr", addr, "error", err)
				return nil
			}
			m.logger.Debug("worker shut down", "worker-addr", addr, "tasks", n)
			ntasks[i], reached[i] = n, true
			return nil
		})
	}
	_ = grp.Wait()

	var out []int
	for i, n := range ntasks {
		if reached[i] {
			out = append(out, n)
		}
	}
	return out
}
