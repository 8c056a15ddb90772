package worker

import (
	"github.com/prxssh/mapreduce/internal/mapper"
	"github.com/prxssh/mapreduce/internal/reducer"
	"github.com/prxssh/mapreduce/internal/rpc"
	"github.com/prxssh/mapreduce/internal/task"
)

// DoTask is called by the master when a new task is being scheduled on this
// worker. A failing task is reported in the reply; the worker keeps running.
func (w *Worker) DoTask(args *rpc.DoTaskArgs, reply *rpc.DoTaskReply) error {
	d := args.Task

	if w.closing.Load() {
		reply.Err = "worker is shutting down"
		return nil
	}

	if n := w.running.Add(1); n > 1 {
		w.logger.Warn("more than one task in flight on this worker", "running", n)
	}
	defer w.running.Add(-1)

	w.logger.Info("task started", "task", d.String(), "file", d.File, "n-other", d.NumOther)

	var err error
	switch d.Phase {
	case task.PhaseMap:
		err = mapper.DoMap(w.fs, w.cfg.OutputDir, d.JobName, d.Index, d.File, d.NumOther, w.cfg.Mapper)
	case task.PhaseReduce:
		err = reducer.DoReduce(w.fs, w.cfg.OutputDir, d.JobName, d.Index, d.NumOther, w.cfg.Reducer)
	default:
		err = Error.New("unknown phase %s", d.Phase)
	}

	served := w.tasks.Add(1)

	if err != nil {
		w.logger.Warn("task failed", "task", d.String(), "error", err)
		reply.Err = err.Error()
	} else {
		w.logger.Info("task done", "task", d.String())
		reply.OK = true
	}

	if w.cfg.MaxTasks > 0 && served >= int64(w.cfg.MaxTasks) {
		w.logger.Info("task limit reached, stopping", "max-tasks", w.cfg.MaxTasks)
		w.Close()
	}

	return nil
}

// Shutdown is called by the master when all work has been completed. It
// replies with the number of tasks this worker has processed.
func (w *Worker) Shutdown(_ *rpc.ShutdownArgs, reply *rpc.ShutdownReply) error {
	w.logger.Info("shutdown requested")
	reply.NTasks = w.Tasks()
	w.Close()
	return nil
}
