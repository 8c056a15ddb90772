package worker

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"golang.org/x/sync/errgroup"
	"storj.io/common/errs2"
	"storj.io/common/sync2"

	"github.com/prxssh/mapreduce/api"
	"github.com/prxssh/mapreduce/internal/rpc"
)

// Error is the error class for worker failures.
var Error = errs.Class("worker")

const (
	defaultRegisterAttempts = 10
	registerBackoffMin      = 100 * time.Millisecond
	registerBackoffMax      = 2 * time.Second
)

// Config holds the runtime configuration and user-defined functions for a
// Worker.
type Config struct {
	// MasterAddr is the TCP address (host:port) of the Master node. The worker
	// registers there once it is listening. If empty the worker does not
	// register and must be handed to the master some other way (gossip
	// discovery or seeding).
	MasterAddr string

	// Addr is the TCP address the worker listens on for task RPCs. Use port
	// 0 to pick a free port.
	Addr string

	// Mapper is the user-defined Map function.
	Mapper api.MapFunc

	// Reducer is the user-defined Reduce function.
	// It is called once for each unique key in the reduce phase.
	Reducer api.ReduceFunc

	// OutputDir is the directory, on storage shared with the master, under
	// which intermediate and output files are read and written.
	OutputDir string

	// MaxTasks makes the worker stop listening after serving that many
	// DoTask calls. Zero means unbounded. It exists to test how the master
	// copes with workers that disappear.
	MaxTasks int

	// RegisterAttempts bounds how often registration is tried before Run
	// gives up. Zero means a default of 10.
	RegisterAttempts int
}

// Worker is a long-lived RPC server executing map and reduce tasks on
// request. It is stateless apart from counters; all data lives in the
// Storer.
type Worker struct {
	cfg    *Config
	logger *slog.Logger

	// id is a unique identifier generated at startup.
	id uuid.UUID

	// fs is the abstraction for the underlying storage system. The worker
	// uses this to read inputs and write results.
	fs api.Storer

	listener net.Listener
	server   *rpc.Server

	tasks   atomic.Int64
	running atomic.Int32
	closing atomic.Bool
	stopped sync2.Fence
}

// New validates cfg, binds the listening socket and registers the RPC
// service. Call Run to start serving.
func New(fs api.Storer, cfg *Config, logger *slog.Logger) (*Worker, error) {
	if cfg == nil {
		return nil, Error.New("config can't be nil")
	}

	if fs == nil {
		return nil, Error.New("fs is required")
	}

	if cfg.Mapper == nil || cfg.Reducer == nil {
		return nil, Error.New("mapper and reducer are required")
	}

	w := &Worker{
		cfg:    cfg,
		logger: logger,
		id:     uuid.New(),
		fs:     fs,
		server: rpc.NewServer(),
	}
	if logger == nil {
		w.logger = slog.Default()
	}

	if err := w.server.Register("Worker", w); err != nil {
		return nil, err
	}

	l, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	w.listener = l
	w.logger = w.logger.With("worker-id", w.id.String(), "worker-addr", w.Addr())

	return w, nil
}

// Start creates a worker and runs it until it is shut down or ctx ends.
func Start(ctx context.Context, fs api.Storer, cfg *Config, logger *slog.Logger) error {
	w, err := New(fs, cfg, logger)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// Addr returns the address the worker serves RPCs on.
func (w *Worker) Addr() string {
	return w.listener.Addr().String()
}

// ID returns the worker's instance id.
func (w *Worker) ID() uuid.UUID {
	return w.id
}

// Tasks returns the number of DoTask calls served so far.
func (w *Worker) Tasks() int {
	return int(w.tasks.Load())
}

// Run serves RPCs and registers with the master. It returns once the worker
// received Shutdown, reached MaxTasks, was closed, or ctx ended.
func (w *Worker) Run(ctx context.Context) error {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		w.logger.Info("worker serving")
		return w.server.Serve(w.listener)
	})

	grp.Go(func() error {
		select {
		case <-w.stopped.Done():
		case <-gctx.Done():
		}
		return w.server.Close()
	})

	if w.cfg.MasterAddr != "" {
		grp.Go(func() error {
			if err := w.register(gctx); err != nil {
				w.Close()
				return err
			}
			return nil
		})
	}

	err := errs2.IgnoreCanceled(grp.Wait())
	w.logger.Info("worker stopped", "tasks", w.Tasks())
	return err
}

// Close stops accepting tasks and makes Run return.
func (w *Worker) Close() {
	w.closing.Store(true)
	w.stopped.Release()
}

func (w *Worker) register(ctx context.Context) error {
	attempts := w.cfg.RegisterAttempts
	if attempts <= 0 {
		attempts = defaultRegisterAttempts
	}

	args := &rpc.RegisterArgs{Worker: w.Addr(), ID: w.id}
	backoff := registerBackoffMin

	var lastErr error
	for i := 0; i < attempts; i++ {
		reply, err := rpc.Register(ctx, w.cfg.MasterAddr, args)
		if err == nil {
			w.logger.Info("registered with master", "master-addr", w.cfg.MasterAddr, "seq", reply.Seq)
			return nil
		}

		lastErr = err
		w.logger.Warn("register failed, retrying", "master-addr", w.cfg.MasterAddr, "attempt", i+1, "error", err)

		if !sync2.Sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = min(2*backoff, registerBackoffMax)
	}

	return Error.New("register with %s: %v", w.cfg.MasterAddr, lastErr)
}
