package master

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/errs"
	"golang.org/x/sync/errgroup"

	"github.com/prxssh/mapreduce/api"
	"github.com/prxssh/mapreduce/internal/discovery"
	"github.com/prxssh/mapreduce/internal/queue"
	"github.com/prxssh/mapreduce/internal/rpc"
	"github.com/prxssh/mapreduce/internal/scheduler"
)

// Error is the error class for master failures.
var Error = errs.Class("master")

const defaultTaskTimeout = 5 * time.Minute

// Config holds the configuration parameters for the Master node.
type Config struct {
	// Addr is the TCP address (host:port) where the Master listens for RPC
	// connections and serves /status.
	Addr string

	// OutputDir is the location where intermediate and final files are
	// stored. Workers must see the same directory.
	OutputDir string

	// TaskTimeout bounds a single DoTask RPC. A worker that does not answer
	// in time is treated as failed. Zero means 5 minutes; negative disables
	// the limit.
	TaskTimeout time.Duration

	// Discovery, if set, starts a gossip node; workers that join it are
	// added to the pool as if they had called Register.
	Discovery *discovery.Config
}

// Job describes one MapReduce execution.
type Job struct {
	// Name identifies the job and prefixes all of its files. It must be a
	// single path element.
	Name string

	// Files are the input files, one map task each.
	Files []string

	// NReduce is the number of Reduce tasks (and output partitions). Every
	// map task hashes keys into this many buckets.
	NReduce int
}

// Validate checks the job before any task is created.
func (j Job) Validate() error {
	switch {
	case j.Name == "" || j.Name == "." || j.Name == "..":
		return Error.New("invalid job name %q", j.Name)
	case strings.ContainsAny(j.Name, `/\`):
		return Error.New("job name %q must not contain path separators", j.Name)
	case j.NReduce <= 0:
		return Error.New("NReduce must be greater than 0")
	}
	return nil
}

// Master is the central coordinator of a MapReduce job.
//
// It owns the pool of available workers, accepts registrations at any time,
// and drives the map phase and then the reduce phase through the scheduler.
type Master struct {
	cfg    *Config
	logger *slog.Logger
	fs     api.Storer

	// workers holds the addresses of workers ready for a task.
	workers *queue.Queue[string]

	// seq numbers registrations, for diagnostics only.
	seq atomic.Int64

	dispatcher scheduler.Dispatcher
	client     *rpc.Client

	listener net.Listener
	server   *rpc.Server
	gossip   *discovery.Node
	grp      errgroup.Group

	used atomic.Bool

	// mu guards the fields below.
	mu         sync.Mutex
	registered []string
	status     Status
}

// Status is a snapshot of the master's progress, served as JSON on /status.
type Status struct {
	Job        string `json:"job"`
	Phase      string `json:"phase"`
	Registered int    `json:"registered"`
	Available  int    `json:"available"`
	Completed  bool   `json:"completed"`
}

// Start initializes the Master, starts the RPC server and, if configured,
// the discovery node. Workers may register as soon as Start returns.
func Start(fs api.Storer, cfg *Config, logger *slog.Logger) (*Master, error) {
	if cfg == nil {
		return nil, Error.New("config can't be nil")
	}
	if fs == nil {
		return nil, Error.New("fs is required")
	}

	m := &Master{
		cfg:     cfg,
		logger:  logger,
		fs:      fs,
		workers: queue.New[string](),
		server:  rpc.NewServer(),
		status:  Status{Phase: "idle"},
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	timeout := cfg.TaskTimeout
	if timeout == 0 {
		timeout = defaultTaskTimeout
	}
	if timeout < 0 {
		timeout = 0
	}
	m.client = &rpc.Client{Timeout: timeout}
	m.dispatcher = m.client

	if err := m.server.Register("Master", m); err != nil {
		return nil, err
	}
	m.server.Handle("/status", http.HandlerFunc(m.serveStatus))

	l, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	m.listener = l

	m.grp.Go(func() error { return m.server.Serve(l) })
	m.logger.Info("master server started", "addr", m.Addr())

	if cfg.Discovery != nil {
		gossip, err := discovery.New(*cfg.Discovery, func(_, addr string) {
			m.register(addr, "gossip")
		}, m.logger)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.gossip = gossip
		m.logger.Info("discovery started", "gossip-addr", gossip.Addr())
	}

	return m, nil
}

// Addr returns the address the master serves RPCs on.
func (m *Master) Addr() string {
	return m.listener.Addr().String()
}

// GossipAddr returns the discovery address workers join, or "" when
// discovery is disabled.
func (m *Master) GossipAddr() string {
	if m.gossip == nil {
		return ""
	}
	return m.gossip.Addr()
}

// AddWorkers seeds the pool with workers known ahead of time.
func (m *Master) AddWorkers(addrs ...string) {
	for _, addr := range addrs {
		m.register(addr, "seed")
	}
}

// Status returns a snapshot of the master's progress.
func (m *Master) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.status
	s.Registered = len(m.registered)
	s.Available = m.workers.Len()
	return s
}

// Close stops the RPC server and leaves the gossip cluster.
func (m *Master) Close() error {
	if m.gossip != nil {
		if err := m.gossip.Leave(time.Second); err != nil {
			m.logger.Warn("failed to leave gossip cluster", "error", err)
		}
	}

	var group errs.Group
	group.Add(m.server.Close())
	group.Add(m.grp.Wait())
	return group.Err()
}

func (m *Master) register(addr, via string) int64 {
	seq := m.seq.Add(1)

	m.mu.Lock()
	m.registered = append(m.registered, addr)
	m.mu.Unlock()

	m.workers.Push(addr)
	m.logger.Info("worker registered", "worker-addr", addr, "seq", seq, "via", via)
	return seq
}

func (m *Master) setPhase(job, phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Job = job
	m.status.Phase = phase
	m.status.Completed = phase == "done"
}

func (m *Master) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.Status()); err != nil {
		m.logger.Warn("failed to write status", "error", err)
	}
}
