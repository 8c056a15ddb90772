package mapreduce

import (
	"log/slog"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/zeebo/errs"

	"github.com/prxssh/mapreduce/api"
)

// Error is the error class for invalid configuration and driver failures.
var Error = errs.Class("mapreduce")

const (
	defaultMasterAddr  = "127.0.0.1:6969"
	defaultWorkerAddr  = "127.0.0.1:0"
	defaultOutputDir   = "."
	defaultJobName     = "job"
	defaultTaskTimeout = 5 * time.Minute
)

// Role represents the operational mode of the process.
//
// A single binary can behave as a Master (coordinator), a Worker, or run
// the whole job in-process based on this flag.
type Role string

const (
	// RoleMaster indicates this instance acts as the coordinator.
	// It accepts worker registrations and schedules tasks on them.
	RoleMaster Role = "master"

	// RoleWorker indicates this instance acts as a task executor.
	// It registers with the Master and executes the Map/Reduce logic on
	// request.
	RoleWorker Role = "worker"

	// RoleSequential runs every task in this process, one after another,
	// without RPC. Useful for testing and debugging.
	RoleSequential Role = "sequential"
)

// Config holds the infrastructure settings and user-defined logic for a
// MapReduce job.
type Config struct {
	// MasterAddr is the connection string (e.g., "localhost:6969") for the
	// Master. Workers use it to register. The Master listens on it.
	MasterAddr string

	// WorkerAddr is the address a worker listens on for tasks. Port 0 picks
	// a free port.
	WorkerAddr string

	// Role determines the runtime behaviour of this process.
	Role Role

	// Mapper is the user's Map function (required).
	Mapper api.MapFunc

	// Reducer is the user's Reduce function (required).
	Reducer api.ReduceFunc

	// JobName names the job and prefixes all of its files.
	JobName string

	// InputFiles are the Map inputs, one task each.
	InputFiles []string

	// InputGlob, if set, is expanded and appended to InputFiles.
	InputGlob string

	// ReduceTasks is the number of output partitions (R).
	ReduceTasks int

	// OutputDir is the directory where intermediate and output files are
	// written. Master and workers must share it. Defaults to the working
	// directory.
	OutputDir string

	// MaxTasks makes a worker exit after serving that many tasks. Zero means
	// unbounded.
	MaxTasks int

	// TaskTimeout bounds each task RPC issued by the master.
	TaskTimeout time.Duration

	// DiscoveryAddr, on the master, is the "host:port" its gossip node binds
	// to. Empty disables discovery.
	DiscoveryAddr string

	// DiscoveryJoin, on a worker, is the master's gossip address. When set
	// the worker announces itself over gossip instead of calling Register.
	DiscoveryJoin string

	// LogLevel is the minimum level logged to stderr.
	LogLevel slog.Level

	// Storer is the storage backend. If nil, the local file system is used.
	Storer api.Storer
}

type Option func(*Config)

// WithMasterAddr sets the address of the Master (e.g., "localhost:5454").
func WithMasterAddr(addr string) Option {
	return func(c *Config) {
		c.MasterAddr = addr
	}
}

// WithWorkerAddr sets the address a worker listens on.
func WithWorkerAddr(addr string) Option {
	return func(c *Config) {
		c.WorkerAddr = addr
	}
}

// WithRole sets the role to Master, Worker or Sequential.
func WithRole(role Role) Option {
	return func(c *Config) {
		c.Role = role
	}
}

// WithMapper sets the user's Map function.
func WithMapper(fn api.MapFunc) Option {
	return func(c *Config) {
		c.Mapper = fn
	}
}

// WithReducer sets the user's Reduce function.
func WithReducer(fn api.ReduceFunc) Option {
	return func(c *Config) {
		c.Reducer = fn
	}
}

// WithJobName sets the job name.
func WithJobName(name string) Option {
	return func(c *Config) {
		c.JobName = name
	}
}

// WithInputFiles appends input files.
func WithInputFiles(files ...string) Option {
	return func(c *Config) {
		c.InputFiles = append(c.InputFiles, files...)
	}
}

// WithInputGlob sets a glob pattern of input files.
func WithInputGlob(pattern string) Option {
	return func(c *Config) {
		c.InputGlob = pattern
	}
}

// WithReduceTasks sets the number of output partitions (R).
func WithReduceTasks(n int) Option {
	return func(c *Config) {
		c.ReduceTasks = n
	}
}

// WithOutputDir sets the directory for intermediate and output files.
func WithOutputDir(dir string) Option {
	return func(c *Config) {
		c.OutputDir = dir
	}
}

// WithMaxTasks bounds the number of tasks a worker serves before exiting.
func WithMaxTasks(n int) Option {
	return func(c *Config) {
		c.MaxTasks = n
	}
}

// WithTaskTimeout sets the per-task RPC timeout.
func WithTaskTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.TaskTimeout = d
	}
}

// WithDiscoveryAddr enables gossip discovery on the master.
func WithDiscoveryAddr(addr string) Option {
	return func(c *Config) {
		c.DiscoveryAddr = addr
	}
}

// WithDiscoveryJoin makes a worker announce itself through the master's
// gossip node at addr.
func WithDiscoveryJoin(addr string) Option {
	return func(c *Config) {
		c.DiscoveryJoin = addr
	}
}

// WithLogLevel sets the minimum log level.
func WithLogLevel(level slog.Level) Option {
	return func(c *Config) {
		c.LogLevel = level
	}
}

// WithStorer sets the storage backend.
func WithStorer(s api.Storer) Option {
	return func(c *Config) {
		c.Storer = s
	}
}

func defaultConfig() *Config {
	return &Config{
		MasterAddr:  defaultMasterAddr,
		WorkerAddr:  defaultWorkerAddr,
		Role:        RoleSequential,
		JobName:     defaultJobName,
		ReduceTasks: 1,
		OutputDir:   defaultOutputDir,
		TaskTimeout: defaultTaskTimeout,
		LogLevel:    slog.LevelInfo,
	}
}

func NewConfig(opts ...Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

func (cfg *Config) validate() error {
	if cfg.Role != RoleMaster && cfg.Role != RoleWorker && cfg.Role != RoleSequential {
		return Error.New("invalid Role '%s' (must be 'master', 'worker' or 'sequential')", cfg.Role)
	}

	if cfg.Role != RoleMaster {
		if cfg.Mapper == nil {
			return Error.New("Mapper function is required")
		}
		if cfg.Reducer == nil {
			return Error.New("Reducer function is required")
		}
	}

	if cfg.Role != RoleSequential && cfg.MasterAddr == "" && cfg.DiscoveryJoin == "" {
		return Error.New("MasterAddr cannot be empty")
	}

	if cfg.Role != RoleWorker {
		if cfg.ReduceTasks <= 0 {
			return Error.New("ReduceTasks must be greater than 0")
		}
		if cfg.JobName == "" {
			return Error.New("JobName cannot be empty")
		}
	}

	if cfg.MaxTasks < 0 {
		return Error.New("MaxTasks must not be negative")
	}

	if cfg.DiscoveryAddr != "" {
		if _, _, err := splitHostPort(cfg.DiscoveryAddr); err != nil {
			return err
		}
	}

	return nil
}

// inputFiles returns InputFiles followed by the sorted matches of InputGlob.
func (cfg *Config) inputFiles() ([]string, error) {
	files := append([]string(nil), cfg.InputFiles...)
	if cfg.InputGlob != "" {
		matches, err := filepath.Glob(cfg.InputGlob)
		if err != nil {
			return nil, Error.New("bad input glob %q: %v", cfg.InputGlob, err)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}

	if len(files) == 0 {
		return nil, Error.New("no input files")
	}
	return files, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, Error.New("bad address %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, Error.New("bad port in %q: %v", addr, err)
	}
	return host, port, nil
}
