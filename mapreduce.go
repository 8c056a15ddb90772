// Package mapreduce is a small MapReduce engine. A master splits a job into
// map and reduce tasks and hands them over RPC to workers that register at
// any time; tasks of workers that fail are handed to other workers.
//
// Applications normally call Run with RoleMaster in one process and
// RoleWorker in others, or RoleSequential to execute the job in-process for
// debugging.
package mapreduce

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prxssh/mapreduce/api"
	"github.com/prxssh/mapreduce/internal/discovery"
	"github.com/prxssh/mapreduce/internal/master"
	"github.com/prxssh/mapreduce/internal/worker"
	"github.com/prxssh/mapreduce/pkg/fs"
)

// Run executes cfg.Role until the job is done (master, sequential) or the
// worker is shut down. It returns when ctx is canceled.
func Run(ctx context.Context, cfg *Config) error {
	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}),
	)

	if err := cfg.validate(); err != nil {
		logger.Error("Failed to validate config", "err", err)
		return err
	}

	switch cfg.Role {
	case RoleWorker:
		logger.Info("Starting worker")
		return runWorker(ctx, cfg, logger)
	case RoleMaster:
		logger.Info("Starting master")
		return runMaster(ctx, cfg, logger)
	default:
		logger.Info("Running sequentially")
		files, err := cfg.inputFiles()
		if err != nil {
			return err
		}
		res, err := master.Sequential(
			ctx,
			storer(cfg),
			cfg.OutputDir,
			master.Job{Name: cfg.JobName, Files: files, NReduce: cfg.ReduceTasks},
			cfg.Mapper,
			cfg.Reducer,
			logger,
		)
		if err != nil {
			return err
		}
		logger.Info("Job done", "result", res.Merged)
		return nil
	}
}

func runMaster(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	files, err := cfg.inputFiles()
	if err != nil {
		return err
	}

	mcfg := &master.Config{
		Addr:        cfg.MasterAddr,
		OutputDir:   cfg.OutputDir,
		TaskTimeout: cfg.TaskTimeout,
	}
	if cfg.DiscoveryAddr != "" {
		host, port, err := splitHostPort(cfg.DiscoveryAddr)
		if err != nil {
			return err
		}
		mcfg.Discovery = &discovery.Config{BindAddr: host, BindPort: port}
	}

	m, err := master.Start(storer(cfg), mcfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("Failed to stop master", "err", err)
		}
	}()

	res, err := m.Run(ctx, master.Job{Name: cfg.JobName, Files: files, NReduce: cfg.ReduceTasks})
	if err != nil {
		return err
	}

	logger.Info("Job done", "result", res.Merged, "worker-tasks", res.WorkerTasks)
	return nil
}

func runWorker(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	wcfg := &worker.Config{
		MasterAddr: cfg.MasterAddr,
		Addr:       cfg.WorkerAddr,
		Mapper:     cfg.Mapper,
		Reducer:    cfg.Reducer,
		OutputDir:  cfg.OutputDir,
		MaxTasks:   cfg.MaxTasks,
	}
	if cfg.DiscoveryJoin != "" {
		wcfg.MasterAddr = ""
	}

	w, err := worker.New(storer(cfg), wcfg, logger)
	if err != nil {
		return err
	}

	if cfg.DiscoveryJoin != "" {
		host, _, err := splitHostPort(w.Addr())
		if err != nil {
			return err
		}
		node, err := discovery.New(discovery.Config{
			BindAddr: host,
			Join:     []string{cfg.DiscoveryJoin},
			Meta:     w.Addr(),
		}, nil, logger)
		if err != nil {
			w.Close()
			return err
		}
		defer func() {
			if err := node.Leave(time.Second); err != nil {
				logger.Warn("Failed to leave gossip cluster", "err", err)
			}
		}()
	}

	return w.Run(ctx)
}

func storer(cfg *Config) api.Storer {
	if cfg.Storer != nil {
		return cfg.Storer
	}
	return fs.NewLocalStorage()
}
