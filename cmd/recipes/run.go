package main

import (
	"flag"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/recipes/internal/checkpoint"
	"github.com/born-ml/recipes/internal/config"
	"github.com/born-ml/recipes/internal/optim"
	"github.com/born-ml/recipes/internal/parallel"
	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/trainer"
)

// runFlags are the flags shared by the training commands.
type runFlags struct {
	config     string
	resume     string
	workers    int
	epochs     int
	batchSize  int
	seed       int64
	data       string
	monitor    string
	checkpoint string
}

func registerFlags(fs *flag.FlagSet) *runFlags {
	rf := &runFlags{}
	fs.StringVar(&rf.config, "config", "", "Path to YAML config. Empty uses the built-in defaults.")
	fs.StringVar(&rf.resume, "resume", "", "Checkpoint directory to resume from, or \"latest\".")
	fs.IntVar(&rf.workers, "workers", 0, "Number of data-parallel workers. Zero uses the config, then the physical core count.")
	fs.IntVar(&rf.epochs, "epochs", 0, "Override train.epochs")
	fs.IntVar(&rf.batchSize, "batch-size", 0, "Override train.batch_size")
	fs.Int64Var(&rf.seed, "seed", 0, "Override train.seed")
	fs.StringVar(&rf.data, "data", "", "Override dataset.path")
	fs.StringVar(&rf.monitor, "monitor", "", "Override monitor.path")
	fs.StringVar(&rf.checkpoint, "checkpoint", "", "Override checkpoint.path")
	return rf
}

// loadConfig reads the config file, applies the flag overrides and validates the
// result.
func loadConfig(rf *runFlags) (*config.Config, error) {
	cfg := config.Default()
	if rf.config != "" {
		var err error
		if cfg, err = config.Load(rf.config); err != nil {
			return nil, err
		}
	}
	cfg.ApplyOverrides(config.Overrides{
		Workers:        rf.workers,
		Epochs:         rf.epochs,
		BatchSize:      rf.batchSize,
		Seed:           rf.seed,
		DataPath:       rf.data,
		MonitorPath:    rf.monitor,
		CheckpointPath: rf.checkpoint,
	})
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// workerCount returns the configured number of workers, or the number of physical
// cores when unset.
func workerCount(configured int) int {
	if configured > 0 {
		return configured
	}
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return max(runtime.NumCPU(), 1)
}

// clampWorkers caps workers at the smallest split size so that every rank gets a
// non-empty partition of every split.
func clampWorkers(workers int, splitSizes ...int) int {
	limit := workers
	for _, n := range splitSizes {
		limit = min(limit, n)
	}
	limit = max(limit, 1)
	if limit < workers {
		klog.Warningf("reducing workers from %d to %d: a split has only %d samples", workers, limit, limit)
	}
	return limit
}

func logCPU() {
	klog.Infof("cpu %q: %d physical cores, %d logical, features %s",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores,
		strings.Join(cpuid.CPU.FeatureSet(), ","))
}

// computeConfig keeps element-wise kernels sequential when every core already runs
// a worker.
func computeConfig(workers int) parallel.Config {
	if workers > 1 {
		return parallel.Sequential()
	}
	return parallel.DefaultConfig()
}

func newSolver(cfg *config.Config, store *params.Store, par parallel.Config) (optim.Solver, error) {
	return optim.New(cfg.Train.Solver, store, optim.Config{
		LR:       float32(cfg.Train.LearningRate),
		Momentum: float32(cfg.Train.Momentum),
		Betas:    [2]float32{float32(cfg.Train.Beta1), float32(cfg.Train.Beta2)},
		Parallel: par,
	})
}

// resumePoint resolves -resume to a checkpoint directory and the epoch to start
// from. An empty ref starts from scratch.
func resumePoint(base, ref string) (dir string, start int, err error) {
	if ref == "" {
		return "", 0, nil
	}
	if dir, err = checkpoint.Resolve(base, ref); err != nil {
		return "", 0, err
	}
	epoch, err := checkpoint.EpochOf(dir)
	if err != nil {
		return "", 0, err
	}
	return dir, epoch + 1, nil
}

// runMetadata is stored with every checkpoint of the run.
func runMetadata(recipe string) map[string]string {
	return map[string]string{
		"recipe":  recipe,
		"run_id":  uuid.NewString(),
		"version": version,
	}
}

func scheduleOptions(cfg *config.Config, start int, leader bool) trainer.Options {
	return trainer.Options{
		StartEpoch:      start,
		Epochs:          cfg.Train.Epochs,
		ValidateEvery:   cfg.Train.ValidateEvery,
		CheckpointEvery: cfg.Train.CheckpointEvery,
		Leader:          leader,
	}
}
