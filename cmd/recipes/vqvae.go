package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/recipes/internal/comm"
	"github.com/born-ml/recipes/internal/config"
	"github.com/born-ml/recipes/internal/data"
	"github.com/born-ml/recipes/internal/monitor"
	"github.com/born-ml/recipes/internal/tensor"
	"github.com/born-ml/recipes/internal/trainer"
	"github.com/born-ml/recipes/internal/vqvae"
)

// imageOptions selects the training or validation split of the configured set.
func imageOptions(cfg *config.Config, train bool) data.ImageOptions {
	ds := cfg.Dataset
	opts := data.ImageOptions{
		Name:  ds.Name,
		Dir:   ds.Path,
		Train: train,
		Limit: ds.Limit,
		Shape: tensor.Shape(ds.ImageShape),
		Seed:  cfg.Train.Seed,
	}
	if !train {
		if ds.Name == "imagenet" && ds.ValidPath != "" {
			opts.Dir = ds.ValidPath
		}
		if ds.Name == "synthetic" && ds.ValidSize > 0 {
			opts.Limit = ds.ValidSize
		}
	}
	return opts
}

// dataVariance returns the divisor of the reconstruction error: the configured
// value, else the pixel variance of raw byte-range sets, else 1 for sets stored
// already normalized.
func dataVariance(configured float64, policy vqvae.Policy, set *data.ImageSet) float64 {
	switch {
	case configured > 0:
		return configured
	case policy == vqvae.PolicyPassthrough || !set.ByteRange:
		return 1
	default:
		return set.Variance()
	}
}

func runVQVAE(ctx context.Context, rf *runFlags) error {
	cfg, err := loadConfig(rf)
	if err != nil {
		return err
	}
	if cfg.IsSpeech() {
		return errors.Errorf("vqvae needs an image dataset, got %q", cfg.Dataset.Name)
	}
	policy, err := vqvae.ParsePolicy(cfg.NormalizationPolicy())
	if err != nil {
		return err
	}

	trainSet, err := data.OpenImages(imageOptions(cfg, true))
	if err != nil {
		return errors.Wrap(err, "training images")
	}
	validSet, err := data.OpenImages(imageOptions(cfg, false))
	if err != nil {
		return errors.Wrap(err, "validation images")
	}
	policy = policy.Resolve(trainSet.ByteRange)
	variance := dataVariance(cfg.Dataset.DataVariance, policy, trainSet)

	resumeDir, start, err := resumePoint(cfg.Checkpoint.Path, rf.resume)
	if err != nil {
		return err
	}
	workers := clampWorkers(workerCount(cfg.Train.Workers), trainSet.Len(), validSet.Len())
	meta := runMetadata("vqvae")
	logCPU()
	klog.Infof("vqvae run %s: %s, %d training and %d validation images %v, %d workers, policy %s, variance %.5f",
		meta["run_id"], cfg.Dataset.Name, trainSet.Len(), validSet.Len(), trainSet.Shape, workers, policy, variance)

	dims := vqvae.Dims{
		InputShape:     trainSet.Shape,
		NumEmbedding:   cfg.Model.NumEmbedding,
		EmbeddingDim:   cfg.Model.EmbeddingDim,
		LatentSlots:    cfg.Model.LatentSlots,
		CommitmentCost: cfg.Model.CommitmentCost,
	}
	return trainer.Launch(ctx, workers, func(ctx context.Context, c comm.Communicator) error {
		leader := comm.IsLeader(c)
		sh := data.Sharding{Rank: c.Rank(), Workers: c.Size(), Shuffle: cfg.Dataset.Shuffle, Seed: cfg.Train.Seed}
		train, err := data.NewImageSource(trainSet, cfg.Train.BatchSize, sh)
		if err != nil {
			return err
		}
		valid, err := data.NewImageSource(validSet, cfg.Train.BatchSize, data.Sharding{Rank: c.Rank(), Workers: c.Size()})
		if err != nil {
			return err
		}

		// Every worker starts from the same parameters.
		model, err := vqvae.NewReference(dims, cfg.Train.Seed)
		if err != nil {
			return err
		}
		par := computeConfig(c.Size())
		model.Parallel = par
		solver, err := newSolver(cfg, model.Params(), par)
		if err != nil {
			return err
		}
		mon, err := monitor.New(cfg.Monitor.Path, leader)
		if err != nil {
			return err
		}
		if err := mon.Info(fmt.Sprintf("run %s: vqvae on %s, %d parameters", meta["run_id"], cfg.Dataset.Name, model.Params().NumElements())); err != nil {
			return err
		}

		t, err := vqvae.NewTrainer(model, solver, train, valid, c, mon, vqvae.Options{
			WeightDecay:             float32(cfg.Train.WeightDecay),
			LearningRateDecayEpochs: cfg.Train.LearningRateDecayEpochs,
			LearningRateDecayFactor: float32(cfg.Train.LearningRateDecayFactor),
			DataVariance:            variance,
			Policy:                  policy,
			TrainLoss:               cfg.Monitor.TrainLoss,
			ValLoss:                 cfg.Monitor.ValLoss,
			TrainRecon:              cfg.Monitor.TrainRecon,
			ValRecon:                cfg.Monitor.ValRecon,
			CheckpointDir:           cfg.Checkpoint.Path,
			Metadata:                meta,
		})
		if err != nil {
			return err
		}
		if resumeDir != "" {
			if err := t.LoadCheckpoint(resumeDir); err != nil {
				return errors.Wrapf(err, "resume from %s", resumeDir)
			}
			if leader {
				klog.Infof("resumed from %s at epoch %d", resumeDir, start)
			}
		}
		return trainer.Run(ctx, t, scheduleOptions(cfg, start, leader))
	})
}
