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
	"github.com/born-ml/recipes/internal/tacotron2"
	"github.com/born-ml/recipes/internal/tokenizer"
	"github.com/born-ml/recipes/internal/trainer"
)

const defaultSyntheticUtterances = 64

// loadCorpus reads the configured speech corpus and holds out its validation split.
func loadCorpus(cfg *config.Config, tok tokenizer.Tokenizer) (train, valid *data.SpeechSet, err error) {
	ds := cfg.Dataset
	var set *data.SpeechSet
	switch ds.Name {
	case "synthetic_speech":
		n := ds.Limit
		if n <= 0 {
			n = defaultSyntheticUtterances
		}
		set, err = data.SyntheticSpeech(n, tok, cfg.Tacotron2.NMels, cfg.Train.Seed)
	case "ljspeech":
		set, err = data.LoadLJSpeech(ds.Path, tok, cfg.Tacotron2.NMels, ds.Limit)
	default:
		return nil, nil, errors.Errorf("tacotron2 needs a speech corpus, got %q", ds.Name)
	}
	if err != nil {
		return nil, nil, err
	}
	return set.Split(ds.ValidSize)
}

func hparams(cfg *config.Config, vocabSize int, meta map[string]string) tacotron2.HParams {
	h := cfg.Tacotron2
	return tacotron2.HParams{
		BatchSize:               cfg.Train.BatchSize,
		TextLen:                 h.TextLen,
		MelLen:                  h.MelLen,
		NMels:                   h.NMels,
		R:                       h.R,
		VocabSize:               vocabSize,
		EmbeddingDim:            h.EmbeddingDim,
		WeightDecay:             float32(cfg.Train.WeightDecay),
		LearningRateDecayEpochs: cfg.Train.LearningRateDecayEpochs,
		LearningRateDecayFactor: float32(cfg.Train.LearningRateDecayFactor),
		EpochsPerCheckpoint:     h.EpochsPerCheckpoint,
		OutputPath:              h.OutputPath,
		CheckpointDir:           cfg.Checkpoint.Path,
		Metadata:                meta,
	}
}

func runTacotron2(ctx context.Context, rf *runFlags) error {
	cfg, err := loadConfig(rf)
	if err != nil {
		return err
	}
	if !cfg.IsSpeech() {
		return errors.Errorf("tacotron2 needs a speech corpus, got %q", cfg.Dataset.Name)
	}
	tok, err := tokenizer.New(cfg.Tacotron2.Tokenizer)
	if err != nil {
		return err
	}
	trainSet, validSet, err := loadCorpus(cfg, tok)
	if err != nil {
		return errors.Wrap(err, "speech corpus")
	}

	resumeDir, start, err := resumePoint(cfg.Checkpoint.Path, rf.resume)
	if err != nil {
		return err
	}
	workers := clampWorkers(workerCount(cfg.Train.Workers), trainSet.Len(), validSet.Len())
	meta := runMetadata("tacotron2")
	hp := hparams(cfg, tok.VocabSize(), meta)
	if err := hp.Validate(); err != nil {
		return err
	}
	layout := data.SpeechLayout{TextLen: hp.TextLen, MelLen: hp.MelLen, NMels: hp.NMels, R: hp.R}
	logCPU()
	klog.Infof("tacotron2 run %s: %s, %d training and %d validation utterances, vocabulary %d, %d workers",
		meta["run_id"], cfg.Dataset.Name, trainSet.Len(), validSet.Len(), hp.VocabSize, workers)

	return trainer.Launch(ctx, workers, func(ctx context.Context, c comm.Communicator) error {
		leader := comm.IsLeader(c)
		sh := data.Sharding{Rank: c.Rank(), Workers: c.Size(), Shuffle: cfg.Dataset.Shuffle, Seed: cfg.Train.Seed}
		train, err := data.NewSpeechSource(trainSet, hp.BatchSize, layout, sh)
		if err != nil {
			return err
		}
		valid, err := data.NewSpeechSource(validSet, hp.BatchSize, layout, data.Sharding{Rank: c.Rank(), Workers: c.Size()})
		if err != nil {
			return err
		}

		model, err := tacotron2.NewReference(hp, cfg.Train.Seed)
		if err != nil {
			return err
		}
		solver, err := newSolver(cfg, model.Params(), computeConfig(c.Size()))
		if err != nil {
			return err
		}
		mon, err := monitor.New(cfg.Monitor.Path, leader)
		if err != nil {
			return err
		}
		if err := mon.Info(fmt.Sprintf("run %s: tacotron2 on %s, %d parameters", meta["run_id"], cfg.Dataset.Name, model.Params().NumElements())); err != nil {
			return err
		}

		t, err := tacotron2.NewTrainer(hp, model, solver, train, valid, c, mon)
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
