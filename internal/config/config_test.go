package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vqvae.yaml")
	content := `
dataset:
  name: mnist
  path: /data/mnist
train:
  epochs: 3
  batch_size: 64
  solver: momentum
  learning_rate: 0.01
  weight_decay: 0.0001
  learning_rate_decay_epochs: [2, 3]
  learning_rate_decay_factor: 0.1
monitor:
  path: out/monitor
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mnist", cfg.Dataset.Name)
	assert.Equal(t, "/data/mnist", cfg.Dataset.Path)
	assert.Equal(t, 3, cfg.Train.Epochs)
	assert.Equal(t, 64, cfg.Train.BatchSize)
	assert.Equal(t, "momentum", cfg.Train.Solver)
	assert.Equal(t, []int{2, 3}, cfg.Train.LearningRateDecayEpochs)
	assert.InDelta(t, 0.1, cfg.Train.LearningRateDecayFactor, 1e-12)
	assert.Equal(t, "out/monitor", cfg.Monitor.Path)

	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Model, cfg.Model)
	assert.Equal(t, "train_recon", cfg.Monitor.TrainRecon)
	assert.False(t, cfg.IsSpeech())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("train:\n  epochz: 3\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown dataset", func(c *Config) { c.Dataset.Name = "svhn" }},
		{"synthetic shape", func(c *Config) { c.Dataset.ImageShape = []int{28, 28} }},
		{"normalization", func(c *Config) { c.Dataset.Normalization = "zscore" }},
		{"negative variance", func(c *Config) { c.Dataset.DataVariance = -1 }},
		{"epochs", func(c *Config) { c.Train.Epochs = 0 }},
		{"batch size", func(c *Config) { c.Train.BatchSize = -1 }},
		{"solver", func(c *Config) { c.Train.Solver = "lbfgs" }},
		{"learning rate", func(c *Config) { c.Train.LearningRate = 0 }},
		{"weight decay", func(c *Config) { c.Train.WeightDecay = -0.1 }},
		{"decay factor", func(c *Config) { c.Train.LearningRateDecayFactor = 0 }},
		{"workers", func(c *Config) { c.Train.Workers = -2 }},
		{"checkpoint every", func(c *Config) { c.Train.CheckpointEvery = -1 }},
		{"codebook", func(c *Config) { c.Model.NumEmbedding = 0 }},
		{"commitment", func(c *Config) { c.Model.CommitmentCost = -1 }},
		{"monitor path", func(c *Config) { c.Monitor.Path = "" }},
		{"checkpoint path", func(c *Config) { c.Checkpoint.Path = "" }},
		{"speech reduction factor", func(c *Config) {
			c.Dataset.Name = "synthetic_speech"
			c.Tacotron2.R = 0
		}},
		{"speech checkpoint cadence", func(c *Config) {
			c.Dataset.Name = "ljspeech"
			c.Tacotron2.EpochsPerCheckpoint = 0
		}},
		{"speech valid size", func(c *Config) {
			c.Dataset.Name = "ljspeech"
			c.Dataset.ValidSize = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateFillsValidateEvery(t *testing.T) {
	cfg := Default()
	cfg.Train.ValidateEvery = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Train.ValidateEvery)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{Workers: 4, Epochs: 7, DataPath: "/d", CheckpointPath: "/ck"})
	assert.Equal(t, 4, cfg.Train.Workers)
	assert.Equal(t, 7, cfg.Train.Epochs)
	assert.Equal(t, "/d", cfg.Dataset.Path)
	assert.Equal(t, "/ck", cfg.Checkpoint.Path)

	// Zero values leave the config alone.
	assert.Equal(t, Default().Train.BatchSize, cfg.Train.BatchSize)
	assert.Equal(t, Default().Train.Seed, cfg.Train.Seed)
	assert.Equal(t, Default().Monitor.Path, cfg.Monitor.Path)
}

func TestNormalizationPolicy(t *testing.T) {
	tests := []struct {
		dataset, configured, want string
	}{
		{"mnist", "", NormalizeAuto},
		{"cifar10", "", NormalizeAuto},
		{"imagenet", "", NormalizePassthrough},
		{"imagenet", NormalizeUnit, NormalizeUnit},
		{"mnist", NormalizePassthrough, NormalizePassthrough},
		{"cifar10", NormalizeByte, NormalizeByte},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Dataset.Name = tt.dataset
		cfg.Dataset.Normalization = tt.configured
		assert.Equal(t, tt.want, cfg.NormalizationPolicy(), "%s/%q", tt.dataset, tt.configured)
	}
}

func TestSpeechConfig(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
dataset:
  name: ljspeech
  path: LJSpeech-1.1
  valid_size: 50
tacotron2:
  n_mels: 80
  r: 3
  tokenizer: "tiktoken:cl100k_base"
`))
	require.NoError(t, err)
	assert.True(t, cfg.IsSpeech())
	assert.Equal(t, 80, cfg.Tacotron2.NMels)
	assert.Equal(t, 3, cfg.Tacotron2.R)
	assert.Equal(t, "tiktoken:cl100k_base", cfg.Tacotron2.Tokenizer)
	assert.Equal(t, Default().Tacotron2.TextLen, cfg.Tacotron2.TextLen)
}
