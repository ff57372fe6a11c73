// Package config loads the YAML run configuration shared by both recipes.
package config

import (
	"io"
	"os"
	"slices"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Normalization policies for image inputs.
const (
	NormalizeAuto        = "auto"
	NormalizeUnit        = "unit"
	NormalizePassthrough = "passthrough"
	NormalizeByte        = "byte"
)

var (
	imageDatasets  = []string{"mnist", "cifar10", "imagenet", "synthetic"}
	speechDatasets = []string{"ljspeech", "synthetic_speech"}
	solvers        = []string{"sgd", "momentum", "adam"}
	normalizations = []string{"", NormalizeAuto, NormalizeUnit, NormalizePassthrough, NormalizeByte}
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Dataset    Dataset    `yaml:"dataset"`
	Train      Train      `yaml:"train"`
	Model      Model      `yaml:"model"`
	Monitor    Monitor    `yaml:"monitor"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	Tacotron2  Tacotron2  `yaml:"tacotron2"`
}

// Dataset selects the data of a run.
type Dataset struct {
	// Name is an image set (mnist, cifar10, imagenet, synthetic) or a speech corpus
	// (ljspeech, synthetic_speech).
	Name string `yaml:"name"`
	// Path is the dataset directory (training shards for imagenet).
	Path string `yaml:"path"`
	// ValidPath holds the imagenet validation shards.
	ValidPath string `yaml:"valid_path"`
	// Limit caps the number of samples loaded; synthetic sets use it as their size.
	Limit int `yaml:"limit"`
	// ImageShape is the [C, H, W] shape of synthetic images.
	ImageShape []int `yaml:"image_shape"`
	// ValidSize is the number of utterances held out for speech validation.
	ValidSize int `yaml:"valid_size"`
	// Normalization is auto, unit, passthrough or byte. Empty picks by dataset name.
	Normalization string `yaml:"normalization"`
	// DataVariance overrides the variance that scales the reconstruction loss.
	DataVariance float64 `yaml:"data_variance"`
	// Shuffle reorders each worker's partition every pass.
	Shuffle bool `yaml:"shuffle"`
}

// Train holds the optimization schedule.
type Train struct {
	Epochs                  int     `yaml:"epochs"`
	BatchSize               int     `yaml:"batch_size"`
	Solver                  string  `yaml:"solver"`
	LearningRate            float64 `yaml:"learning_rate"`
	Momentum                float64 `yaml:"momentum"`
	Beta1                   float64 `yaml:"beta1"`
	Beta2                   float64 `yaml:"beta2"`
	WeightDecay             float64 `yaml:"weight_decay"`
	LearningRateDecayEpochs []int   `yaml:"learning_rate_decay_epochs"`
	LearningRateDecayFactor float64 `yaml:"learning_rate_decay_factor"`
	Workers                 int     `yaml:"workers"`
	Seed                    int64   `yaml:"seed"`
	ValidateEvery           int     `yaml:"validate_every"`
	CheckpointEvery         int     `yaml:"checkpoint_every"`
}

// Model sizes the VQ-VAE reference model.
type Model struct {
	NumEmbedding   int     `yaml:"num_embedding"`
	EmbeddingDim   int     `yaml:"embedding_dim"`
	LatentSlots    int     `yaml:"latent_slots"`
	CommitmentCost float64 `yaml:"commitment_cost"`
}

// Monitor places the metric series and reconstruction images.
type Monitor struct {
	Path       string `yaml:"path"`
	TrainLoss  string `yaml:"train_loss"`
	TrainRecon string `yaml:"train_recon"`
	ValLoss    string `yaml:"val_loss"`
	ValRecon   string `yaml:"val_recon"`
}

// Checkpoint places epoch_<N> directories.
type Checkpoint struct {
	Path string `yaml:"path"`
}

// Tacotron2 holds the text-to-speech hyperparameters.
type Tacotron2 struct {
	TextLen             int    `yaml:"text_len"`
	MelLen              int    `yaml:"mel_len"`
	NMels               int    `yaml:"n_mels"`
	R                   int    `yaml:"r"`
	EmbeddingDim        int    `yaml:"embedding_dim"`
	EpochsPerCheckpoint int    `yaml:"epochs_per_checkpoint"`
	OutputPath          string `yaml:"output_path"`
	Tokenizer           string `yaml:"tokenizer"`
}

// Default returns a configuration that trains the VQ-VAE on synthetic images.
func Default() *Config {
	return &Config{
		Dataset: Dataset{
			Name:       "synthetic",
			Path:       "data",
			ImageShape: []int{1, 28, 28},
			ValidSize:  16,
			Shuffle:    true,
		},
		Train: Train{
			Epochs:                  10,
			BatchSize:               32,
			Solver:                  "adam",
			LearningRate:            2e-4,
			Momentum:                0.9,
			Beta1:                   0.9,
			Beta2:                   0.999,
			LearningRateDecayFactor: 0.5,
			Seed:                    313,
			ValidateEvery:           1,
			CheckpointEvery:         1,
		},
		Model: Model{
			NumEmbedding:   64,
			EmbeddingDim:   16,
			LatentSlots:    8,
			CommitmentCost: 0.25,
		},
		Monitor: Monitor{
			Path:       "tmp.monitor",
			TrainLoss:  "train_loss",
			TrainRecon: "train_recon",
			ValLoss:    "val_loss",
			ValRecon:   "val_recon",
		},
		Checkpoint: Checkpoint{Path: "checkpoints"},
		Tacotron2: Tacotron2{
			TextLen:             64,
			MelLen:              48,
			NMels:               16,
			R:                   2,
			EmbeddingDim:        16,
			EpochsPerCheckpoint: 1,
			OutputPath:          "tacotron2-output",
			Tokenizer:           "chars",
		},
	}
}

// Load reads and validates a Config from YAML. Keys missing from the file keep
// their Default values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decode yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Workers        int
	Epochs         int
	BatchSize      int
	Seed           int64
	DataPath       string
	MonitorPath    string
	CheckpointPath string
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Workers > 0 {
		c.Train.Workers = o.Workers
	}
	if o.Epochs > 0 {
		c.Train.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Train.BatchSize = o.BatchSize
	}
	if o.Seed != 0 {
		c.Train.Seed = o.Seed
	}
	if o.DataPath != "" {
		c.Dataset.Path = o.DataPath
	}
	if o.MonitorPath != "" {
		c.Monitor.Path = o.MonitorPath
	}
	if o.CheckpointPath != "" {
		c.Checkpoint.Path = o.CheckpointPath
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if !slices.Contains(imageDatasets, c.Dataset.Name) && !slices.Contains(speechDatasets, c.Dataset.Name) {
		return errors.Errorf("dataset.name %q is not one of %v or %v", c.Dataset.Name, imageDatasets, speechDatasets)
	}
	if c.Dataset.Name == "synthetic" && len(c.Dataset.ImageShape) != 3 {
		return errors.Errorf("dataset.image_shape must be [C, H, W] (got %v)", c.Dataset.ImageShape)
	}
	if !slices.Contains(normalizations, c.Dataset.Normalization) {
		return errors.Errorf("dataset.normalization %q is not one of auto, unit, passthrough, byte", c.Dataset.Normalization)
	}
	if c.Dataset.DataVariance < 0 {
		return errors.Errorf("dataset.data_variance must be >= 0 (got %g)", c.Dataset.DataVariance)
	}

	t := c.Train
	if t.Epochs <= 0 {
		return errors.Errorf("train.epochs must be > 0 (got %d)", t.Epochs)
	}
	if t.BatchSize <= 0 {
		return errors.Errorf("train.batch_size must be > 0 (got %d)", t.BatchSize)
	}
	if !slices.Contains(solvers, t.Solver) {
		return errors.Errorf("train.solver %q is not one of %v", t.Solver, solvers)
	}
	if t.LearningRate <= 0 {
		return errors.Errorf("train.learning_rate must be > 0 (got %g)", t.LearningRate)
	}
	if t.WeightDecay < 0 {
		return errors.Errorf("train.weight_decay must be >= 0 (got %g)", t.WeightDecay)
	}
	if t.LearningRateDecayFactor <= 0 {
		return errors.Errorf("train.learning_rate_decay_factor must be > 0 (got %g)", t.LearningRateDecayFactor)
	}
	if t.Workers < 0 {
		return errors.Errorf("train.workers must be >= 0 (got %d)", t.Workers)
	}
	if t.ValidateEvery <= 0 {
		c.Train.ValidateEvery = 1
	}
	if t.CheckpointEvery < 0 {
		return errors.Errorf("train.checkpoint_every must be >= 0 (got %d)", t.CheckpointEvery)
	}

	m := c.Model
	if m.NumEmbedding <= 0 || m.EmbeddingDim <= 0 || m.LatentSlots <= 0 {
		return errors.Errorf("model.num_embedding, embedding_dim and latent_slots must be > 0 (got %d, %d, %d)",
			m.NumEmbedding, m.EmbeddingDim, m.LatentSlots)
	}
	if m.CommitmentCost < 0 {
		return errors.Errorf("model.commitment_cost must be >= 0 (got %g)", m.CommitmentCost)
	}

	if c.Monitor.Path == "" {
		return errors.New("monitor.path must be set")
	}
	if c.Checkpoint.Path == "" {
		return errors.New("checkpoint.path must be set")
	}

	if c.IsSpeech() {
		h := c.Tacotron2
		if h.TextLen <= 0 || h.MelLen <= 0 || h.NMels <= 0 || h.R <= 0 || h.EmbeddingDim <= 0 {
			return errors.Errorf("tacotron2.text_len, mel_len, n_mels, r and embedding_dim must be > 0 (got %d, %d, %d, %d, %d)",
				h.TextLen, h.MelLen, h.NMels, h.R, h.EmbeddingDim)
		}
		if h.EpochsPerCheckpoint <= 0 {
			return errors.Errorf("tacotron2.epochs_per_checkpoint must be > 0 (got %d)", h.EpochsPerCheckpoint)
		}
		if h.OutputPath == "" {
			return errors.New("tacotron2.output_path must be set")
		}
		if c.Dataset.ValidSize <= 0 {
			return errors.Errorf("dataset.valid_size must be > 0 (got %d)", c.Dataset.ValidSize)
		}
	}
	return nil
}

// IsSpeech reports whether the dataset is a text-to-speech corpus.
func (c *Config) IsSpeech() bool {
	return slices.Contains(speechDatasets, c.Dataset.Name)
}

// NormalizationPolicy returns the configured policy, or the dataset default when
// unset: imagenet shards are stored normalized, everything else goes through auto.
func (c *Config) NormalizationPolicy() string {
	if c.Dataset.Normalization != "" {
		return c.Dataset.Normalization
	}
	if c.Dataset.Name == "imagenet" {
		return NormalizePassthrough
	}
	return NormalizeAuto
}
