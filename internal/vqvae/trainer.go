package vqvae

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/recipes/internal/checkpoint"
	"github.com/born-ml/recipes/internal/comm"
	"github.com/born-ml/recipes/internal/data"
	"github.com/born-ml/recipes/internal/monitor"
	"github.com/born-ml/recipes/internal/nn"
	"github.com/born-ml/recipes/internal/optim"
	"github.com/born-ml/recipes/internal/tensor"
	"github.com/born-ml/recipes/internal/visual"
)

// Options configures a Trainer.
type Options struct {
	// WeightDecay is added to every gradient, times the parameter, before each update.
	WeightDecay float32
	// LearningRateDecayEpochs lists the epochs at whose start the learning rate is
	// multiplied by LearningRateDecayFactor.
	LearningRateDecayEpochs []int
	LearningRateDecayFactor float32
	// DataVariance divides the reconstruction error. Zero means 1.
	DataVariance float64
	// Policy normalizes every batch before the forward pass.
	Policy Policy

	// TrainLoss and ValLoss name the monitor series of the epoch losses.
	TrainLoss string
	ValLoss   string
	// TrainRecon and ValRecon are directories, relative to the monitor directory,
	// that receive epoch_<N>.png reconstructions.
	TrainRecon string
	ValRecon   string

	// CheckpointDir is the base of the epoch_<N> checkpoint directories.
	CheckpointDir string
	// Metadata is stored in every checkpoint, e.g. the run id.
	Metadata map[string]string
}

// Loss is the decomposed loss of one batch.
type Loss struct {
	Total      float64
	Recon      float64
	VQ         float64
	Perplexity float64
	Output     *Output
}

// Trainer runs train and validation epochs of a Model for one worker.
type Trainer struct {
	model   Model
	solver  optim.Solver
	train   data.Source
	valid   data.Source
	comm    comm.Communicator
	monitor *monitor.Monitor
	opts    Options

	iterations      int
	validIterations int
}

// NewTrainer binds a model, its solver and this worker's data sources. The
// monitor of non-leader workers should be disabled.
func NewTrainer(model Model, solver optim.Solver, train, valid data.Source, c comm.Communicator, mon *monitor.Monitor, opts Options) (*Trainer, error) {
	if model == nil || solver == nil || train == nil || valid == nil || c == nil || mon == nil {
		return nil, errors.New("vqvae: trainer needs a model, solver, both data sources, a communicator and a monitor")
	}
	if opts.DataVariance < 0 {
		return nil, errors.Errorf("vqvae: data variance must be >= 0 (got %g)", opts.DataVariance)
	}
	if opts.DataVariance == 0 {
		opts.DataVariance = 1
	}
	if opts.TrainLoss == "" {
		opts.TrainLoss = "train_loss"
	}
	if opts.ValLoss == "" {
		opts.ValLoss = "val_loss"
	}
	t := &Trainer{
		model:           model,
		solver:          solver,
		train:           train,
		valid:           valid,
		comm:            c,
		monitor:         mon,
		opts:            opts,
		iterations:      data.IterationsPerEpoch(train.Size(), train.BatchSize(), c.Size()),
		validIterations: data.IterationsPerEpoch(valid.Size(), valid.BatchSize(), c.Size()),
	}
	if t.iterations == 0 || t.validIterations == 0 {
		return nil, errors.Errorf("vqvae: empty epoch (train %d, validation %d iterations)", t.iterations, t.validIterations)
	}
	return t, nil
}

// Iterations returns the number of training batches per epoch on this worker.
func (t *Trainer) Iterations() int {
	return t.iterations
}

// ValidIterations returns the number of validation batches per epoch on this worker.
func (t *Trainer) ValidIterations() int {
	return t.validIterations
}

// ComputeLoss runs the model on a normalized batch and adds the variance-scaled
// reconstruction error to its VQ loss.
func (t *Trainer) ComputeLoss(x *tensor.Tensor, mode Mode) (*Loss, error) {
	out, err := t.model.Forward(x, mode)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}
	mse, err := nn.MSELoss(out.Recon, x)
	if err != nil {
		return nil, errors.Wrap(err, "reconstruction loss")
	}
	recon := mse / t.opts.DataVariance
	return &Loss{
		Total:      recon + out.VQLoss,
		Recon:      recon,
		VQ:         out.VQLoss,
		Perplexity: out.Perplexity,
		Output:     out,
	}, nil
}

// Train runs one epoch of updates and returns the mean batch loss.
func (t *Trainer) Train(ctx context.Context, epoch int) (float64, error) {
	if slices.Contains(t.opts.LearningRateDecayEpochs, epoch) {
		lr := t.solver.LearningRate() * t.opts.LearningRateDecayFactor
		t.solver.SetLearningRate(lr)
		if t.leader() {
			klog.Infof("epoch %d: learning rate decayed to %g", epoch, lr)
		}
	}

	store := t.model.Params()
	var epochLoss, perplexity float64
	for i := 0; i < t.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch, err := t.train.Next()
		if err != nil {
			return 0, errors.Wrapf(err, "batch %d", i)
		}
		x := t.opts.Policy.Normalize(batch[0])

		loss, err := t.ComputeLoss(x, ModeTrain)
		if err != nil {
			return 0, errors.Wrapf(err, "batch %d", i)
		}
		if i == 0 {
			if err := t.saveRecon(t.opts.TrainRecon, epoch, loss.Output.Recon); err != nil {
				return 0, err
			}
		}
		if t.leader() {
			klog.V(2).Infof("train epoch %d batch %d/%d: loss %.5f", epoch, i+1, t.iterations, loss.Total)
		}
		epochLoss += loss.Total
		perplexity += loss.Perplexity

		t.solver.ZeroGrad()
		grad, err := nn.MSEGrad(loss.Output.Recon, x, float32(1/t.opts.DataVariance))
		if err != nil {
			return 0, err
		}
		if err := t.model.Backward(loss.Output, grad); err != nil {
			return 0, errors.Wrapf(err, "backward batch %d", i)
		}
		if t.comm.Size() > 1 {
			if err := t.comm.AllReduce(ctx, store.Grads(), false, true); err != nil {
				return 0, errors.Wrapf(err, "all-reduce batch %d", i)
			}
		}
		t.solver.WeightDecay(t.opts.WeightDecay)
		t.solver.Update()
	}

	avg := epochLoss / float64(t.iterations)
	if err := t.monitor.Series(t.opts.TrainLoss).Add(epoch, avg); err != nil {
		return 0, err
	}
	if err := t.monitor.Series("train_perplexity").Add(epoch, perplexity/float64(t.iterations)); err != nil {
		return 0, err
	}
	return avg, nil
}

// Validate evaluates one epoch without gradients and returns the mean batch loss.
func (t *Trainer) Validate(ctx context.Context, epoch int) (float64, error) {
	var (
		epochLoss float64
		last      *tensor.Tensor
	)
	for i := 0; i < t.validIterations; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch, err := t.valid.Next()
		if err != nil {
			return 0, errors.Wrapf(err, "validation batch %d", i)
		}
		loss, err := t.ComputeLoss(t.opts.Policy.Normalize(batch[0]), ModeTest)
		if err != nil {
			return 0, errors.Wrapf(err, "validation batch %d", i)
		}
		if t.leader() {
			klog.V(2).Infof("validate epoch %d batch %d/%d: loss %.5f", epoch, i+1, t.validIterations, loss.Total)
		}
		epochLoss += loss.Total
		last = loss.Output.Recon
	}

	avg := epochLoss / float64(t.validIterations)
	if err := t.monitor.Series(t.opts.ValLoss).Add(epoch, avg); err != nil {
		return 0, err
	}
	if err := t.saveRecon(t.opts.ValRecon, epoch, last); err != nil {
		return 0, err
	}
	return avg, nil
}

// SaveCheckpoint writes parameters and solver state to <CheckpointDir>/epoch_<N>.
// Only the leader writes; replicas hold identical state.
func (t *Trainer) SaveCheckpoint(epoch int) error {
	if !t.leader() || t.opts.CheckpointDir == "" {
		return nil
	}
	dir, err := checkpoint.Save(t.opts.CheckpointDir, epoch, t.model.Params(), t.solver, t.opts.Metadata)
	if err != nil {
		return err
	}
	klog.Infof("saved checkpoint %s", dir)
	return nil
}

// LoadCheckpoint restores parameters and solver state from dir.
func (t *Trainer) LoadCheckpoint(dir string) error {
	_, err := checkpoint.Load(dir, t.model.Params(), t.solver)
	return err
}

func (t *Trainer) leader() bool {
	return comm.IsLeader(t.comm)
}

// saveRecon writes recon, mapped back to [0, 1] and tiled, to
// <monitor>/<sub>/epoch_<N>.png on the leader.
func (t *Trainer) saveRecon(sub string, epoch int, recon *tensor.Tensor) error {
	if !t.leader() || !t.monitor.Enabled() || sub == "" || recon == nil {
		return nil
	}
	img, err := visual.TileImages(Denormalize(recon))
	if err != nil {
		return errors.Wrap(err, "tile reconstructions")
	}
	path := filepath.Join(t.monitor.Dir(), sub, fmt.Sprintf("epoch_%d.png", epoch))
	if err := visual.SavePNG(path, img); err != nil {
		return err
	}
	klog.Infof("saving reconstructions in %s", path)
	return nil
}
