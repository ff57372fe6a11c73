package tacotron2

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
	"github.com/born-ml/recipes/internal/optim"
	"github.com/born-ml/recipes/internal/tensor"
	"github.com/born-ml/recipes/internal/visual"
)

// Trainer runs Tacotron2 epochs for one worker.
type Trainer struct {
	hp          HParams
	model       Model
	solver      optim.Solver
	dataloader  map[string]data.Source
	comm        comm.Communicator
	monitor     *monitor.Monitor
	placeholder map[string]*Graph

	// loss accumulates batch_size * l_net over a validation epoch.
	loss     *tensor.Tensor
	curEpoch int

	iterations      int
	validIterations int
}

// NewTrainer binds a model, its solver and this worker's data sources, and builds
// the train and valid graphs. Both sources must yield batches of hp.BatchSize.
func NewTrainer(hp HParams, model Model, solver optim.Solver, train, valid data.Source, c comm.Communicator, mon *monitor.Monitor) (*Trainer, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if model == nil || solver == nil || train == nil || valid == nil || c == nil || mon == nil {
		return nil, errors.New("tacotron2: trainer needs a model, solver, both data sources, a communicator and a monitor")
	}
	for key, src := range map[string]data.Source{KeyTrain: train, KeyValid: valid} {
		if src.BatchSize() != hp.BatchSize {
			return nil, errors.Errorf("tacotron2: %s batch size %d, want %d", key, src.BatchSize(), hp.BatchSize)
		}
	}
	if hp.EpochsPerCheckpoint <= 0 {
		hp.EpochsPerCheckpoint = 1
	}
	t := &Trainer{
		hp:              hp,
		model:           model,
		solver:          solver,
		dataloader:      map[string]data.Source{KeyTrain: train, KeyValid: valid},
		comm:            c,
		monitor:         mon,
		placeholder:     make(map[string]*Graph),
		loss:            tensor.New(tensor.Shape{1}),
		iterations:      data.IterationsPerEpoch(train.Size(), hp.BatchSize, c.Size()),
		validIterations: data.IterationsPerEpoch(valid.Size(), hp.BatchSize, c.Size()),
	}
	if t.iterations == 0 || t.validIterations == 0 {
		return nil, errors.Errorf("tacotron2: empty epoch (train %d, validation %d iterations)", t.iterations, t.validIterations)
	}
	for _, key := range []string{KeyTrain, KeyValid} {
		if err := t.UpdateGraph(key); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// UpdateGraph builds the graph of mode key ("train" or "valid") and binds it as
// that mode's placeholder, replacing any previous one.
func (t *Trainer) UpdateGraph(key string) error {
	g, err := newGraph(key, t.hp, t.model)
	if err != nil {
		return err
	}
	t.placeholder[key] = g
	return nil
}

// Graph returns the graph bound for mode key.
func (t *Trainer) Graph(key string) *Graph {
	return t.placeholder[key]
}

// Iterations returns the number of training batches per epoch on this worker.
func (t *Trainer) Iterations() int {
	return t.iterations
}

// ValidIterations returns the number of validation batches per epoch on this worker.
func (t *Trainer) ValidIterations() int {
	return t.validIterations
}

// TrainOnBatch updates the parameters from the next training batch and returns
// its l_net.
func (t *Trainer) TrainOnBatch(ctx context.Context) (float64, error) {
	batchSize := float64(t.hp.BatchSize)
	p, dl := t.placeholder[KeyTrain], t.dataloader[KeyTrain]

	t.solver.ZeroGrad()
	batch, err := dl.Next()
	if err != nil {
		return 0, err
	}
	if err := p.Bind(batch); err != nil {
		return 0, err
	}
	if err := p.Forward(); err != nil {
		return 0, err
	}
	if err := p.Backward(); err != nil {
		return 0, err
	}
	t.monitor.Update("train/l_mel", p.Loss(LMel), batchSize)
	t.monitor.Update("train/l_gat", p.Loss(LGat), batchSize)
	t.monitor.Update("train/l_net", p.Loss(LNet), batchSize)

	if t.comm.Size() > 1 {
		if err := t.comm.AllReduce(ctx, t.model.Params().Grads(), true, false); err != nil {
			return 0, errors.Wrap(err, "all-reduce gradients")
		}
	}
	t.solver.WeightDecay(t.hp.WeightDecay)
	t.solver.Update()
	return p.Loss(LNet), nil
}

// ValidOnBatch evaluates the next validation batch and adds it to the epoch loss.
func (t *Trainer) ValidOnBatch() (float64, error) {
	batchSize := float64(t.hp.BatchSize)
	p, dl := t.placeholder[KeyValid], t.dataloader[KeyValid]

	batch, err := dl.Next()
	if err != nil {
		return 0, err
	}
	if err := p.Bind(batch); err != nil {
		return 0, err
	}
	if err := p.Forward(); err != nil {
		return 0, err
	}
	t.loss.Data()[0] += float32(p.Loss(LNet) * batchSize)
	t.monitor.Update("valid/l_mel", p.Loss(LMel), batchSize)
	t.monitor.Update("valid/l_gat", p.Loss(LGat), batchSize)
	t.monitor.Update("valid/l_net", p.Loss(LNet), batchSize)
	return p.Loss(LNet), nil
}

// OnEpochEnd averages the accumulated validation loss over workers and validation
// samples and resets it. On the leader it logs the result and, every
// EpochsPerCheckpoint epochs, writes o_att.png, o_mel.png and model_<N>.safetensors
// from the training graph under OutputPath/output/epoch_<N>.
func (t *Trainer) OnEpochEnd(ctx context.Context) (float64, error) {
	if t.comm.Size() > 1 {
		if err := t.comm.AllReduce(ctx, []*tensor.Tensor{t.loss}, true, false); err != nil {
			return 0, errors.Wrap(err, "all-reduce validation loss")
		}
	}
	loss := float64(t.loss.Data()[0]) / float64(t.validIterations*t.hp.BatchSize)
	t.loss.Zero()

	if !comm.IsLeader(t.comm) {
		return loss, nil
	}
	if err := t.monitor.Info(fmt.Sprintf("valid/loss=%.5f", loss)); err != nil {
		return 0, err
	}
	if t.hp.OutputPath != "" && t.curEpoch%t.hp.EpochsPerCheckpoint == 0 {
		if err := t.writeArtifacts(t.curEpoch); err != nil {
			return 0, err
		}
	}
	return loss, nil
}

// Train runs one epoch of TrainOnBatch and returns the mean l_net.
func (t *Trainer) Train(ctx context.Context, epoch int) (float64, error) {
	t.curEpoch = epoch
	if slices.Contains(t.hp.LearningRateDecayEpochs, epoch) {
		t.solver.SetLearningRate(t.solver.LearningRate() * t.hp.LearningRateDecayFactor)
	}

	var sum float64
	for i := 0; i < t.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		loss, err := t.TrainOnBatch(ctx)
		if err != nil {
			return 0, errors.Wrapf(err, "batch %d", i)
		}
		if comm.IsLeader(t.comm) {
			klog.V(2).Infof("train epoch %d batch %d/%d: l_net %.5f", epoch, i+1, t.iterations, loss)
		}
		sum += loss
	}
	if err := t.monitor.Flush(epoch); err != nil {
		return 0, err
	}
	return sum / float64(t.iterations), nil
}

// Validate runs one epoch of ValidOnBatch followed by OnEpochEnd and returns the
// per-sample validation loss averaged over workers.
func (t *Trainer) Validate(ctx context.Context, epoch int) (float64, error) {
	t.curEpoch = epoch
	for i := 0; i < t.validIterations; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		loss, err := t.ValidOnBatch()
		if err != nil {
			return 0, errors.Wrapf(err, "validation batch %d", i)
		}
		if comm.IsLeader(t.comm) {
			klog.V(2).Infof("validate epoch %d batch %d/%d: l_net %.5f", epoch, i+1, t.validIterations, loss)
		}
	}
	loss, err := t.OnEpochEnd(ctx)
	if err != nil {
		return 0, err
	}
	if err := t.monitor.Flush(epoch); err != nil {
		return 0, err
	}
	return loss, nil
}

// SaveCheckpoint writes parameters and solver state to <CheckpointDir>/epoch_<N>
// on the leader.
func (t *Trainer) SaveCheckpoint(epoch int) error {
	if !comm.IsLeader(t.comm) || t.hp.CheckpointDir == "" {
		return nil
	}
	dir, err := checkpoint.Save(t.hp.CheckpointDir, epoch, t.model.Params(), t.solver, t.hp.Metadata)
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

// ArtifactDir returns OutputPath/output/epoch_<N>.
func (t *Trainer) ArtifactDir(epoch int) string {
	return filepath.Join(t.hp.OutputPath, "output", fmt.Sprintf("epoch_%d", epoch))
}

func (t *Trainer) writeArtifacts(epoch int) error {
	p := t.placeholder[KeyTrain]
	dir := t.ArtifactDir(epoch)

	// First utterance: alignment as [encoder, decoder], frames as [channel, frame].
	att, err := p.Var(OAtt).Row(0).Transpose()
	if err != nil {
		return err
	}
	img, err := visual.Heatmap(att, visual.HeatmapOptions{
		Title:  "Attention",
		XLabel: "Decoder timestep",
		YLabel: "Encoder timestep",
		Width:  600,
		Height: 500,
	})
	if err != nil {
		return errors.Wrap(err, "attention figure")
	}
	if err := visual.SavePNG(filepath.Join(dir, OAtt+".png"), img); err != nil {
		return err
	}

	frames, err := p.Var(OMel).Row(0).Reshape(tensor.Shape{t.hp.MelLen * t.hp.R, t.hp.NMels})
	if err != nil {
		return err
	}
	spec, err := frames.Transpose()
	if err != nil {
		return err
	}
	img, err = visual.Heatmap(spec, visual.HeatmapOptions{
		Title:  "Mel spectrogram",
		XLabel: "Frame",
		YLabel: "Channel",
		Width:  600,
		Height: 300,
	})
	if err != nil {
		return errors.Wrap(err, "spectrogram figure")
	}
	if err := visual.SavePNG(filepath.Join(dir, OMel+".png"), img); err != nil {
		return err
	}

	meta := map[string]string{"epoch": fmt.Sprint(epoch)}
	for k, v := range t.hp.Metadata {
		meta[k] = v
	}
	path := filepath.Join(dir, fmt.Sprintf("model_%d.safetensors", epoch))
	if err := t.model.Params().Save(path, meta); err != nil {
		return err
	}
	klog.Infof("wrote epoch %d outputs to %s", epoch, dir)
	return nil
}
