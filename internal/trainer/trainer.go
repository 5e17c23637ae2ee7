// Package trainer runs supervised training of an image model: epochs of
// optimizer steps over a shuffled training set, evaluation on a test set
// after every epoch, step decay of the learning rate, a best snapshot on
// every improvement and a final snapshot at the end of the run.
package trainer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/checkpoint"
	"github.com/tphakala/carnet-go/internal/dataset"
	"github.com/tphakala/carnet-go/internal/device"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
	"github.com/tphakala/carnet-go/internal/nn"
)

// Checkpointer persists model parameters.
type Checkpointer interface {
	Exists(path string) (bool, error)
	Save(path string, model nn.Model, meta map[string]string) error
	Load(path string, model nn.Model) (*checkpoint.Header, error)
}

// Trainer drives training of one model.
type Trainer struct {
	cfg       Config
	model     nn.Model
	loss      nn.Loss
	newOpt    nn.OptimizerFactory
	opt       nn.Optimizer
	lr        float64
	bestLoss  float64
	device    device.Device
	hasDevice bool

	fs        afero.Fs
	store     Checkpointer
	trainData dataset.Dataset
	testData  dataset.Dataset
	train     *dataset.Loader
	test      *dataset.Loader

	observers []Observer
	diag      DiagnosticsSink
	log       logger.Logger
	runID     string
	loaded    bool
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithOptimizer sets the optimizer factory. The default is Adam.
func WithOptimizer(f nn.OptimizerFactory) Option {
	return func(t *Trainer) { t.newOpt = f }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Trainer) { t.log = l }
}

// WithObserver registers observers of training progress.
func WithObserver(obs ...Observer) Option {
	return func(t *Trainer) { t.observers = append(t.observers, obs...) }
}

// WithDatasets injects the training and test datasets instead of reading
// them from the configured paths.
func WithDatasets(train, test dataset.Dataset) Option {
	return func(t *Trainer) { t.trainData, t.testData = train, test }
}

// WithDevice overrides device selection.
func WithDevice(d device.Device) Option {
	return func(t *Trainer) { t.device, t.hasDevice = d, true }
}

// WithDiagnostics sets where Test draws predictions.
func WithDiagnostics(sink DiagnosticsSink) Option {
	return func(t *Trainer) { t.diag = sink }
}

// WithCheckpointer sets the checkpoint store.
func WithCheckpointer(c Checkpointer) Option {
	return func(t *Trainer) { t.store = c }
}

// WithFs sets the filesystem datasets, checkpoints and diagnostics use.
func WithFs(fsys afero.Fs) Option {
	return func(t *Trainer) { t.fs = fsys }
}

// New builds a trainer. It selects the device, restores the checkpoint
// unless cfg.ReTrain is set and opens both datasets. A checkpoint that
// exists but cannot be loaded is an error.
func New(cfg Config, model nn.Model, loss nn.Loss, opts ...Option) (*Trainer, error) {
	if model == nil || loss == nil {
		return nil, errors.Newf("model and loss are required").
			Component("trainer").
			Category(errors.CategoryModelInit).
			Build()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Trainer{
		cfg:      cfg,
		model:    model,
		loss:     loss,
		lr:       cfg.LearningRate,
		bestLoss: cfg.BestLoss,
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.log == nil {
		t.log = GetLogger()
	}
	if t.fs == nil {
		t.fs = afero.NewOsFs()
	}
	if t.store == nil {
		t.store = checkpoint.NewStore(t.fs)
	}
	if t.newOpt == nil {
		t.newOpt = func(params []*nn.Param, lr float64) nn.Optimizer { return nn.NewAdam(params, lr) }
	}
	if !t.hasDevice {
		t.device = device.Select(cfg.Workers)
	}
	if t.diag == nil {
		t.diag = NewPNGDiagnostics(t.fs, cfg.DiagnosticsDir, cfg.ImageSize)
	}
	t.log = t.log.With(logger.String("run_id", t.runID))

	t.log.Info("training device selected",
		logger.String("kind", t.device.Kind),
		logger.String("name", t.device.Name),
		logger.Int("workers", t.device.Workers),
		logger.Uint64("memory_mb", t.device.MemoryMB))

	if err := t.restore(); err != nil {
		return nil, err
	}
	if err := t.openDatasets(); err != nil {
		return nil, err
	}

	t.train = &dataset.Loader{Dataset: t.trainData, BatchSize: cfg.BatchSize, Shuffle: true, Seed: cfg.Seed}
	t.test = &dataset.Loader{Dataset: t.testData, BatchSize: cfg.BatchSize}
	t.opt = t.newOpt(model.Params(), t.lr)

	t.log.Info("trainer ready",
		logger.String("model", model.Name()),
		logger.String("loss", loss.Name()),
		logger.String("train_path", cfg.TrainPath),
		logger.String("test_path", cfg.TestPath),
		logger.Int("train_samples", t.trainData.Len()),
		logger.Int("test_samples", t.testData.Len()),
		logger.Int("img_size", cfg.ImageSize),
		logger.Int("batch_size", cfg.BatchSize))
	return t, nil
}

func (t *Trainer) restore() error {
	if t.cfg.ReTrain {
		t.log.Info("retraining from scratch, checkpoint ignored", logger.String("path", t.cfg.CheckpointPath))
		return nil
	}

	exists, err := t.store.Exists(t.cfg.CheckpointPath)
	if err != nil {
		return errors.New(err).
			Component("trainer").
			Category(errors.CategoryFileIO).
			Context("path", t.cfg.CheckpointPath).
			Build()
	}
	if !exists {
		return nil
	}

	t.log.Info("loading checkpoint", logger.String("path", t.cfg.CheckpointPath))
	hdr, err := t.store.Load(t.cfg.CheckpointPath, t.model)
	if err != nil {
		return errors.New(err).
			Component("trainer").
			Category(errors.CategoryModelLoad).
			ModelContext(t.cfg.CheckpointPath, t.model.Name()).
			Context("path", t.cfg.CheckpointPath).
			Build()
	}
	t.loaded = true
	t.log.Info("checkpoint loaded",
		logger.String("model", hdr.Model),
		logger.Time("created", hdr.Created))
	return nil
}

func (t *Trainer) openDatasets() error {
	if t.trainData != nil && t.testData != nil {
		return nil
	}

	open := func(root string) (dataset.Dataset, error) {
		ds, err := dataset.NewImageFolder(t.fs, root, t.cfg.ImageSize)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		if err := ds.Preload(context.Background(), t.device.Workers); err != nil {
			return nil, err
		}
		t.log.Debug("dataset decoded",
			logger.String("root", root),
			logger.Int("samples", ds.Len()),
			logger.Duration("elapsed", time.Since(start)))
		return ds, nil
	}

	var err error
	if t.trainData == nil {
		if t.trainData, err = open(t.cfg.TrainPath); err != nil {
			return err
		}
	}
	if t.testData == nil {
		if t.testData, err = open(t.cfg.TestPath); err != nil {
			return err
		}
	}
	return nil
}

// RunID identifies this trainer's run in logs, records and messages.
func (t *Trainer) RunID() string { return t.runID }

// LearningRate is the current learning rate.
func (t *Trainer) LearningRate() float64 { return t.lr }

// BestLoss is the lowest test loss seen, or the configured threshold.
func (t *Trainer) BestLoss() float64 { return t.bestLoss }

// Loaded reports whether a checkpoint was restored at construction.
func (t *Trainer) Loaded() bool { return t.loaded }

// Device is the device training runs on.
func (t *Trainer) Device() device.Device { return t.device }

// Train runs epochs of training. At every epoch e with e >= decayEpoch and
// e divisible by decayEpoch the learning rate is multiplied by the decay
// factor; decayEpoch 0 disables decay. After each epoch the model is
// evaluated and, with saveBest, written to the best path when the test
// loss is strictly below the best so far. The primary checkpoint is
// always written once all epochs complete.
func (t *Trainer) Train(ctx context.Context, epochs, decayEpoch int, saveBest bool) (RunSummary, error) {
	start := time.Now()
	log := t.log.WithContext(ctx)
	summary := RunSummary{
		RunID:          t.runID,
		Status:         StatusRunning,
		CheckpointPath: t.cfg.CheckpointPath,
	}

	t.notifyStart(ctx, epochs)
	log.Info("training started",
		logger.Int("epochs", epochs),
		logger.Int("decay_epoch", decayEpoch),
		logger.Bool("save_best", saveBest),
		logger.Float64("lr", t.lr),
		logger.Float64("best_loss", t.bestLoss))

	fail := func(err error) (RunSummary, error) {
		summary.Status = StatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			summary.Status = StatusKilled
		}
		summary.Err = err
		summary.Duration = time.Since(start)
		summary.BestLoss = t.bestLoss
		summary.LearningRate = t.lr
		log.Error("training stopped", logger.Error(err), logger.String("status", summary.Status))
		t.notifyComplete(context.WithoutCancel(ctx), summary)
		return summary, err
	}

	for epoch := range epochs {
		epochStart := time.Now()
		rec := EpochRecord{RunID: t.runID, Epoch: epoch}

		if decayEpoch > 0 && epoch >= decayEpoch && epoch%decayEpoch == 0 {
			t.decay(epoch)
			rec.Decayed = true
		}

		batches, firstLoss, err := t.trainEpoch(ctx, epoch)
		if err != nil {
			return fail(err)
		}
		rec.Batches = batches
		rec.FirstBatchLoss = firstLoss

		testLoss, err := t.Test(ctx, false)
		if err != nil {
			return fail(err)
		}
		rec.TestLoss = testLoss
		summary.FinalTestLoss = testLoss

		if saveBest && testLoss < t.bestLoss {
			t.bestLoss = testLoss
			bestPath := BestCheckpointPath(t.cfg.CheckpointPath)
			if err := t.save(bestPath, epoch, testLoss); err != nil {
				return fail(err)
			}
			rec.Improved = true
			summary.Improvements++
			summary.BestPath = bestPath
			t.notifyCheckpoint(CheckpointBest, bestPath)
			log.Info("best checkpoint saved",
				logger.String("path", bestPath),
				logger.Int("epoch", epoch),
				logger.Float64("test_loss", testLoss))
		}

		rec.BestLoss = t.bestLoss
		rec.LearningRate = t.lr
		rec.Duration = time.Since(epochStart)
		summary.Epochs = epoch + 1
		t.notifyEpoch(ctx, rec)
	}

	if err := t.save(t.cfg.CheckpointPath, summary.Epochs-1, summary.FinalTestLoss); err != nil {
		return fail(err)
	}
	t.notifyCheckpoint(CheckpointFinal, t.cfg.CheckpointPath)
	log.Info("checkpoint saved", logger.String("path", t.cfg.CheckpointPath))

	summary.Status = StatusFinished
	summary.BestLoss = t.bestLoss
	summary.LearningRate = t.lr
	summary.Duration = time.Since(start)
	log.Info("training finished",
		logger.Int("epochs", summary.Epochs),
		logger.Float64("best_loss", summary.BestLoss),
		logger.Float64("final_test_loss", summary.FinalTestLoss),
		logger.Int("improvements", summary.Improvements),
		logger.Duration("elapsed", summary.Duration))
	t.notifyComplete(ctx, summary)
	return summary, nil
}

func (t *Trainer) decay(epoch int) {
	t.lr *= t.cfg.DecayFactor
	if t.cfg.OptimizerReset == PreserveOptimizer {
		t.opt.SetLearningRate(t.lr)
	} else {
		t.opt = t.newOpt(t.model.Params(), t.lr)
	}
	t.log.Info("learning rate decayed",
		logger.Int("epoch", epoch),
		logger.Float64("lr", t.lr),
		logger.String("optimizer", t.cfg.OptimizerReset))
}

func (t *Trainer) trainEpoch(ctx context.Context, epoch int) (batches int, firstLoss float64, err error) {
	t.model.SetTraining(true)
	batchObservers := t.batchObservers()

	for b, err := range t.train.Batches(epoch) {
		if err != nil {
			return batches, firstLoss, trainingError(err, epoch, batches, "load batch")
		}
		if err := ctx.Err(); err != nil {
			return batches, firstLoss, err
		}

		started := time.Now()
		t.opt.ZeroGrad()

		out, err := t.model.Forward(b.Inputs)
		if err != nil {
			return batches, firstLoss, trainingError(err, epoch, batches, "forward")
		}
		loss, grad, err := t.loss.Forward(out, b.Targets)
		if err != nil {
			return batches, firstLoss, trainingError(err, epoch, batches, "loss")
		}
		if err := t.model.Backward(grad); err != nil {
			return batches, firstLoss, trainingError(err, epoch, batches, "backward")
		}
		if err := t.opt.Step(); err != nil {
			return batches, firstLoss, trainingError(err, epoch, batches, "optimizer step")
		}

		if batches == 0 {
			firstLoss = loss / float64(t.cfg.BatchSize)
			t.log.Info("train",
				logger.Int("epoch", epoch),
				logger.Int("seen", batches*t.cfg.BatchSize),
				logger.Int("total", t.trainData.Len()),
				logger.Float64("loss", firstLoss),
				logger.Float64("lr", t.lr))
		}
		for _, o := range batchObservers {
			o.OnBatch(epoch, batches, loss, time.Since(started))
		}
		batches++
	}
	return batches, firstLoss, nil
}

// Test evaluates the model on the test set and returns the summed batch
// loss divided by the number of test examples. Parameters are not changed.
// With showDiagnostics every prediction is drawn by the diagnostics sink.
func (t *Trainer) Test(ctx context.Context, showDiagnostics bool) (float64, error) {
	n := t.testData.Len()
	if n == 0 {
		return 0, errors.Newf("test set is empty").
			Component("trainer").
			Category(errors.CategoryDataset).
			Build()
	}

	t.model.SetTraining(false)
	defer t.model.SetTraining(true)

	var sum float64
	for b, err := range t.test.Batches(0) {
		if err != nil {
			return 0, trainingError(err, -1, 0, "load test batch")
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		out, err := t.model.Forward(b.Inputs)
		if err != nil {
			return 0, trainingError(err, -1, 0, "test forward")
		}
		loss, _, err := t.loss.Forward(out, b.Targets)
		if err != nil {
			return 0, trainingError(err, -1, 0, "test loss")
		}
		sum += loss

		if showDiagnostics {
			for k, p := range b.Paths {
				if err := t.diag.Draw(ctx, p, out.Row(k), b.Targets.Row(k)); err != nil {
					t.log.Warn("diagnostics failed", logger.String("path", p), logger.Error(err))
				}
			}
		}
	}

	testLoss := sum / float64(n)
	t.log.Info("test", logger.Float64("avg_loss", testLoss), logger.Int("samples", n))
	return testLoss, nil
}

func (t *Trainer) save(path string, epoch int, testLoss float64) error {
	meta := map[string]string{
		"run_id":    t.runID,
		"epoch":     strconv.Itoa(epoch),
		"test_loss": strconv.FormatFloat(testLoss, 'g', -1, 64),
		"lr":        strconv.FormatFloat(t.lr, 'g', -1, 64),
		"loss":      t.loss.Name(),
	}
	if err := t.store.Save(path, t.model, meta); err != nil {
		return errors.New(err).
			Component("trainer").
			Category(errors.CategoryModelSave).
			Context("path", path).
			Build()
	}
	return nil
}

func (t *Trainer) batchObservers() []BatchObserver {
	var out []BatchObserver
	for _, o := range t.observers {
		if bo, ok := o.(BatchObserver); ok {
			out = append(out, bo)
		}
	}
	return out
}

func (t *Trainer) notifyStart(ctx context.Context, epochs int) {
	info := RunInfo{
		RunID:     t.runID,
		Model:     t.model.Name(),
		Loss:      t.loss.Name(),
		Epochs:    epochs,
		Config:    t.cfg,
		Device:    t.device.String(),
		StartedAt: time.Now(),
	}
	for _, o := range t.observers {
		if so, ok := o.(StartObserver); ok {
			if err := so.OnRunStart(ctx, info); err != nil {
				t.log.Warn("observer failed on run start", logger.String("observer", fmt.Sprintf("%T", o)), logger.Error(err))
			}
		}
	}
}

func (t *Trainer) notifyEpoch(ctx context.Context, rec EpochRecord) {
	for _, o := range t.observers {
		if err := o.OnEpoch(ctx, rec); err != nil {
			t.log.Warn("observer failed on epoch", logger.String("observer", fmt.Sprintf("%T", o)), logger.Error(err))
		}
	}
}

func (t *Trainer) notifyComplete(ctx context.Context, summary RunSummary) {
	for _, o := range t.observers {
		if err := o.OnRunComplete(ctx, summary); err != nil {
			t.log.Warn("observer failed on run complete", logger.String("observer", fmt.Sprintf("%T", o)), logger.Error(err))
		}
	}
}

func (t *Trainer) notifyCheckpoint(kind, path string) {
	for _, o := range t.observers {
		if co, ok := o.(CheckpointObserver); ok {
			co.OnCheckpoint(kind, path)
		}
	}
}

func trainingError(err error, epoch, batch int, op string) error {
	// Keep the dataset's own classification when it has one
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return err
	}
	return errors.New(err).
		Component("trainer").
		Category(errors.CategoryTraining).
		Context("epoch", epoch).
		Context("batch", batch).
		Context("operation", op).
		Build()
}
