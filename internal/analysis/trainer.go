// Package analysis runs the jobs behind the command line: training,
// evaluation, labelling, name repair and token exchange.
package analysis

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/dataset"
	"github.com/tphakala/carnet-go/internal/device"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
	"github.com/tphakala/carnet-go/internal/nn"
	"github.com/tphakala/carnet-go/internal/trainer"
)

// Model types.
const (
	ModelLinear = "linear"
	ModelMLP    = "mlp"
)

type jobOptions struct {
	fs        afero.Fs
	observers []trainer.Observer
	device    *device.Device
}

// Option configures a job.
type Option func(*jobOptions)

// WithFs sets the filesystem datasets and checkpoints live on.
func WithFs(fs afero.Fs) Option {
	return func(o *jobOptions) { o.fs = fs }
}

// WithObservers registers trainer observers.
func WithObservers(obs ...trainer.Observer) Option {
	return func(o *jobOptions) { o.observers = append(o.observers, obs...) }
}

// WithDevice skips host inspection and trains on d.
func WithDevice(d device.Device) Option {
	return func(o *jobOptions) { o.device = &d }
}

// NewTrainer opens and decodes both datasets, builds the configured model,
// loss and optimizer, and returns a trainer over them. The model output
// width follows the train set unless model.outputs is set, in which case
// both must agree.
func NewTrainer(ctx context.Context, settings *conf.Settings, opts ...Option) (*trainer.Trainer, error) {
	o := jobOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}

	ts := &settings.Train
	cfg := trainer.ConfigFromSettings(ts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var dev device.Device
	if o.device != nil {
		dev = *o.device
	} else {
		dev = device.Select(cfg.Workers)
	}

	log := GetLogger()
	trainSet, err := openDataset(ctx, o.fs, cfg.TrainPath, cfg.ImageSize, dev.Workers, log)
	if err != nil {
		return nil, err
	}
	testSet, err := openDataset(ctx, o.fs, cfg.TestPath, cfg.ImageSize, dev.Workers, log)
	if err != nil {
		return nil, err
	}

	outputs := trainSet.TargetWidth()
	if testSet.TargetWidth() != outputs {
		return nil, configError("train and test targets differ in width").
			Context("train_width", outputs).
			Context("test_width", testSet.TargetWidth()).
			Build()
	}
	if ts.Model.Outputs > 0 && ts.Model.Outputs != outputs {
		return nil, configError("model outputs do not match dataset targets").
			Context("outputs", ts.Model.Outputs).
			Context("target_width", outputs).
			Build()
	}

	hidden := ts.Model.Hidden
	if ts.Model.Type == ModelLinear {
		hidden = nil
	}
	model := nn.NewMLP(dataset.InputSize(cfg.ImageSize), hidden, outputs, cfg.Seed, dev.Workers)

	loss, err := nn.LossByName(ts.Loss)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	optimizer, err := nn.OptimizerByName(ts.Optimizer, ts.Momentum)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return trainer.New(cfg, model, loss,
		trainer.WithFs(o.fs),
		trainer.WithDevice(dev),
		trainer.WithDatasets(trainSet, testSet),
		trainer.WithOptimizer(optimizer),
		trainer.WithObserver(o.observers...),
	)
}

func openDataset(ctx context.Context, fs afero.Fs, root string, size, workers int, log logger.Logger) (*dataset.ImageFolder, error) {
	ds, err := dataset.NewImageFolder(fs, root, size)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := ds.Preload(ctx, workers); err != nil {
		return nil, err
	}
	log.Info("dataset loaded",
		logger.String("root", root),
		logger.Int("samples", ds.Len()),
		logger.Int("classes", len(ds.Classes())),
		logger.Duration("elapsed", time.Since(start)))
	return ds, nil
}

func configError(msg string) *errors.ErrorBuilder {
	return errors.Newf("%s", msg).
		Component("analysis").
		Category(errors.CategoryConfiguration)
}
