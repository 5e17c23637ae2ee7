package trainer

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/carnet-go/internal/checkpoint"
	"github.com/tphakala/carnet-go/internal/dataset"
	"github.com/tphakala/carnet-go/internal/device"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
	"github.com/tphakala/carnet-go/internal/nn"
)

// fakeModel is a one-parameter identity model that tracks its mode.
type fakeModel struct {
	param    *nn.Param
	training bool
}

func newFakeModel() *fakeModel {
	return &fakeModel{param: &nn.Param{Name: "w", Shape: []int{1}, Value: []float32{0}, Grad: []float32{0}}, training: true}
}

func (m *fakeModel) Name() string                             { return "fake" }
func (m *fakeModel) Forward(x *nn.Tensor) (*nn.Tensor, error) { return x.Clone(), nil }
func (m *fakeModel) Backward(*nn.Tensor) error                { return nil }
func (m *fakeModel) Params() []*nn.Param                      { return []*nn.Param{m.param} }
func (m *fakeModel) SetTraining(training bool)                { m.training = training }

// scriptedLoss returns scripted values for evaluation calls, one per call,
// and a constant during training.
type scriptedLoss struct {
	model  *fakeModel
	script []float64
	calls  int
}

func (l *scriptedLoss) Name() string { return "scripted" }

func (l *scriptedLoss) Forward(pred, _ *nn.Tensor) (float64, *nn.Tensor, error) {
	grad := nn.NewTensor(pred.Shape...)
	if l.model.training {
		return 0.8, grad, nil
	}
	v := l.script[min(l.calls, len(l.script)-1)]
	l.calls++
	return v, grad, nil
}

type memStore struct {
	mu      sync.Mutex
	exists  bool
	loadErr error
	saves   []string
	loads   int
}

func (s *memStore) Exists(string) (bool, error) { return s.exists, nil }

func (s *memStore) Save(path string, _ nn.Model, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, path)
	return nil
}

func (s *memStore) Load(string, nn.Model) (*checkpoint.Header, error) {
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return &checkpoint.Header{Model: "fake"}, nil
}

type fakeOptimizer struct {
	lr      float64
	setLR   []float64
	steps   int
	factory *optFactory
}

func (o *fakeOptimizer) ZeroGrad() {}
func (o *fakeOptimizer) Step() error                { o.steps++; return nil }
func (o *fakeOptimizer) SetLearningRate(lr float64) { o.lr = lr; o.setLR = append(o.setLR, lr) }
func (o *fakeOptimizer) LearningRate() float64      { return o.lr }

type optFactory struct {
	built []*fakeOptimizer
}

func (f *optFactory) New(_ []*nn.Param, lr float64) nn.Optimizer {
	o := &fakeOptimizer{lr: lr, factory: f}
	f.built = append(f.built, o)
	return o
}

type recorder struct {
	mu       sync.Mutex
	starts   []RunInfo
	epochs   []EpochRecord
	done     []RunSummary
	batches  int
	saved    []string
	failWith error
}

func (r *recorder) OnRunStart(_ context.Context, info RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, info)
	return r.failWith
}

func (r *recorder) OnEpoch(_ context.Context, rec EpochRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epochs = append(r.epochs, rec)
	return r.failWith
}

func (r *recorder) OnRunComplete(_ context.Context, s RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, s)
	return r.failWith
}

func (r *recorder) OnBatch(int, int, float64, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
}

func (r *recorder) OnCheckpoint(kind, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, kind+":"+path)
}

func samples(n int) dataset.Memory {
	m := make(dataset.Memory, n)
	for i := range m {
		m[i] = dataset.Sample{Input: []float32{float32(i)}, Target: []float32{float32(i)}, Path: fmt.Sprintf("img%d.jpg", i)}
	}
	return m
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CheckpointPath = "model/net.ckpt"
	cfg.BatchSize = 2
	return cfg
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

type harness struct {
	trainer *Trainer
	model   *fakeModel
	loss    *scriptedLoss
	store   *memStore
	opts    *optFactory
	rec     *recorder
}

func newHarness(t *testing.T, cfg Config, script []float64, extra ...Option) *harness {
	t.Helper()
	h := &harness{model: newFakeModel(), store: &memStore{}, opts: &optFactory{}, rec: &recorder{}}
	h.loss = &scriptedLoss{model: h.model, script: script}

	opts := append([]Option{
		WithLogger(quietLogger()),
		WithDevice(device.Device{Kind: device.KindCPU, Name: "test", Workers: 1}),
		WithDatasets(samples(4), samples(1)),
		WithCheckpointer(h.store),
		WithOptimizer(h.opts.New),
		WithObserver(h.rec),
	}, extra...)

	tr, err := New(cfg, h.model, h.loss, opts...)
	require.NoError(t, err)
	h.trainer = tr
	return h
}

func TestBestCheckpointPath(t *testing.T) {
	tests := map[string]string{
		"model/resnet.pkl":    "model/resnet_best.pkl",
		"a.b.c":               "a.b_best.c",
		"model":               "model_best",
		"./model/carnet.ckpt": "./model/carnet_best.ckpt",
		"runs.v2/model":       "runs_best.v2/model",
	}
	for in, want := range tests {
		assert.Equal(t, want, BestCheckpointPath(in), in)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	cfg.OptimizerReset = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ResetOptimizer, cfg.OptimizerReset)

	cfg.BatchSize = 0
	cfg.OptimizerReset = "sometimes"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Contains(t, err.Error(), "batch size")
	assert.Contains(t, err.Error(), "sometimes")
}

func TestLearningRateDecaySchedule(t *testing.T) {
	h := newHarness(t, testConfig(), []float64{1})

	_, err := h.trainer.Train(t.Context(), 121, 40, false)
	require.NoError(t, err)
	require.Len(t, h.rec.epochs, 121)

	lrAt := func(e int) float64 { return h.rec.epochs[e].LearningRate }
	assert.InDelta(t, 1e-3, lrAt(0), 1e-15)
	assert.InDelta(t, 1e-3, lrAt(39), 1e-15)
	assert.InDelta(t, 1e-4, lrAt(40), 1e-15)
	assert.InDelta(t, 1e-4, lrAt(79), 1e-15)
	assert.InDelta(t, 1e-5, lrAt(80), 1e-15)
	assert.InDelta(t, 1e-6, lrAt(120), 1e-15)

	for e, rec := range h.rec.epochs {
		assert.Equal(t, e > 0 && e%40 == 0, rec.Decayed, "epoch %d", e)
	}

	// reset rebuilds the optimizer at each of the three boundaries
	require.Len(t, h.opts.built, 4)
	assert.InDelta(t, 1e-6, h.opts.built[3].lr, 1e-15)
}

func TestPreserveOptimizerOnDecay(t *testing.T) {
	cfg := testConfig()
	cfg.OptimizerReset = PreserveOptimizer
	h := newHarness(t, cfg, []float64{1})

	_, err := h.trainer.Train(t.Context(), 9, 4, false)
	require.NoError(t, err)

	require.Len(t, h.opts.built, 1)
	opt := h.opts.built[0]
	require.Len(t, opt.setLR, 2)
	assert.InDelta(t, 1e-4, opt.setLR[0], 1e-15)
	assert.InDelta(t, 1e-5, opt.setLR[1], 1e-15)
	assert.Equal(t, 9*2, opt.steps, "two batches per epoch")
}

func TestDecayDisabled(t *testing.T) {
	h := newHarness(t, testConfig(), []float64{1})
	_, err := h.trainer.Train(t.Context(), 5, 0, false)
	require.NoError(t, err)
	assert.InDelta(t, 1e-3, h.trainer.LearningRate(), 1e-15)
}

func TestBestCheckpointMonotonicity(t *testing.T) {
	losses := []float64{0.5, 0.4, 0.45, 0.3}

	t.Run("threshold never beaten", func(t *testing.T) {
		cfg := testConfig()
		cfg.BestLoss = 0.3
		h := newHarness(t, cfg, losses)

		summary, err := h.trainer.Train(t.Context(), 4, 0, true)
		require.NoError(t, err)

		assert.Equal(t, []string{"model/net.ckpt"}, h.store.saves)
		assert.Zero(t, summary.Improvements)
		assert.Empty(t, summary.BestPath)
		assert.InDelta(t, 0.3, summary.BestLoss, 1e-12)
	})

	t.Run("strict improvements", func(t *testing.T) {
		cfg := testConfig()
		cfg.BestLoss = 0.6
		h := newHarness(t, cfg, losses)

		summary, err := h.trainer.Train(t.Context(), 4, 0, true)
		require.NoError(t, err)

		best := "model/net_best.ckpt"
		assert.Equal(t, []string{best, best, best, "model/net.ckpt"}, h.store.saves)

		var improved []int
		for _, rec := range h.rec.epochs {
			if rec.Improved {
				improved = append(improved, rec.Epoch)
			}
		}
		assert.Equal(t, []int{0, 1, 3}, improved)
		assert.Equal(t, 3, summary.Improvements)
		assert.InDelta(t, 0.3, summary.BestLoss, 1e-12)
		assert.InDelta(t, 0.3, summary.FinalTestLoss, 1e-12)
		assert.Equal(t, []string{"best:" + best, "best:" + best, "best:" + best, "final:model/net.ckpt"}, h.rec.saved)
	})

	t.Run("save best disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.BestLoss = 0.6
		h := newHarness(t, cfg, losses)

		_, err := h.trainer.Train(t.Context(), 4, 0, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"model/net.ckpt"}, h.store.saves)
	})
}

func TestFinalCheckpointAlwaysWritten(t *testing.T) {
	h := newHarness(t, testConfig(), []float64{5})

	summary, err := h.trainer.Train(t.Context(), 2, 0, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"model/net.ckpt"}, h.store.saves)
	assert.Equal(t, StatusFinished, summary.Status)
	assert.Equal(t, 2, summary.Epochs)
	require.Len(t, h.rec.done, 1)
	require.Len(t, h.rec.starts, 1)
	assert.Equal(t, h.trainer.RunID(), h.rec.starts[0].RunID)
	assert.Equal(t, 4, h.rec.batches)
}

func TestFirstBatchLossIsScaledByBatchSize(t *testing.T) {
	h := newHarness(t, testConfig(), []float64{1})
	_, err := h.trainer.Train(t.Context(), 1, 0, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.8/2, h.rec.epochs[0].FirstBatchLoss, 1e-12)
	assert.Equal(t, 2, h.rec.epochs[0].Batches)
}

func TestCancellationSkipsFinalSave(t *testing.T) {
	h := newHarness(t, testConfig(), []float64{1})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	summary, err := h.trainer.Train(ctx, 3, 0, true)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusKilled, summary.Status)
	assert.Empty(t, h.store.saves)
	require.Len(t, h.rec.done, 1)
	assert.Equal(t, StatusKilled, h.rec.done[0].Status)
}

func TestObserverErrorsDoNotStopTraining(t *testing.T) {
	h := newHarness(t, testConfig(), []float64{1})
	h.rec.failWith = fmt.Errorf("broker down")

	summary, err := h.trainer.Train(t.Context(), 3, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Epochs)
	assert.Len(t, h.rec.epochs, 3)
}

func TestTestDividesByDatasetSize(t *testing.T) {
	model := newFakeModel()
	loss := &scriptedLoss{model: model, script: []float64{0.5, 0.25}}
	tr, err := New(testConfig(), model, loss,
		WithLogger(quietLogger()),
		WithDevice(device.Device{Workers: 1}),
		WithDatasets(samples(2), samples(3)),
		WithCheckpointer(&memStore{}))
	require.NoError(t, err)

	// batches of 2 and 1 examples
	got, err := tr.Test(t.Context(), false)
	require.NoError(t, err)
	assert.InDelta(t, 0.75/3, got, 1e-12)
	assert.True(t, model.training, "training mode restored")
}

func TestTestEmptySet(t *testing.T) {
	model := newFakeModel()
	tr, err := New(testConfig(), model, &scriptedLoss{model: model, script: []float64{1}},
		WithLogger(quietLogger()),
		WithDevice(device.Device{Workers: 1}),
		WithDatasets(samples(2), dataset.Memory{}),
		WithCheckpointer(&memStore{}))
	require.NoError(t, err)

	_, err = tr.Test(t.Context(), false)
	require.Error(t, err)
}

type diagRecorder struct {
	paths []string
}

func (d *diagRecorder) Draw(_ context.Context, path string, pred, target []float32) error {
	d.paths = append(d.paths, path)
	return nil
}

func TestTestWithDiagnostics(t *testing.T) {
	sink := &diagRecorder{}
	h := newHarness(t, testConfig(), []float64{1}, WithDiagnostics(sink))

	_, err := h.trainer.Test(t.Context(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"img0.jpg"}, sink.paths)

	_, err = h.trainer.Test(t.Context(), false)
	require.NoError(t, err)
	assert.Len(t, sink.paths, 1)
}

func TestCheckpointLoadedUnlessRetrain(t *testing.T) {
	store := &memStore{exists: true}
	model := newFakeModel()
	base := []Option{
		WithLogger(quietLogger()),
		WithDevice(device.Device{Workers: 1}),
		WithDatasets(samples(2), samples(1)),
		WithCheckpointer(store),
	}

	tr, err := New(testConfig(), model, &scriptedLoss{model: model}, base...)
	require.NoError(t, err)
	assert.True(t, tr.Loaded())
	assert.Equal(t, 1, store.loads)

	cfg := testConfig()
	cfg.ReTrain = true
	tr, err = New(cfg, model, &scriptedLoss{model: model}, base...)
	require.NoError(t, err)
	assert.False(t, tr.Loaded())
	assert.Equal(t, 1, store.loads)
}

func TestCorruptCheckpointFailsConstruction(t *testing.T) {
	store := &memStore{exists: true, loadErr: fmt.Errorf("not a checkpoint file")}
	model := newFakeModel()

	_, err := New(testConfig(), model, &scriptedLoss{model: model},
		WithLogger(quietLogger()),
		WithDevice(device.Device{Workers: 1}),
		WithDatasets(samples(2), samples(1)),
		WithCheckpointer(store))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))

	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "checkpoint", ee.GetContext()["model_path_type"])
	assert.Equal(t, "fake", ee.GetContext()["model_version"])
}

func TestNewRequiresModelAndLoss(t *testing.T) {
	_, err := New(testConfig(), nil, nn.MSE{})
	require.Error(t, err)
}

// End to end with a real model, real checkpoints and image datasets on an
// in-memory filesystem.
func TestTrainEndToEnd(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeDataset(t, fsys, "data/train", 6)
	writeDataset(t, fsys, "data/test", 2)

	cfg := testConfig()
	cfg.TrainPath = "data/train"
	cfg.TestPath = "data/test"
	cfg.ImageSize = 4
	cfg.BestLoss = math.Inf(1)

	model := nn.NewMLP(dataset.InputSize(4), []int{8}, 2, 1, 1)
	tr, err := New(cfg, model, nn.SmoothL1{Beta: 1},
		WithFs(fsys),
		WithLogger(quietLogger()),
		WithDevice(device.Device{Kind: device.KindCPU, Workers: 2}))
	require.NoError(t, err)

	summary, err := tr.Train(t.Context(), 3, 2, true)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, summary.Status)
	assert.GreaterOrEqual(t, summary.Improvements, 1)

	for _, p := range []string{"model/net.ckpt", "model/net_best.ckpt"} {
		ok, err := afero.Exists(fsys, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}

	// A second trainer resumes from the final checkpoint
	resumed := nn.NewMLP(dataset.InputSize(4), []int{8}, 2, 99, 1)
	tr2, err := New(cfg, resumed, nn.SmoothL1{Beta: 1},
		WithFs(fsys),
		WithLogger(quietLogger()),
		WithDevice(device.Device{Workers: 1}))
	require.NoError(t, err)
	assert.True(t, tr2.Loaded())
	assert.Equal(t, model.Params()[0].Value, resumed.Params()[0].Value)
}
