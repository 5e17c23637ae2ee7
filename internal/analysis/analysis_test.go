package analysis

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/device"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/trainer"
)

var testDevice = device.Device{Kind: device.KindCPU, Name: "test", Workers: 1}

func writePNG(t *testing.T, fs afero.Fs, path string, shade uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 6, 6))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

// regressionFs holds a tiny train and test set with two target values per
// image.
func regressionFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, dir := range []string{"train", "test"} {
		writePNG(t, fs, dir+"/a.png", 20)
		writePNG(t, fs, dir+"/b.png", 200)
		writePNG(t, fs, dir+"/c.png", 120)
		require.NoError(t, afero.WriteFile(fs, dir+"/label.txt",
			[]byte("a.png 0.1 0.2\nb.png 0.9 0.8\nc.png 0.5 0.5\n"), 0o644))
	}
	return fs
}

func trainSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Train = conf.TrainSettings{
		TrainPath:      "train",
		TestPath:       "test",
		Checkpoint:     "model/net.ckpt",
		ImageSize:      4,
		BatchSize:      2,
		Epochs:         3,
		DecayEpoch:     2,
		LearningRate:   0.01,
		DecayFactor:    0.1,
		BestLoss:       100,
		SaveBest:       true,
		Loss:           "mse",
		Optimizer:      "adam",
		OptimizerReset: trainer.ResetOptimizer,
		Seed:           7,
		DiagnosticsDir: "diag",
		Model:          conf.ModelSettings{Type: ModelMLP, Hidden: []int{4}},
	}
	return s
}

func TestNewTrainerFollowsDatasetWidth(t *testing.T) {
	fs := regressionFs(t)
	settings := trainSettings()

	tr, err := NewTrainer(t.Context(), settings, WithFs(fs), WithDevice(testDevice))
	require.NoError(t, err)
	assert.False(t, tr.Loaded())
	assert.Equal(t, testDevice, tr.Device())

	settings.Train.Model.Outputs = 3
	_, err = NewTrainer(t.Context(), settings, WithFs(fs), WithDevice(testDevice))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewTrainerRejectsUnknownLossAndOptimizer(t *testing.T) {
	fs := regressionFs(t)

	settings := trainSettings()
	settings.Train.Loss = "hinge"
	_, err := NewTrainer(t.Context(), settings, WithFs(fs), WithDevice(testDevice))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	settings = trainSettings()
	settings.Train.Optimizer = "lbfgs"
	_, err = NewTrainer(t.Context(), settings, WithFs(fs), WithDevice(testDevice))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewTrainerMissingDataset(t *testing.T) {
	settings := trainSettings()
	_, err := NewTrainer(t.Context(), settings, WithFs(afero.NewMemMapFs()), WithDevice(testDevice))
	assert.Error(t, err)
}

func TestTrainThenTest(t *testing.T) {
	fs := regressionFs(t)
	settings := trainSettings()

	var out bytes.Buffer
	summary, err := Train(t.Context(), settings, &out, WithFs(fs), WithDevice(testDevice))
	require.NoError(t, err)

	assert.Equal(t, trainer.StatusFinished, summary.Status)
	assert.Equal(t, 3, summary.Epochs)
	assert.Equal(t, "model/net_best.ckpt", summary.BestPath)
	assert.Contains(t, out.String(), trainer.StatusFinished)
	assert.Contains(t, out.String(), "model/net_best.ckpt")

	for _, p := range []string{"model/net.ckpt", "model/net_best.ckpt"} {
		exists, err := afero.Exists(fs, p)
		require.NoError(t, err)
		assert.True(t, exists, p)
	}

	out.Reset()
	loss, err := Test(t.Context(), settings, false, &out, WithFs(fs), WithDevice(testDevice))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, loss, 0.0)
	assert.Contains(t, out.String(), "test loss:")
}

func TestTestWithoutCheckpoint(t *testing.T) {
	_, err := Test(t.Context(), trainSettings(), false, &bytes.Buffer{}, WithFs(regressionFs(t)), WithDevice(testDevice))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

// baiduServer answers the token exchange and the recognition endpoint.
func baiduServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/2.0/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "24.exchanged", "expires_in": 3600}`))
	})
	mux.HandleFunc("/car", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "24.exchanged", r.URL.Query().Get("access_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"log_id": 1, "result": [
			{"name": "Toyota", "score": 0.9, "year": 2015},
			{"name": "Honda", "score": 0.1, "year": "2016款"}
		]}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func labelSettings(server *httptest.Server) *conf.Settings {
	s := &conf.Settings{}
	s.Baidu = conf.BaiduSettings{
		Endpoint:     server.URL + "/car",
		TokenURL:     server.URL + "/oauth/2.0/token",
		APIKey:       "key",
		SecretKey:    "secret",
		TopNum:       5,
		Timeout:      5 * time.Second,
		Retries:      3,
		RetryBackoff: time.Millisecond,
	}
	return s
}

func TestLabelExchangesTokenAndRenames(t *testing.T) {
	server := baiduServer(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "img1.jpg"), []byte("jpeg"), 0o644))

	var out bytes.Buffer
	summary, err := Label(t.Context(), labelSettings(server), root, &out)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Labeled)
	assert.FileExists(t, filepath.Join(root, "img1_baidu_Toyota_0.9_2015_Honda_0.1_2016款.jpg"))
	assert.NoFileExists(t, filepath.Join(root, "img1.jpg"))
	assert.Contains(t, out.String(), "labeled:    1")
}

func TestLabelNeedsCredentials(t *testing.T) {
	_, err := Label(t.Context(), &conf.Settings{}, t.TempDir(), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	server := baiduServer(t)

	var out bytes.Buffer
	require.NoError(t, Token(t.Context(), labelSettings(server), &out))
	assert.Contains(t, out.String(), "24.exchanged")
	assert.Contains(t, out.String(), "expires")

	err := Token(t.Context(), &conf.Settings{}, &out)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestClean(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cars/abcjpg", []byte("x"), 0o644))

	var out bytes.Buffer
	n, err := Clean(fs, "/cars", &out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out.String(), "renamed 1 files")

	exists, err := afero.Exists(fs, "/cars/abc.jpg")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRecords(t *testing.T) {
	fs := regressionFs(t)
	settings := trainSettings()
	settings.Train.Epochs = 1
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "carnet.db")

	summary, err := Train(t.Context(), settings, &bytes.Buffer{}, WithFs(fs), WithDevice(testDevice))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Records(t.Context(), settings, RecordsRuns, "", 10, &out))
	assert.Contains(t, out.String(), summary.RunID)
	assert.Contains(t, out.String(), trainer.StatusFinished)

	out.Reset()
	require.NoError(t, Records(t.Context(), settings, "", summary.RunID, 0, &out))
	assert.Contains(t, out.String(), "EPOCH")

	out.Reset()
	require.NoError(t, Records(t.Context(), settings, RecordsLabels, "", 10, &out))
	assert.Contains(t, out.String(), "STATUS")

	assert.Error(t, Records(t.Context(), settings, "bogus", "", 10, &out))
	assert.Error(t, Records(t.Context(), &conf.Settings{}, RecordsRuns, "", 10, &out))
}
