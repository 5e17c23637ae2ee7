package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// isolate points config discovery at an empty temp home and working dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	viper.Reset()
	t.Cleanup(viper.Reset)
	return home
}

func TestLoadWritesDefaultConfig(t *testing.T) {
	home := isolate(t)

	settings, err := Load()
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(home, ".config", "carnet-go", "config.yaml"))
	assert.Equal(t, 224, settings.Train.ImageSize)
	assert.Equal(t, 32, settings.Train.BatchSize)
	assert.InDelta(t, 1e-3, settings.Train.LearningRate, 1e-12)
	assert.InDelta(t, 0.1, settings.Train.DecayFactor, 1e-12)
	assert.Equal(t, "reset", settings.Train.OptimizerReset)
	assert.Equal(t, "model/carnet.ckpt", settings.Train.Checkpoint)
	assert.Equal(t, DefaultBaiduEndpoint, settings.Baidu.Endpoint)
	assert.Equal(t, 3, settings.Baidu.Retries)
	assert.Same(t, settings, GetSettings())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CARNET_BAIDU_TOKENS", "tok-a, tok-b,,")
	t.Setenv("CARNET_BATCH_SIZE", "8")

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"tok-a", "tok-b"}, settings.Baidu.Tokens)
	assert.Equal(t, 8, settings.Train.BatchSize)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".config", "carnet-go")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("train:\n  batchsize: 0\n"), 0o600))

	_, err := Load()
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "batch size")
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	in := &Settings{}
	in.Train.BatchSize = 16
	in.Train.Loss = "mse"
	in.Baidu.Tokens = []string{"a", "b"}
	in.Version = "should-not-persist"

	require.NoError(t, SaveYAMLConfig(path, in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should-not-persist")

	var out Settings
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Equal(t, 16, out.Train.BatchSize)
	assert.Equal(t, "mse", out.Train.Loss)
	assert.Equal(t, []string{"a", "b"}, out.Baidu.Tokens)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "config-*.yaml"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary file left behind")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,b,, "))
	assert.Nil(t, splitList(",,"))
}

func TestEnvValidators(t *testing.T) {
	require.NoError(t, validateEnvBool("true"))
	require.Error(t, validateEnvBool("yes please"))
	require.NoError(t, validateEnvPositiveInt("4"))
	require.Error(t, validateEnvPositiveInt("0"))
	require.NoError(t, validateEnvNonNegativeInt("0"))
	require.Error(t, validateEnvNonNegativeInt("-1"))
	require.NoError(t, validateEnvURL("https://key@sentry.example.com/1"))
	require.Error(t, validateEnvURL("not a url"))
}
