// Package conf loads, validates and persists carnet settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/carnet-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the root configuration.
type Settings struct {
	Debug   bool   `yaml:"debug"`
	Version string `yaml:"-" mapstructure:"-"`

	Logging logger.LoggingConfig `yaml:"logging"`

	Train     TrainSettings    `yaml:"train"`
	Label     LabelSettings    `yaml:"label"`
	Baidu     BaiduSettings    `yaml:"baidu"`
	Output    OutputSettings   `yaml:"output"`
	MQTT      MQTTSettings     `yaml:"mqtt"`
	Notify    NotifySettings   `yaml:"notify"`
	Metrics   MetricsSettings  `yaml:"metrics"`
	Artifacts ArtifactSettings `yaml:"artifacts"`
	Sentry    SentrySettings   `yaml:"sentry"`
}

// TrainSettings configures the training orchestrator.
type TrainSettings struct {
	TrainPath      string        `yaml:"trainpath"`
	TestPath       string        `yaml:"testpath"`
	Checkpoint     string        `yaml:"checkpoint"`     // primary checkpoint, best path is derived from it
	ImageSize      int           `yaml:"imagesize"`      // square resize dimension
	BatchSize      int           `yaml:"batchsize"`      // examples per optimizer step
	Epochs         int           `yaml:"epochs"`         // number of epochs to run
	DecayEpoch     int           `yaml:"decayepoch"`     // learning rate decay interval, 0 disables decay
	LearningRate   float64       `yaml:"learningrate"`   // initial learning rate
	DecayFactor    float64       `yaml:"decayfactor"`    // multiplier applied at each decay boundary
	ReTrain        bool          `yaml:"retrain"`        // ignore an existing checkpoint
	BestLoss       float64       `yaml:"bestloss"`       // test loss a snapshot must beat to be kept
	SaveBest       bool          `yaml:"savebest"`       // write the best checkpoint on improvement
	Loss           string        `yaml:"loss"`           // smoothl1, mse or crossentropy
	Optimizer      string        `yaml:"optimizer"`      // adam or sgd
	Momentum       float64       `yaml:"momentum"`       // sgd momentum
	OptimizerReset string        `yaml:"optimizerreset"` // reset or preserve optimizer state on decay
	Seed           uint64        `yaml:"seed"`           // shuffle and init seed
	Workers        int           `yaml:"workers"`        // 0 selects from the cpu
	DiagnosticsDir string        `yaml:"diagnosticsdir"` // where test diagnostics are written
	Model          ModelSettings `yaml:"model"`
}

// ModelSettings selects the built-in model.
type ModelSettings struct {
	Type    string `yaml:"type"`    // linear or mlp
	Hidden  []int  `yaml:"hidden"`  // hidden layer widths for mlp
	Outputs int    `yaml:"outputs"` // output width, classes or coordinates
}

// LabelSettings configures the labelling agent.
type LabelSettings struct {
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions"` // empty means every file
	DryRun     bool     `yaml:"dryrun"`
	Records    bool     `yaml:"records"` // write sidecar records to the datastore
}

// BaiduSettings configures the vehicle recognition client.
type BaiduSettings struct {
	Endpoint     string        `yaml:"endpoint"`
	TokenURL     string        `yaml:"tokenurl"`
	APIKey       string        `yaml:"apikey"`
	SecretKey    string        `yaml:"secretkey"`
	Tokens       []string      `yaml:"tokens"` // credential pool, used in order
	TopNum       int           `yaml:"topnum"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimit    float64       `yaml:"ratelimit"` // requests per second, 0 disables limiting
	Retries      int           `yaml:"retries"`   // total attempts per request
	RetryBackoff time.Duration `yaml:"retrybackoff"`
	CacheTTL     time.Duration `yaml:"cachettl"`
}

// OutputSettings selects the record datastore.
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql"`
}

// SQLiteSettings configures the SQLite datastore.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MySQLSettings configures the MySQL datastore.
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

// MQTTSettings configures progress publishing.
type MQTTSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"clientid"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Retain   bool          `yaml:"retain"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NotifySettings configures push notifications.
type NotifySettings struct {
	Enabled bool          `yaml:"enabled"`
	URLs    []string      `yaml:"urls"` // shoutrrr service URLs
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsSettings configures the prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ArtifactSettings configures checkpoint uploads.
type ArtifactSettings struct {
	Enabled bool             `yaml:"enabled"`
	Targets []ArtifactTarget `yaml:"targets"`
}

// ArtifactTarget is one upload destination.
type ArtifactTarget struct {
	Type           string        `yaml:"type"` // local, sftp or ftp
	Path           string        `yaml:"path"` // destination directory
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	KeyFile        string        `yaml:"keyfile"`        // sftp private key
	KnownHostsFile string        `yaml:"knownhostsfile"` // sftp host key verification
	Timeout        time.Duration `yaml:"timeout"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
	Debug       bool   `yaml:"debug"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	once             sync.Once
)

// Load reads configuration from file, environment and defaults, validates
// it and stores it as the current settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		// Bad environment values are reported but do not block startup
		fmt.Fprintln(os.Stderr, err)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to dir and reads it.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() == nil {
			if _, err := Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Error loading settings: %v\n", err)
				os.Exit(1)
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig writes settings to configPath through a temporary file
// and a rename. Comments in the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// Cross-device temp dirs cannot be renamed over the target
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
