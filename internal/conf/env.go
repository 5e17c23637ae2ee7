// env.go - environment variable overrides for carnet
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is prepended to every environment variable carnet reads.
const envPrefix = "CARNET_"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Credentials
		{"baidu.apikey", envPrefix + "BAIDU_APIKEY", nil},
		{"baidu.secretkey", envPrefix + "BAIDU_SECRETKEY", nil},
		{"baidu.tokens", envPrefix + "BAIDU_TOKENS", nil},
		{"output.mysql.password", envPrefix + "MYSQL_PASSWORD", nil},
		{"mqtt.password", envPrefix + "MQTT_PASSWORD", nil},
		{"sentry.dsn", envPrefix + "SENTRY_DSN", validateEnvURL},

		// Training
		{"train.trainpath", envPrefix + "TRAIN_PATH", nil},
		{"train.testpath", envPrefix + "TEST_PATH", nil},
		{"train.checkpoint", envPrefix + "CHECKPOINT", nil},
		{"train.batchsize", envPrefix + "BATCH_SIZE", validateEnvPositiveInt},
		{"train.workers", envPrefix + "WORKERS", validateEnvNonNegativeInt},
		{"train.retrain", envPrefix + "RETRAIN", validateEnvBool},

		{"debug", envPrefix + "DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				// Values are not echoed back, several of these are secrets
				warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
			}
		}
	}

	// Comma separated token pools arrive as a single string
	if raw := os.Getenv(envPrefix + "BAIDU_TOKENS"); raw != "" {
		viper.Set("baidu.tokens", splitList(raw))
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

// splitList splits a comma separated list and drops empty entries.
func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}
