// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Accepted values for enumerated settings.
var (
	validLosses        = []string{"smoothl1", "huber", "mse", "crossentropy", "ce"}
	validOptimizers    = []string{"adam", "sgd"}
	validResetPolicies = []string{"reset", "preserve"}
	validModelTypes    = []string{"linear", "mlp"}
	validTargetTypes   = []string{"local", "sftp", "ftp"}
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateTrainSettings(&settings.Train); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateBaiduSettings(&settings.Baidu); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMQTTSettings(&settings.MQTT); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateArtifactSettings(&settings.Artifacts); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry: enabled without a DSN")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateTrainSettings(t *TrainSettings) error {
	var errs []error

	if t.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("image size must be positive, got %d", t.ImageSize))
	}
	if t.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", t.BatchSize))
	}
	if t.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("learning rate must be positive, got %g", t.LearningRate))
	}
	if t.DecayFactor <= 0 || t.DecayFactor > 1 {
		errs = append(errs, fmt.Errorf("decay factor must be in (0, 1], got %g", t.DecayFactor))
	}
	if t.Epochs < 0 {
		errs = append(errs, fmt.Errorf("epochs must not be negative, got %d", t.Epochs))
	}
	if t.DecayEpoch < 0 {
		errs = append(errs, fmt.Errorf("decay epoch must not be negative, got %d", t.DecayEpoch))
	}
	if t.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", t.Workers))
	}
	if t.Checkpoint == "" {
		errs = append(errs, errors.New("checkpoint path is required"))
	}
	if !slices.Contains(validLosses, strings.ToLower(t.Loss)) {
		errs = append(errs, fmt.Errorf("unknown loss %q, want one of %v", t.Loss, validLosses))
	}
	if !slices.Contains(validOptimizers, strings.ToLower(t.Optimizer)) {
		errs = append(errs, fmt.Errorf("unknown optimizer %q, want one of %v", t.Optimizer, validOptimizers))
	}
	if !slices.Contains(validResetPolicies, strings.ToLower(t.OptimizerReset)) {
		errs = append(errs, fmt.Errorf("unknown optimizer reset policy %q, want one of %v", t.OptimizerReset, validResetPolicies))
	}
	if !slices.Contains(validModelTypes, strings.ToLower(t.Model.Type)) {
		errs = append(errs, fmt.Errorf("unknown model type %q, want one of %v", t.Model.Type, validModelTypes))
	}
	if t.Model.Outputs <= 0 {
		errs = append(errs, fmt.Errorf("model outputs must be positive, got %d", t.Model.Outputs))
	}
	for _, h := range t.Model.Hidden {
		if h <= 0 {
			errs = append(errs, fmt.Errorf("hidden layer width must be positive, got %d", h))
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("train settings: %w", errors.Join(errs...))
	}
	return nil
}

func validateBaiduSettings(b *BaiduSettings) error {
	var errs []error

	if _, err := url.ParseRequestURI(b.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("invalid endpoint %q", b.Endpoint))
	}
	if b.TopNum <= 0 {
		errs = append(errs, fmt.Errorf("top_num must be positive, got %d", b.TopNum))
	}
	if b.Retries <= 0 {
		errs = append(errs, fmt.Errorf("retries must be at least 1, got %d", b.Retries))
	}
	if b.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %g", b.RateLimit))
	}
	if b.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", b.Timeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("baidu settings: %w", errors.Join(errs...))
	}
	return nil
}

func validateOutputSettings(o *OutputSettings) error {
	if o.SQLite.Enabled && o.MySQL.Enabled {
		return errors.New("output settings: sqlite and mysql are mutually exclusive")
	}
	if o.SQLite.Enabled && o.SQLite.Path == "" {
		return errors.New("output settings: sqlite path is required")
	}
	if o.MySQL.Enabled && (o.MySQL.Host == "" || o.MySQL.Database == "") {
		return errors.New("output settings: mysql host and database are required")
	}
	return nil
}

func validateMQTTSettings(m *MQTTSettings) error {
	if !m.Enabled {
		return nil
	}
	if m.Broker == "" {
		return errors.New("mqtt settings: broker is required")
	}
	if m.Topic == "" {
		return errors.New("mqtt settings: topic is required")
	}
	return nil
}

func validateArtifactSettings(a *ArtifactSettings) error {
	if !a.Enabled {
		return nil
	}
	var errs []error
	for i, t := range a.Targets {
		if !slices.Contains(validTargetTypes, strings.ToLower(t.Type)) {
			errs = append(errs, fmt.Errorf("target %d: unknown type %q", i, t.Type))
			continue
		}
		if t.Path == "" {
			errs = append(errs, fmt.Errorf("target %d: path is required", i))
		}
		if t.Type != "local" && t.Host == "" {
			errs = append(errs, fmt.Errorf("target %d: host is required for %s", i, t.Type))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("artifact settings: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateLabelSettings checks the settings the labelling agent needs on
// top of ValidateSettings. Training runs do not need Baidu credentials so
// this is only called by the label and token commands.
func ValidateLabelSettings(settings *Settings) error {
	b := &settings.Baidu
	if len(b.Tokens) == 0 && !b.HasClientCredentials() {
		return ValidationError{Errors: []string{"baidu settings: token pool is empty and no API key and secret are configured"}}
	}
	return nil
}

// HasClientCredentials reports whether an API key and secret are set.
func (b *BaiduSettings) HasClientCredentials() bool {
	return b.APIKey != "" && b.SecretKey != ""
}
