// Package notification pushes run outcomes and credential pool exhaustion
// to shoutrrr services.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/labeler"
	"github.com/tphakala/carnet-go/internal/logger"
	"github.com/tphakala/carnet-go/internal/trainer"
)

const defaultTimeout = 10 * time.Second

// Service fans notifications out to providers.
type Service struct {
	providers []Provider
	timeout   time.Duration
	log       logger.Logger
}

// NewService builds the shoutrrr provider from settings. A disabled
// section or an empty URL list gives a service that drops everything.
func NewService(settings *conf.NotifySettings) (*Service, error) {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if !settings.Enabled || len(settings.URLs) == 0 {
		return NewServiceWithProviders(timeout), nil
	}

	provider := NewShoutrrrProvider("shoutrrr", true, settings.URLs, nil, timeout)
	if err := provider.ValidateConfig(); err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("urls", len(settings.URLs)).
			Build()
	}
	return NewServiceWithProviders(timeout, provider), nil
}

// NewServiceWithProviders creates a service over the given providers.
func NewServiceWithProviders(timeout time.Duration, providers ...Provider) *Service {
	return &Service{providers: providers, timeout: timeout, log: GetLogger()}
}

// Enabled reports whether any provider can deliver.
func (s *Service) Enabled() bool {
	for _, p := range s.providers {
		if p.IsEnabled() {
			return true
		}
	}
	return false
}

// Notify sends n to every enabled provider supporting its type. Failures
// are logged and joined.
func (s *Service) Notify(ctx context.Context, n *Notification) error {
	var errs []error
	for _, p := range s.providers {
		if !p.IsEnabled() || !p.SupportsType(n.Type) {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := p.Send(sendCtx, n)
		cancel()
		if err != nil {
			s.log.Warn("notification failed",
				logger.String("provider", p.GetName()),
				logger.String("title", n.Title),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.GetName(), err))
			continue
		}
		s.log.Debug("notification sent", logger.String("provider", p.GetName()), logger.String("title", n.Title))
	}
	return errors.Join(errs...)
}

// OnEpoch implements trainer.Observer. Epochs are not pushed.
func (s *Service) OnEpoch(context.Context, trainer.EpochRecord) error { return nil }

// OnRunComplete implements trainer.Observer.
func (s *Service) OnRunComplete(ctx context.Context, summary trainer.RunSummary) error {
	if summary.Status == trainer.StatusFinished {
		return s.Notify(ctx, New(TypeInfo, "Training finished",
			fmt.Sprintf("Run %s finished after %d epochs in %s. Best loss %.6g, final test loss %.6g. Checkpoint %s.",
				summary.RunID, summary.Epochs, summary.Duration.Round(time.Second),
				summary.BestLoss, summary.FinalTestLoss, summary.CheckpointPath)))
	}

	reason := "unknown error"
	if summary.Err != nil {
		reason = summary.Err.Error()
	}
	return s.Notify(ctx, New(TypeError, "Training "+statusWord(summary.Status),
		fmt.Sprintf("Run %s stopped after %d epochs: %s", summary.RunID, summary.Epochs, reason)))
}

// OnLabelComplete implements labeler.Observer. Only pool exhaustion is
// pushed.
func (s *Service) OnLabelComplete(ctx context.Context, summary labeler.Summary) error {
	if !summary.Exhausted {
		return nil
	}
	return s.Notify(ctx, New(TypeWarning, "Credential pool exhausted",
		fmt.Sprintf("Labelling of %s stopped after %d files: every token reported quota exhaustion.",
			summary.Root, summary.Processed)))
}

// NotifyArtifactFailure reports a checkpoint upload that did not reach
// its target.
func (s *Service) NotifyArtifactFailure(ctx context.Context, target, path string, cause error) error {
	return s.Notify(ctx, New(TypeWarning, "Checkpoint upload failed",
		fmt.Sprintf("Uploading %s to %s failed: %v", path, target, cause)))
}

func statusWord(status string) string {
	if status == trainer.StatusKilled {
		return "cancelled"
	}
	return "failed"
}

var (
	_ trainer.Observer = (*Service)(nil)
	_ labeler.Observer = (*Service)(nil)
)
