// Package services builds the optional outputs shared by the train and
// label commands: the metrics endpoint, the record datastore, the MQTT
// publisher, push notifications and checkpoint uploads.
package services

import (
	"context"

	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/artifact"
	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/datastore"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/labeler"
	"github.com/tphakala/carnet-go/internal/logger"
	"github.com/tphakala/carnet-go/internal/mqtt"
	"github.com/tphakala/carnet-go/internal/notification"
	"github.com/tphakala/carnet-go/internal/observability"
	"github.com/tphakala/carnet-go/internal/trainer"
)

// GetLogger returns the services module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("services")
}

// Services holds the outputs enabled in settings. Disabled outputs are nil.
type Services struct {
	Metrics   *observability.Metrics
	Endpoint  *observability.Endpoint
	Store     datastore.Interface
	Publisher *mqtt.Publisher
	Notifier  *notification.Service
	Uploader  *artifact.Uploader

	log logger.Logger
}

// Open builds and starts every enabled output. A misconfigured output is
// an error; an unreachable MQTT broker is not, since publishing connects
// lazily.
func Open(settings *conf.Settings) (*Services, error) {
	s := &Services{log: GetLogger()}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, serviceError(err, "metrics").Build()
	}
	s.Metrics = m

	if settings.Metrics.Enabled {
		ep, err := observability.NewEndpoint(settings, m)
		if err != nil {
			return nil, serviceError(err, "metrics_endpoint").Build()
		}
		if err := ep.Start(); err != nil {
			return nil, serviceError(err, "metrics_endpoint").Category(errors.CategoryNetwork).Build()
		}
		s.Endpoint = ep
	}

	if store := datastore.New(settings); store != nil {
		if err := store.Open(); err != nil {
			s.Close(context.Background())
			return nil, err
		}
		s.Store = store
	}

	notifier, err := notification.NewService(&settings.Notify)
	if err != nil {
		s.Close(context.Background())
		return nil, err
	}
	s.Notifier = notifier

	uploader, err := artifact.NewUploader(&settings.Artifacts, afero.NewOsFs(), artifact.WithNotifier(notifier))
	if err != nil {
		s.Close(context.Background())
		return nil, err
	}
	s.Uploader = uploader

	if settings.MQTT.Enabled {
		cfg := mqtt.ConfigFromSettings(&settings.MQTT)
		client, err := mqtt.NewClient(cfg)
		if err != nil {
			s.Close(context.Background())
			return nil, err
		}
		s.Publisher = mqtt.NewPublisher(client, cfg.Topic)
	}

	s.log.Debug("services ready",
		logger.Bool("metrics_endpoint", s.Endpoint != nil),
		logger.Bool("datastore", s.Store != nil),
		logger.Bool("mqtt", s.Publisher != nil),
		logger.Bool("notifications", s.Notifier.Enabled()),
		logger.Int("artifact_targets", len(s.Uploader.Targets())))
	return s, nil
}

func serviceError(err error, service string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("services").
		Category(errors.CategoryConfiguration).
		Context("service", service)
}

// TrainingObservers returns the trainer observers of every enabled output.
// Uploads run before notifications so a failed upload is reported next to
// the run result.
func (s *Services) TrainingObservers() []trainer.Observer {
	obs := []trainer.Observer{s.Metrics.Training}
	if s.Store != nil {
		obs = append(obs, datastore.NewRunRecorder(s.Store))
	}
	if s.Publisher != nil {
		obs = append(obs, s.Publisher)
	}
	if len(s.Uploader.Targets()) > 0 {
		obs = append(obs, s.Uploader)
	}
	if s.Notifier.Enabled() {
		obs = append(obs, s.Notifier)
	}
	return obs
}

// LabelObservers returns the labeler observers of every enabled output.
func (s *Services) LabelObservers() []labeler.Observer {
	obs := []labeler.Observer{s.Metrics.Labeling}
	if s.Publisher != nil {
		obs = append(obs, s.Publisher)
	}
	if s.Notifier.Enabled() {
		obs = append(obs, s.Notifier)
	}
	return obs
}

// RecordStore returns the label record store, or nil when no datastore is
// enabled.
func (s *Services) RecordStore() labeler.RecordStore {
	if s.Store == nil {
		return nil
	}
	return s.Store
}

// Close stops every output. Errors are logged.
func (s *Services) Close(ctx context.Context) {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Endpoint != nil {
		if err := s.Endpoint.Shutdown(ctx); err != nil {
			s.log.Warn("failed to stop metrics endpoint", logger.Error(err))
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.log.Warn("failed to close datastore", logger.Error(err))
		}
	}
}
