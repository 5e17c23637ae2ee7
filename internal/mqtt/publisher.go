package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tphakala/carnet-go/internal/labeler"
	"github.com/tphakala/carnet-go/internal/logger"
	"github.com/tphakala/carnet-go/internal/trainer"
)

// Topic suffixes under the configured prefix.
const (
	TopicEpoch        = "train/epoch"
	TopicRunComplete  = "train/complete"
	TopicLabelSummary = "label/summary"
)

// Publisher forwards trainer and labeler events to the broker. Publish
// failures are logged and never reported to the caller.
type Publisher struct {
	client Client
	prefix string
	log    logger.Logger
}

// NewPublisher creates a publisher writing under prefix.
func NewPublisher(client Client, prefix string) *Publisher {
	return &Publisher{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    GetLogger(),
	}
}

// Topic returns the full topic for a suffix.
func (p *Publisher) Topic(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "/" + suffix
}

type runCompletePayload struct {
	trainer.RunSummary
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}

type labelSummaryPayload struct {
	labeler.Summary
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}

// OnEpoch implements trainer.Observer.
func (p *Publisher) OnEpoch(ctx context.Context, rec trainer.EpochRecord) error {
	p.publish(ctx, TopicEpoch, rec)
	return nil
}

// OnRunComplete implements trainer.Observer.
func (p *Publisher) OnRunComplete(ctx context.Context, summary trainer.RunSummary) error {
	payload := runCompletePayload{RunSummary: summary, DurationSeconds: summary.Duration.Seconds()}
	if summary.Err != nil {
		payload.Error = summary.Err.Error()
	}
	p.publish(ctx, TopicRunComplete, payload)
	return nil
}

// OnLabelComplete implements labeler.Observer.
func (p *Publisher) OnLabelComplete(ctx context.Context, summary labeler.Summary) error {
	payload := labelSummaryPayload{Summary: summary, DurationSeconds: summary.Duration.Seconds()}
	if summary.Err != nil {
		payload.Error = summary.Err.Error()
	}
	p.publish(ctx, TopicLabelSummary, payload)
	return nil
}

func (p *Publisher) publish(ctx context.Context, suffix string, v any) {
	topic := p.Topic(suffix)
	data, err := json.Marshal(v)
	if err != nil {
		p.log.Error("failed to encode payload", logger.String("topic", topic), logger.Error(err))
		return
	}
	if !p.client.IsConnected() {
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := p.client.Connect(connectCtx)
		cancel()
		if err != nil {
			p.log.Warn("mqtt connect failed, dropping message", logger.String("topic", topic), logger.Error(err))
			return
		}
	}
	if err := p.client.Publish(ctx, topic, string(data)); err != nil {
		p.log.Warn("mqtt publish failed", logger.String("topic", topic), logger.Error(err))
	}
}

// Close disconnects the client.
func (p *Publisher) Close() {
	p.client.Disconnect()
}

var (
	_ trainer.Observer = (*Publisher)(nil)
	_ labeler.Observer = (*Publisher)(nil)
)
