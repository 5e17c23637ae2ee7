package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/labeler"
	"github.com/tphakala/carnet-go/internal/trainer"
)

type message struct {
	topic   string
	payload string
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	connects   int
	messages   []message
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, message{topic, payload})
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func TestPublisherTopics(t *testing.T) {
	fc := &fakeClient{}
	p := NewPublisher(fc, "lab/carnet/")
	ctx := t.Context()

	require.NoError(t, p.OnEpoch(ctx, trainer.EpochRecord{RunID: "r1", Epoch: 3, TestLoss: 0.25}))
	require.NoError(t, p.OnRunComplete(ctx, trainer.RunSummary{
		RunID:    "r1",
		Status:   trainer.StatusFailed,
		Epochs:   3,
		Duration: 90 * time.Second,
		Err:      errors.NewStd("out of memory"),
	}))
	require.NoError(t, p.OnLabelComplete(ctx, labeler.Summary{RunID: "l1", Root: "/data", Labeled: 4, Exhausted: true}))

	require.Len(t, fc.messages, 3)
	assert.Equal(t, 1, fc.connects, "connects once, then reuses the connection")
	assert.Equal(t, "lab/carnet/train/epoch", fc.messages[0].topic)
	assert.Equal(t, "lab/carnet/train/complete", fc.messages[1].topic)
	assert.Equal(t, "lab/carnet/label/summary", fc.messages[2].topic)

	var epoch map[string]any
	require.NoError(t, json.Unmarshal([]byte(fc.messages[0].payload), &epoch))
	assert.Equal(t, "r1", epoch["run_id"])
	assert.InDelta(t, 3, epoch["epoch"], 0)
	assert.InDelta(t, 0.25, epoch["test_loss"], 1e-12)

	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(fc.messages[1].payload), &done))
	assert.Equal(t, "FAILED", done["status"])
	assert.Equal(t, "out of memory", done["error"])
	assert.InDelta(t, 90, done["duration_seconds"], 1e-9)

	var label map[string]any
	require.NoError(t, json.Unmarshal([]byte(fc.messages[2].payload), &label))
	assert.Equal(t, true, label["exhausted"])
	assert.InDelta(t, 4, label["labeled"], 0)
	assert.NotContains(t, label, "error")
}

func TestPublisherSwallowsFailures(t *testing.T) {
	fc := &fakeClient{connectErr: errors.NewStd("broker down")}
	p := NewPublisher(fc, "carnet")

	assert.NoError(t, p.OnEpoch(t.Context(), trainer.EpochRecord{Epoch: 1}))
	assert.Empty(t, fc.messages)

	fc.connectErr = nil
	fc.publishErr = errors.NewStd("publish failed")
	assert.NoError(t, p.OnRunComplete(t.Context(), trainer.RunSummary{}))
	assert.Equal(t, 2, fc.connects)

	p.Close()
	assert.False(t, fc.IsConnected())
}

func TestTopicWithoutPrefix(t *testing.T) {
	p := NewPublisher(&fakeClient{}, "")
	assert.Equal(t, "train/epoch", p.Topic(TopicEpoch))
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(&conf.MQTTSettings{Broker: "tcp://broker:1883", Timeout: 3 * time.Second})
	assert.Equal(t, "carnet", cfg.ClientID)
	assert.Equal(t, "carnet", cfg.Topic)
	assert.Equal(t, 3*time.Second, cfg.PublishTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)

	cfg = ConfigFromSettings(&conf.MQTTSettings{Broker: "tcp://broker:1883", ClientID: "trainer-1", Topic: "garage"})
	assert.Equal(t, "trainer-1", cfg.ClientID)
	assert.Equal(t, "garage", cfg.Topic)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	c, err := NewClient(DefaultConfig())
	assert.Nil(t, c)
	require.Error(t, err)
}

func TestClientPublishWhileDisconnected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	c, err := NewClient(cfg)
	require.NoError(t, err)

	assert.False(t, c.IsConnected())
	err = c.Publish(t.Context(), "carnet/train/epoch", "{}")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	c.Disconnect()
}
