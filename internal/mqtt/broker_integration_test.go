//go:build integration

package mqtt

import (
	"context"
	"fmt"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tphakala/carnet-go/internal/trainer"
)

func TestPublisherAgainstMosquitto(t *testing.T) {
	ctx := t.Context()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:1.6",
			ExposedPorts: []string{"1883/tcp"},
			WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "1883/tcp")
	require.NoError(t, err)
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())

	received := make(chan string, 1)
	subOpts := pahomqtt.NewClientOptions().AddBroker(broker).SetClientID("carnet-test-sub")
	sub := pahomqtt.NewClient(subOpts)
	require.True(t, sub.Connect().WaitTimeout(10*time.Second))
	t.Cleanup(func() { sub.Disconnect(100) })
	token := sub.Subscribe("it/train/epoch", 0, func(_ pahomqtt.Client, m pahomqtt.Message) {
		received <- string(m.Payload())
	})
	require.True(t, token.WaitTimeout(10*time.Second))
	require.NoError(t, token.Error())

	cfg := DefaultConfig()
	cfg.Broker = broker
	cfg.ClientID = "carnet-test-pub"
	c, err := NewClient(cfg)
	require.NoError(t, err)
	p := NewPublisher(c, "it")
	t.Cleanup(p.Close)

	require.NoError(t, p.OnEpoch(context.Background(), trainer.EpochRecord{RunID: "it-run", Epoch: 1}))

	select {
	case payload := <-received:
		require.Contains(t, payload, `"run_id":"it-run"`)
	case <-time.After(10 * time.Second):
		t.Fatal("no message received")
	}
}
