package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), Event{Type: EmailSent, QueueItemID: 1}))
	require.NoError(t, r.Publish(context.Background(), Event{Type: EmailFailed, QueueItemID: 2}))

	got := r.Events()
	require.Len(t, got, 2)
	assert.Equal(t, EmailFailed, got[1].Type)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: EmailSent}))
	assert.NoError(t, p.Close())
}

func TestAMQPPublish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping RabbitMQ integration test in short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "rabbitmq:3-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)
	url := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())

	pub, err := NewAMQP(url, "outreach_events_test")
	require.NoError(t, err)
	defer pub.Close()

	campaign := uint(4)
	sent := Event{Type: EmailSent, QueueItemID: 9, AccountID: 2, CampaignID: &campaign, Recipient: "ada@example.com", OccurredAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, pub.Publish(ctx, sent))

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	var msg amqp.Delivery
	require.Eventually(t, func() bool {
		var ok bool
		msg, ok, err = ch.Get("outreach_events_test", true)
		return err == nil && ok
	}, 10*time.Second, 100*time.Millisecond)

	assert.Equal(t, EmailSent, msg.Type)
	var got Event
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, sent.QueueItemID, got.QueueItemID)
	assert.Equal(t, "ada@example.com", got.Recipient)
	require.NotNil(t, got.CampaignID)
	assert.Equal(t, campaign, *got.CampaignID)
}
