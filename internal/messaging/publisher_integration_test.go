//go:build integration

package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/docker/docker/client"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"go.uber.org/zap"

	"improv-server/internal/messaging"
	"improv-server/internal/monitor"
)

func TestRabbitMQSummaryPublisher(t *testing.T) {
	ctx := context.Background()
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	defer cli.Close()
	if _, err := cli.Ping(ctx); err != nil {
		t.Skipf("docker daemon unavailable: %v", err)
	}

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)
	conn, err := messaging.Connect(ctx, url, 5, time.Second, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	pub, err := messaging.NewRabbitMQSummaryPublisher(conn, "improv.test", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	ch, err := conn.Channel()
	require.NoError(t, err)
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "", "improv.test", false, nil))
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	require.NoError(t, pub.PublishSceneFinished(ctx, messaging.SceneFinishedPayload{
		SceneID:    "scene-1",
		Status:     "ended",
		Reason:     "line_limit",
		TotalLines: 12,
		Summary:    &monitor.SessionSummary{SceneID: "scene-1", TotalLines: 12},
	}))

	select {
	case d := <-deliveries:
		assert.Equal(t, "application/json", d.ContentType)
		assert.Equal(t, amqp091.Persistent, d.DeliveryMode)
		var got messaging.SceneFinishedPayload
		require.NoError(t, json.Unmarshal(d.Body, &got))
		assert.Equal(t, messaging.SceneFinishedEvent, got.Event)
		assert.Equal(t, "scene-1", got.SceneID)
		require.NotNil(t, got.Summary)
		assert.Equal(t, 12, got.Summary.TotalLines)
	case <-time.After(10 * time.Second):
		t.Fatal("no delivery")
	}
}
