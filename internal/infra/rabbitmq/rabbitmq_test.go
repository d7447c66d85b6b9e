package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"go.uber.org/zap"
)

func testConfig(url string) ConsumerConfig {
	return ConsumerConfig{
		URL:         url,
		Queue:       "video.scoring",
		Exchange:    "fiapx.video",
		DLQ:         "video.scoring.dlq",
		StatusQueue: "video.status",
		Prefetch:    1,
		WorkerCount: 2,
	}
}

func setupBroker(t *testing.T) (string, *amqp.Connection) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return url, conn
}

func waitForMessage(t *testing.T, conn *amqp.Connection, queue string) amqp.Delivery {
	t.Helper()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		d, ok, err := ch.Get(queue, true)
		require.NoError(t, err)
		if ok {
			return d
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("no message on %s", queue)
	return amqp.Delivery{}
}

func publish(t *testing.T, conn *amqp.Connection, body string) {
	t.Helper()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.PublishWithContext(context.Background(), "fiapx.video", "video.scoring", false, false,
		amqp.Publishing{ContentType: "application/json", Body: []byte(body)}))
}

func TestConsumerAcksAndDeadLetters(t *testing.T) {
	url, conn := setupBroker(t)

	handled := make(chan string, 4)
	handler := func(_ context.Context, body []byte) error {
		handled <- string(body)
		if string(body) == "bad" {
			return errors.New("cannot score")
		}
		return nil
	}

	consumer, err := NewConsumer(testConfig(url), handler, zap.NewNop())
	require.NoError(t, err)
	defer consumer.Close()
	require.NoError(t, consumer.Healthy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Start(ctx)

	publish(t, conn, "good")
	publish(t, conn, "bad")

	d := waitForMessage(t, conn, "video.scoring.dlq")
	assert.Equal(t, "bad", string(d.Body))

	assert.ElementsMatch(t, []string{"good", "bad"}, []string{<-handled, <-handled})

	// Nothing is requeued: the failed message is handled once.
	select {
	case body := <-handled:
		t.Fatalf("unexpected redelivery of %q", body)
	case <-time.After(500 * time.Millisecond):
	}

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()
	q, err := ch.QueueDeclarePassive("video.scoring", true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": "video.scoring.dlq",
	})
	require.NoError(t, err)
	assert.Zero(t, q.Messages)
}

func TestPublishers(t *testing.T) {
	url, conn := setupBroker(t)

	ch, err := conn.Channel()
	require.NoError(t, err)
	require.NoError(t, DeclareTopology(ch, testConfig(url)))
	ch.Close()

	pub, err := NewPublisher(conn, "fiapx.video")
	require.NoError(t, err)
	defer pub.Close()

	ctx := context.Background()
	require.NoError(t, NewStatusPublisher(pub, "video.status").PublishStatus(ctx, []byte(`{"status":"COMPLETED"}`)))
	d := waitForMessage(t, conn, "video.status")
	assert.JSONEq(t, `{"status":"COMPLETED"}`, string(d.Body))
	assert.Equal(t, uint8(amqp.Persistent), d.DeliveryMode)

	require.NoError(t, NewDLQPublisher(pub, "video.scoring.dlq").PublishToDLQ(ctx, []byte(`{invalid`), "malformed"))
	d = waitForMessage(t, conn, "video.scoring.dlq")
	assert.Equal(t, `{invalid`, string(d.Body))
	assert.Equal(t, "malformed", d.Headers["x-dlq-reason"])
}
