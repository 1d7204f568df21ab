package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/selection"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/fjod/go_cart/storefront/internal/totals"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap/zaptest"
)

func setupKafka(t *testing.T) (string, func()) {
	if testing.Short() {
		t.Skip("skipping Kafka container test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func writeEvents(t *testing.T, brokerAddr string, events ...IdentityEvent) {
	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(brokerAddr),
		Topic:                  IdentityTopic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	msgs := make([]kafkaGo.Message, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e)
		require.NoError(t, err)
		msgs = append(msgs, kafkaGo.Message{
			Key:   []byte(e.AccountID),
			Value: payload,
			Headers: []kafkaGo.Header{
				{Key: "event_type", Value: []byte(e.Type)},
			},
		})
	}
	require.NoError(t, w.WriteMessages(context.Background(), msgs...))
}

func TestConsumer_RedeliveredLoginMergesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()
	createTopic(t, brokerAddr, IdentityTopic)

	local := repository.NewMemorySessionBackend()
	remote := repository.NewMemoryAccountBackend()
	carts := service.NewCartService(local, remote,
		totals.NewCalculator(decimal.RequireFromString("0.05")), selection.NewEngine())
	merges := service.NewMergeService(carts)

	anon := domain.SessionOwner("sess-it")
	_, err := carts.AddItem(ctx, anon, domain.Product{ID: "mug", Name: "Mug", Price: decimal.NewFromInt(12)}, 2, "")
	require.NoError(t, err)

	login := IdentityEvent{Type: EventLogin, AccountID: "acct-it", SessionID: "sess-it", OccurredAt: time.Now()}
	writeEvents(t, brokerAddr, login, login)

	c := NewConsumer(merges, zaptest.NewLogger(t), brokerAddr)
	defer c.Close()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		cart, err := remote.Load(ctx, domain.AccountOwner("acct-it"))
		return err == nil && len(cart.Items) == 1 && cart.Items[0].Quantity == 2
	}, 20*time.Second, 500*time.Millisecond)

	// give the duplicate time to be consumed, then check nothing doubled
	time.Sleep(2 * time.Second)
	cart, err := remote.Load(ctx, domain.AccountOwner("acct-it"))
	require.NoError(t, err)
	require.Equal(t, 2, cart.Items[0].Quantity)
}
