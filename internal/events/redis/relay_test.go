package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/build-feed/internal/events"
	"github.com/narvanalabs/build-feed/internal/models"
)

func TestRelayRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping redis relay test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	relay, err := New(ctx, url, "build-feed:test", nil)
	require.NoError(t, err)
	defer relay.Close()

	broker := events.NewBroker(nil)
	sub := broker.SubscribeBuilds("test")

	go relay.Run(ctx, broker)

	env, err := models.NewEnvelope(models.KindBuildCreated, models.Build{ID: 77, Branch: "main"})
	require.NoError(t, err)

	// The subscription is confirmed asynchronously; publish until it lands.
	require.Eventually(t, func() bool {
		require.NoError(t, relay.Publish(ctx, env))
		select {
		case b := <-sub.Events():
			return b.ID == 77
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}
