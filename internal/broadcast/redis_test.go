package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/glizzus/alfira/internal/broadcast"
	"github.com/glizzus/alfira/internal/playback"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	container, err := tcredis.Run(t.Context(), "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	uri, err := container.ConnectionString(t.Context())
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("failed to parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisSinkStoreAndSnapshot(t *testing.T) {
	client := newRedisClient(t)
	sink := broadcast.NewRedisSink(client)

	if _, err := sink.Snapshot(t.Context(), guildID); !errors.Is(err, broadcast.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot before any store, got %v", err)
	}

	want := sampleState("stored")
	if err := sink.Store(t.Context(), want); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	got, err := sink.Snapshot(t.Context(), guildID)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	ttl, err := client.TTL(t.Context(), "playback:state:"+guildID).Result()
	if err != nil {
		t.Fatalf("TTL returned error: %v", err)
	}
	if ttl <= 0 {
		t.Errorf("expected the snapshot to expire, got ttl %v", ttl)
	}
}

func TestRedisSinkRunPublishesLatest(t *testing.T) {
	client := newRedisClient(t)
	sink := broadcast.NewRedisSink(client)

	sub := client.Subscribe(t.Context(), broadcast.ChannelName(guildID))
	t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(t.Context()); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	sink.Broadcast(sampleState("one"))
	sink.Broadcast(sampleState("two"))

	// Coalescing may drop "one", but "two" is always delivered last.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-sub.Channel():
			var got playback.State
			if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
				t.Fatalf("failed to decode published snapshot: %v", err)
			}
			if got.CurrentTrack.Title == "two" {
				return
			}
			if got.CurrentTrack.Title != "one" {
				t.Fatalf("unexpected snapshot %q", got.CurrentTrack.Title)
			}
		case <-timeout:
			t.Fatal("timed out waiting for the latest snapshot")
		}
	}
}

func TestRedisSinkFlushesOnShutdown(t *testing.T) {
	client := newRedisClient(t)
	sink := broadcast.NewRedisSink(client)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	sink.Broadcast(sampleState("last words"))
	sink.Run(ctx)

	got, err := sink.Snapshot(t.Context(), guildID)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if got.CurrentTrack.Title != "last words" {
		t.Errorf("expected the pending snapshot to be flushed, got %q", got.CurrentTrack.Title)
	}
}
