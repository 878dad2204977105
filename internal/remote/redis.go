package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readCount = 16
	readBlock = 5 * time.Second
)

type Publisher interface {
	Publish(ctx context.Context, cmds ...Command) error
}

type Receiver interface {
	// Receive blocks for a short while and returns the commands that
	// arrived. An empty result is not an error.
	Receive(ctx context.Context) ([]Command, error)
	Ack(ctx context.Context, ids ...string) error
}

type RedisPublisher struct {
	client *redis.Client
	stream string
}

var _ Publisher = (*RedisPublisher)(nil)

func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream}
}

func (p *RedisPublisher) Publish(ctx context.Context, cmds ...Command) error {
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, cmd := range cmds {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: p.stream,
				Values: cmd.values(),
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish commands: %w", err)
	}
	return nil
}

// RedisReceiver reads the command stream as one consumer of a group.
type RedisReceiver struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string

	// backlogDone is set once entries delivered to this consumer before
	// a restart have been re-read.
	backlogDone bool
}

var _ Receiver = (*RedisReceiver)(nil)

func NewRedisReceiver(ctx context.Context, client *redis.Client, stream, group, consumer string) (*RedisReceiver, error) {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}

	return &RedisReceiver{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}, nil
}

func (r *RedisReceiver) Receive(ctx context.Context) ([]Command, error) {
	start := ">"
	if !r.backlogDone {
		start = "0"
	}

	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, start},
		Count:    readCount,
		Block:    readBlock,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read command stream: %w", err)
	}

	var (
		cmds []Command
		bad  []string
		read int
	)
	for _, stream := range streams {
		read += len(stream.Messages)
		for _, msg := range stream.Messages {
			cmd, err := commandFromValues(msg.ID, msg.Values)
			if err != nil {
				slog.Warn("dropping malformed command", "stream", r.stream, "error", err)
				bad = append(bad, msg.ID)
				continue
			}
			cmds = append(cmds, cmd)
		}
	}
	if start == "0" && read == 0 {
		r.backlogDone = true
	}

	if len(bad) > 0 {
		if err := r.Ack(ctx, bad...); err != nil {
			return nil, err
		}
	}
	return cmds, nil
}

func (r *RedisReceiver) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, r.stream, r.group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack commands: %w", err)
	}
	return nil
}
