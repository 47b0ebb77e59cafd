package stubbackend

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chaichat/pkg/pushchannel"
)

const (
	pushTopic        = "chaichat.push"
	metaSessionID    = "session_id"
	memoryBusBufSize = 64
)

// Bus carries pushed frames between stub instances. The instance that holds a
// session's connection delivers the frame; the others ignore it.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []func() error
}

func (b *Bus) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewMemoryBus is a single-process bus.
func NewMemoryBus(logger zerolog.Logger) *Bus {
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: memoryBusBufSize}, pushchannel.NewWatermillLogger(logger))
	return &Bus{Publisher: ps, Subscriber: ps, closers: []func() error{ps.Close}}
}

// NewRedisBus fans frames out over a Redis stream. No consumer group is used, so
// every stub instance sees every frame.
func NewRedisBus(s RedisSettings, logger zerolog.Logger) (*Bus, error) {
	if s.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	wlog := pushchannel.NewWatermillLogger(logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wlog)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:       client,
		Unmarshaller: marshaler,
	}, wlog)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis subscriber")
	}
	return &Bus{
		Publisher:  pub,
		Subscriber: sub,
		closers:    []func() error{sub.Close, pub.Close, client.Close},
	}, nil
}

// Ping checks that the Redis server behind addr answers.
func Ping(ctx context.Context, addr string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	return errors.Wrapf(client.Ping(ctx).Err(), "ping redis at %s", addr)
}
