package pushchannel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chaichat/pkg/protocol"
)

// Cursor identifies a frame by its position in the receive order of one connection.
type Cursor struct {
	Seq uint64
}

// Stats counts frames seen by a dispatcher.
type Stats struct {
	Received   uint64
	Dispatched uint64
	Dropped    uint64
}

// dispatcher owns the subscriber that feeds raw frames, decodes them and invokes the
// callback in receive order. The publisher side blocks until the callback returns,
// so frame N+1 is never handled before frame N is finished.
type dispatcher struct {
	topic   string
	pubsub  *gochannel.GoChannel
	onEvent func(protocol.InboundEvent, Cursor)
	logger  zerolog.Logger

	seq        atomic.Uint64
	received   atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64

	done     chan struct{}
	doneOnce sync.Once
}

func topicForSession(sessionID string) string { return "push:" + sessionID }

func newDispatcher(sessionID string, logger zerolog.Logger, onEvent func(protocol.InboundEvent, Cursor)) *dispatcher {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            0,
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger(logger.With().Str("subsystem", "watermill").Logger()))
	return &dispatcher{
		topic:   topicForSession(sessionID),
		pubsub:  pubsub,
		onEvent: onEvent,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// start subscribes before returning; frames published afterwards are never lost.
func (d *dispatcher) start(ctx context.Context) error {
	ch, err := d.pubsub.Subscribe(ctx, d.topic)
	if err != nil {
		d.finish()
		return errors.Wrap(err, "subscribe to push topic")
	}
	go d.consume(ch)
	return nil
}

func (d *dispatcher) consume(ch <-chan *message.Message) {
	defer d.finish()
	for msg := range ch {
		d.handle(msg.Payload)
		msg.Ack()
	}
	d.logger.Debug().Msg("dispatcher stopped")
}

func (d *dispatcher) handle(frame []byte) {
	cur := Cursor{Seq: d.seq.Add(1)}
	ev, err := protocol.DecodeInbound(frame)
	if err != nil {
		d.dropped.Add(1)
		d.logger.Warn().Err(err).Uint64("seq", cur.Seq).Int("bytes", len(frame)).Msg("dropping inbound frame")
		return
	}
	if d.onEvent != nil {
		d.onEvent(ev, cur)
	}
	d.dispatched.Add(1)
}

// publish hands one raw frame to the subscriber and waits until it was handled
// (or the dispatcher was closed).
func (d *dispatcher) publish(frame []byte) error {
	d.received.Add(1)
	msg := message.NewMessage(watermill.NewUUID(), frame)
	return d.pubsub.Publish(d.topic, msg)
}

func (d *dispatcher) close() error {
	return d.pubsub.Close()
}

// finish marks the dispatcher as stopped. It is also called for a dispatcher that
// was never started.
func (d *dispatcher) finish() {
	d.doneOnce.Do(func() { close(d.done) })
}

// wait blocks until the frame being handled, if any, is finished.
func (d *dispatcher) wait() {
	<-d.done
}

func (d *dispatcher) stats() Stats {
	return Stats{
		Received:   d.received.Load(),
		Dispatched: d.dispatched.Load(),
		Dropped:    d.dropped.Load(),
	}
}
