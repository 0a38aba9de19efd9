package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PerpKeeper/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	updatesStream        = "PERP_UPDATES"
	updatesSubjectPrefix = "perp.updates"
	updatesMaxAge        = 1 * time.Hour
)

// NATSBroadcaster publishes fan-out messages to a JetStream stream so
// every process instance and every presentation node sees the same feed.
type NATSBroadcaster struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	log     zerolog.Logger
	metrics *observability.Metrics
}

// ConnectNATS dials the broker, ensures the updates stream exists and
// returns a broadcaster over it.
func ConnectNATS(ctx context.Context, url string, log zerolog.Logger, metrics *observability.Metrics) (*NATSBroadcaster, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      updatesStream,
		Subjects:  []string{updatesSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    updatesMaxAge,
		Replicas:  1,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("create updates stream: %w", err)
	}

	return &NATSBroadcaster{nc: nc, js: js, log: log, metrics: metrics}, nil
}

// Publish sends msg to perp.updates.{kind}.{scope}.
func (b *NATSBroadcaster) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", updatesSubjectPrefix, msg.Kind)
	if scope := msg.Scope(); scope != "" {
		subject = fmt.Sprintf("%s.%s", subject, scope)
	}

	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		if b.metrics != nil {
			b.metrics.BroadcastErrors.WithLabelValues(string(msg.Kind)).Inc()
		}
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if b.metrics != nil {
		b.metrics.BroadcastPublished.WithLabelValues(string(msg.Kind)).Inc()
	}
	return nil
}

// Subscribe consumes one kind's subject subtree with an ephemeral consumer.
func (b *NATSBroadcaster) Subscribe(ctx context.Context, kind Kind) (<-chan Message, error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, updatesStream, jetstream.ConsumerConfig{
		FilterSubject: fmt.Sprintf("%s.%s.>", updatesSubjectPrefix, kind),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", kind, err)
	}

	out := make(chan Message, 64)
	cc, err := consumer.Consume(func(natsMsg jetstream.Msg) {
		var msg Message
		if err := json.Unmarshal(natsMsg.Data(), &msg); err != nil {
			b.log.Warn().Err(err).Str("subject", natsMsg.Subject()).Msg("undecodable fan-out message")
			return
		}
		select {
		case out <- msg:
		default:
			// Slow subscriber: drop rather than stall the consumer.
		}
	})
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", kind, err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
		// Stop is asynchronous; a delivery callback may still be sending
		// on out. Close only after the consumer reports fully stopped.
		<-cc.Closed()
		close(out)
	}()

	return out, nil
}

// Close drains the connection.
func (b *NATSBroadcaster) Close() error {
	b.nc.Close()
	return nil
}
