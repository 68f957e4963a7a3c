package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// SubscribeOptions configures a record event consumer.
type SubscribeOptions struct {
	// Wallet filters to a single wallet's subject. Empty subscribes to all wallets.
	Wallet string
	// Durable names a consumer that survives restarts. Empty is ephemeral.
	Durable string
}

// Subscribe streams record events to handle until ctx is cancelled.
// Malformed payloads are logged and acknowledged so they are not redelivered.
func Subscribe(ctx context.Context, natsURL string, opts SubscribeOptions, logger *slog.Logger, handle func(*RecordEvent)) error {
	nc, err := nats.Connect(natsURL, nats.Name("walletwatch-subscriber"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := StreamSubjects
	if opts.Wallet != "" {
		subject = Subject(opts.Wallet)
	}

	cfg := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if opts.Durable != "" {
		cfg.Durable = opts.Durable
		cfg.Name = opts.Durable
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		var event RecordEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			logger.Warn("failed to decode record event", "subject", msg.Subject(), "error", err)
			_ = msg.Ack()
			return
		}
		handle(&event)
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	logger.Debug("subscribed to record events", "subject", subject, "durable", opts.Durable)
	<-ctx.Done()
	return nil
}
