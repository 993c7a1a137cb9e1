// Package oracle consumes collateral price updates from NATS JetStream and
// serves the latest price per collateral type to the engine, with staleness
// tracking.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
	"github.com/Angleito/nyxusd-sub000/internal/observability"
)

const (
	// PriceStream holds collateral price updates.
	PriceStream = "NYX_PRICES"

	// PriceSubjects is the wildcard: nyx.prices.{collateral_type}.
	PriceSubjects = "nyx.prices.>"

	consumerName = "cdp-engine-prices"
)

// PriceUpdate is the wire format of one oracle tick. Price is a base-10
// integer string at 18-decimal scale.
type PriceUpdate struct {
	CollateralType string `json:"collateral_type"`
	Price          string `json:"price"`
	TimestampMs    int64  `json:"timestamp_ms"`
}

// quote is the latest accepted price for one collateral type.
type quote struct {
	price cdp.Amount
	at    cdp.Timestamp
}

// PriceBoard holds the latest price per collateral type. Reads never block
// on the feed; a missing or stale entry is reported to the caller.
type PriceBoard struct {
	mu       sync.RWMutex
	quotes   map[string]quote
	maxAge   time.Duration
	consumer jetstream.ConsumeContext
	metrics  *observability.Metrics
	log      zerolog.Logger
}

// NewPriceBoard creates a board whose entries expire after maxAge.
func NewPriceBoard(maxAge time.Duration, metrics *observability.Metrics, log zerolog.Logger) *PriceBoard {
	return &PriceBoard{
		quotes:  make(map[string]quote),
		maxAge:  maxAge,
		metrics: metrics,
		log:     log,
	}
}

// Price returns the latest fresh price for a collateral type. The second
// return is false when no price exists or the latest one is older than the
// staleness bound.
func (b *PriceBoard) Price(collateralType string, now time.Time) (cdp.Amount, bool) {
	b.mu.RLock()
	q, ok := b.quotes[collateralType]
	b.mu.RUnlock()
	if !ok {
		return cdp.Amount{}, false
	}
	age := now.Sub(q.at.Time())
	if b.metrics != nil {
		b.metrics.PriceStaleness.WithLabelValues(collateralType).Set(age.Seconds())
	}
	if age > b.maxAge {
		return cdp.Amount{}, false
	}
	return q.price, true
}

// Apply records a price update. Updates older than the current quote are
// dropped so a redelivered message cannot roll the price back.
func (b *PriceBoard) Apply(update PriceUpdate) error {
	price, err := cdp.NewAmountFromString(update.Price)
	if err != nil {
		return fmt.Errorf("price for %s: %w", update.CollateralType, err)
	}
	if update.CollateralType == "" {
		return fmt.Errorf("price update missing collateral type")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.quotes[update.CollateralType]
	if ok && cdp.Timestamp(update.TimestampMs).Before(current.at) {
		return nil
	}
	b.quotes[update.CollateralType] = quote{price: price, at: cdp.Timestamp(update.TimestampMs)}
	if b.metrics != nil {
		b.metrics.PriceUpdates.WithLabelValues(update.CollateralType).Inc()
	}
	return nil
}

// Subscribe creates a durable JetStream consumer on the price stream and
// feeds every tick into the board. Malformed messages are acked and counted;
// redelivering them cannot help.
func (b *PriceBoard) Subscribe(ctx context.Context, js jetstream.JetStream) error {
	consumer, err := js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: PriceSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var update PriceUpdate
		if err := json.Unmarshal(msg.Data(), &update); err != nil {
			if b.metrics != nil {
				b.metrics.OracleParseErrors.Inc()
			}
			b.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed price update")
			msg.Ack()
			return
		}
		if err := b.Apply(update); err != nil {
			if b.metrics != nil {
				b.metrics.OracleParseErrors.Inc()
			}
			b.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("rejected price update")
			msg.Ack()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}

	b.consumer = cc
	b.log.Info().Str("subject", PriceSubjects).Str("consumer", consumerName).Msg("subscribed to price feed")
	return nil
}

// Stop gracefully stops the feed consumer.
func (b *PriceBoard) Stop() {
	if b.consumer != nil {
		b.consumer.Stop()
	}
}

// EnsureStreams creates the JetStream streams the engine depends on.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PriceStream,
			Subjects:  []string{PriceSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      EventStream,
			Subjects:  []string{EventSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
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
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
