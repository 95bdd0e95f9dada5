package ingestion

import (
	"context"
	"fmt"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/instruction"
	"BetLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// InstructionStream carries signed instruction envelopes awaiting
	// execution. A single subject keeps the global total order trivial.
	InstructionStream   = "BET_LEDGER_INSTRUCTIONS"
	InstructionSubject  = "bet.ledger.instructions"
	instructionConsumer = "bet-ledger-ingest"

	// EventStream carries processed events for downstream consumers.
	EventStream        = "BET_LEDGER_EVENTS"
	EventSubjectPrefix = "bet.ledger.events"
)

// RawInstruction is an envelope pulled off NATS, ready for the shell to
// verify and hand to the core.
type RawInstruction struct {
	Subject  string
	Data     []byte
	Received time.Time
	Ack      func()
	Nak      func()
}

// Subscriber pulls instruction envelopes from JetStream into a channel.
type Subscriber struct {
	js        jetstream.JetStream
	inputChan chan<- RawInstruction
	consumer  jetstream.ConsumeContext
	log       zerolog.Logger
}

func NewSubscriber(js jetstream.JetStream, inputChan chan<- RawInstruction, log zerolog.Logger) *Subscriber {
	return &Subscriber{js: js, inputChan: inputChan, log: log}
}

// Subscribe creates the durable consumer and starts delivery. Explicit ACK
// with redelivery keeps instructions alive across restarts; the signature
// dedup in the core absorbs any redelivered duplicates.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, InstructionStream, jetstream.ConsumerConfig{
		Durable:       instructionConsumer,
		FilterSubject: InstructionSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", instructionConsumer, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawInstruction{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: time.Now(),
			Ack:      func() { msg.Ack() },
			Nak:      func() { msg.Nak() },
		}

		select {
		case s.inputChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", instructionConsumer, err)
	}

	s.consumer = consumeCtx
	s.log.Info().Str("subject", InstructionSubject).Str("consumer", instructionConsumer).Msg("subscribed")
	return nil
}

// Stop gracefully stops delivery.
func (s *Subscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
}

// Worker drains raw instructions, verifies signatures, and executes against
// the core. Verification failures and domain rejections are final, so both
// are ACKed; only a failed channel handoff is NAKed for redelivery.
type Worker struct {
	engine    *core.Engine
	inputChan <-chan RawInstruction
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewWorker(engine *core.Engine, inputChan <-chan RawInstruction, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{engine: engine, inputChan: inputChan, metrics: metrics, log: log}
}

// Run processes instructions until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-w.inputChan:
			if !ok {
				return nil
			}
			w.process(raw)
		}
	}
}

func (w *Worker) process(raw RawInstruction) {
	if w.metrics != nil {
		w.metrics.NATSPullLatency.WithLabelValues(raw.Subject).Observe(time.Since(raw.Received).Seconds())
	}

	signed, err := instruction.Parse(raw.Data)
	if err != nil {
		// Malformed or forged envelopes never become valid on redelivery.
		w.log.Warn().Err(err).Msg("dropping unparseable instruction")
		raw.Ack()
		return
	}

	result, err := w.engine.Execute(signed)
	if err != nil {
		w.log.Debug().
			Err(err).
			Str("instruction", string(signed.Body.Kind())).
			Str("signer", signed.Signer.String()).
			Msg("instruction rejected")
		raw.Ack()
		return
	}

	if result.Duplicate {
		w.log.Debug().Str("signature", signed.Signature.String()).Msg("duplicate instruction acked")
	}
	raw.Ack()
}

// EnsureStreams creates the instruction and event streams if absent.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      InstructionStream,
			Subjects:  []string{InstructionSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      EventStream,
			Subjects:  []string{EventSubjectPrefix + ".>"},
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

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
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
