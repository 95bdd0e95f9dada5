package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"BetLedger/internal/core"
	"BetLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher forwards processed events to NATS for downstream consumers.
// Subjects follow bet.ledger.events.{event_type}.{bet_id}, with registry
// events published under bet.ledger.events.{event_type}.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// PublishedEvent is the outbound wire format.
type PublishedEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"eventType"`
	IdempotencyKey string          `json:"idempotencyKey"`
	BetID          *uint64         `json:"betId,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"stateHash"`
	PrevHash       string          `json:"prevHash"`
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, inputChan: inputChan, metrics: metrics, log: log}
}

// Run publishes until ctx is cancelled or the channel closes. Publish
// failures are non-fatal: consumers can always catch up from the event log.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, output); err != nil {
				if p.metrics != nil {
					p.metrics.PublishDrops.Inc()
				}
				p.log.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// EncodeEvent marshals a processed output into the outbound wire format.
// The websocket feed and the NATS event stream share this encoding.
func EncodeEvent(output core.CoreOutput) ([]byte, error) {
	env := output.Envelope

	out := PublishedEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		BetID:          env.BetID,
		Timestamp:      env.Timestamp,
		Payload:        env.Payload,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
	}

	return json.Marshal(out)
}

func (p *Publisher) publish(ctx context.Context, output core.CoreOutput) error {
	env := output.Envelope

	data, err := EncodeEvent(output)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", EventSubjectPrefix, env.EventType.Subject())
	if env.BetID != nil {
		subject = fmt.Sprintf("%s.%d", subject, *env.BetID)
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}
