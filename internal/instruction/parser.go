package instruction

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
)

// ErrBadSignature rejects an envelope whose signature does not verify
// against the declared signer.
var ErrBadSignature = errors.New("signature verification failed")

// Envelope is the JSON wire format for instruction submission. The signature
// is ed25519 over SigningBytes, so the payload bytes the client signs are the
// exact bytes submitted. The nonce makes repeat submissions of the same body
// distinct; resubmitting the identical envelope deduplicates by signature.
type Envelope struct {
	Type      Kind             `json:"type"`
	Signer    solana.PublicKey `json:"signer"`
	Nonce     uint64           `json:"nonce"`
	Signature solana.Signature `json:"signature"`
	Payload   json.RawMessage  `json:"payload"`
}

// SigningBytes returns the message covered by the envelope signature:
// the instruction type, the nonce in decimal, and the raw payload bytes,
// newline separated.
func (e *Envelope) SigningBytes() []byte {
	msg := make([]byte, 0, len(e.Type)+22+len(e.Payload))
	msg = append(msg, []byte(e.Type)...)
	msg = append(msg, '\n')
	msg = strconv.AppendUint(msg, e.Nonce, 10)
	msg = append(msg, '\n')
	msg = append(msg, e.Payload...)
	return msg
}

// VerifySignature checks the envelope signature against the declared signer.
func (e *Envelope) VerifySignature() error {
	if e.Signer.IsZero() {
		return fmt.Errorf("%w: missing signer", ErrBadSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(e.Signer[:]), e.SigningBytes(), e.Signature[:]) {
		return ErrBadSignature
	}
	return nil
}

// Parse converts raw envelope bytes into a verified SignedInstruction.
// The shell validates, parses, and verifies before anything reaches the
// deterministic core; the core trusts the signer it is handed.
func Parse(data []byte) (*SignedInstruction, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse instruction envelope: %w", err)
	}

	if err := env.VerifySignature(); err != nil {
		return nil, err
	}

	body, err := parseBody(env.Type, env.Payload)
	if err != nil {
		return nil, err
	}

	return &SignedInstruction{
		Signer:    env.Signer,
		Signature: env.Signature,
		Body:      body,
	}, nil
}

func parseBody(kind Kind, payload json.RawMessage) (Instruction, error) {
	switch kind {
	case KindInitMainState:
		return InitMainState{}, nil
	case KindUpdateMainState:
		return unmarshalBody[UpdateMainState](kind, payload)
	case KindCreatePool:
		return unmarshalBody[CreatePool](kind, payload)
	case KindUpdatePool:
		return unmarshalBody[UpdatePool](kind, payload)
	case KindCreateEntry:
		return unmarshalBody[CreateEntry](kind, payload)
	case KindDeposit:
		return unmarshalBody[Deposit](kind, payload)
	case KindSetWinner:
		return unmarshalBody[SetWinner](kind, payload)
	case KindClaim:
		return unmarshalBody[Claim](kind, payload)
	case KindClaimCreatorFee:
		return unmarshalBody[ClaimCreatorFee](kind, payload)
	default:
		return nil, fmt.Errorf("unknown instruction type: %s", kind)
	}
}

func unmarshalBody[T Instruction](kind Kind, payload json.RawMessage) (Instruction, error) {
	var body T
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", kind, err)
	}
	return body, nil
}

// Sign builds a signed envelope for an instruction body. Callers that hold
// the private key locally (tests, backfill tools) use this instead of
// hand-assembling envelopes.
func Sign(body Instruction, key solana.PrivateKey) (*Envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", body.Kind(), err)
	}

	var nonce [8]byte
	if _, err := crand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	env := &Envelope{
		Type:    body.Kind(),
		Signer:  key.PublicKey(),
		Nonce:   binary.LittleEndian.Uint64(nonce[:]),
		Payload: payload,
	}

	sig, err := key.Sign(env.SigningBytes())
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", body.Kind(), err)
	}
	env.Signature = sig

	return env, nil
}
