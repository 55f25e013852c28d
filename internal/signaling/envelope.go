package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoData is returned by Parse for an envelope without a Data payload.
var ErrNoData = errors.New("signaling: envelope has no data")

// Envelope is a server-to-client message. Data holds one typed payload.
type Envelope struct {
	From string          `json:"From,omitempty"`
	To   string          `json:"To,omitempty"`
	Iid  string          `json:"Iid,omitempty"`
	Data json.RawMessage `json:"Data"`

	Type MessageType `json:"-"`
}

// Parse decodes raw into an Envelope and peeks the payload type.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, ErrNoData
	}

	var head struct {
		Type MessageType `json:"Type"`
	}
	if err := json.Unmarshal(env.Data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode payload type: %w", err)
	}
	env.Type = head.Type
	return &env, nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Self decodes a Self payload.
func (e *Envelope) Self() (*Self, error) {
	var s Self
	if err := e.expect(MsgTypeSelf, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Offer decodes an Offer payload.
func (e *Envelope) Offer() (*Offer, error) {
	var o Offer
	if err := e.expect(MsgTypeOffer, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Answer decodes an Answer payload.
func (e *Envelope) Answer() (*Answer, error) {
	var a Answer
	if err := e.expect(MsgTypeAnswer, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Candidate decodes a Candidate payload.
func (e *Envelope) Candidate() (*Candidate, error) {
	var c Candidate
	if err := e.expect(MsgTypeCandidate, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (e *Envelope) expect(t MessageType, v any) error {
	if e.Type != t {
		return fmt.Errorf("signaling: payload is %q, not %q", e.Type, t)
	}
	return e.Decode(v)
}
