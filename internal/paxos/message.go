package paxos

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Slot is a positive integer log position. The RSM applies values in
// ascending slot order with no gaps.
type Slot int

// requireFields fails decoding outright when data (a JSON object) is
// missing any of fields, rather than letting encoding/json silently
// zero-fill an absent field. Wire messages distinguish "this field was
// sent as its zero value" from "this field was never sent" -- the latter
// is a malformed message, not a default.
func requireFields(data []byte, fields ...string) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, field := range fields {
		if _, ok := raw[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	return nil
}

// strictUnmarshal decodes data into dst (expected to be a plain alias of
// one of this package's wire types, with no UnmarshalJSON of its own)
// rejecting unknown fields unconditionally. Every wire type's
// UnmarshalJSON routes through this so unknown-field rejection doesn't
// depend on whether the caller's own json.Decoder happened to set
// DisallowUnknownFields -- a type implementing Unmarshaler takes over
// decoding entirely, so the caller's decoder option would otherwise be
// silently ignored for these types.
func strictUnmarshal(data []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Value is the opaque client payload plus the (ClientID, CommandID)
// identity used to match a proposal outcome back to a waiting reply
// handle. Equal values are structurally equal, which is what Go's == and
// map keys give us for free as long as Value stays comparable.
type Value struct {
	ClientID  int64 `json:"client_id"`
	CommandID int64 `json:"command_id"`
	Payload   int64 `json:"payload"`
}

func (v Value) String() string {
	return fmt.Sprintf("Value(client=%d,cmd=%d,payload=%d)", v.ClientID, v.CommandID, v.Payload)
}

// UnmarshalJSON requires all three fields to be present.
func (v *Value) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "client_id", "command_id", "payload"); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	type alias Value
	var a alias
	if err := strictUnmarshal(data, &a); err != nil {
		return err
	}
	*v = Value(a)
	return nil
}

// SlotValue pairs a slot with the value destined for it.
type SlotValue struct {
	Slot  Slot  `json:"slot"`
	Value Value `json:"value"`
}

// UnmarshalJSON requires both fields to be present.
func (sv *SlotValue) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "slot", "value"); err != nil {
		return fmt.Errorf("slot value: %w", err)
	}
	type alias SlotValue
	var a alias
	if err := strictUnmarshal(data, &a); err != nil {
		return err
	}
	*sv = SlotValue(a)
	return nil
}

// PValue is an Acceptor's record of the highest-ballot vote at a slot.
type PValue struct {
	Ballot Ballot `json:"ballot"`
	Slot   Slot   `json:"slot"`
	Value  Value  `json:"value"`
}

// UnmarshalJSON requires all three fields to be present.
func (pv *PValue) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "ballot", "slot", "value"); err != nil {
		return fmt.Errorf("pvalue: %w", err)
	}
	type alias PValue
	var a alias
	if err := strictUnmarshal(data, &a); err != nil {
		return err
	}
	*pv = PValue(a)
	return nil
}

// VotedSet maps slot to an Acceptor's PValue for that slot. It grows
// without bound (no slot GC in scope) and is monotone: entries are only
// added or overwritten by a new Accept whose ballot is >= the slot's
// current ballot.
type VotedSet map[Slot]PValue

func (vs VotedSet) clone() VotedSet {
	out := make(VotedSet, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

// ClientRequest is external input to a Proposer.
type ClientRequest struct {
	ClientID  int64 `json:"client_id"`
	CommandID int64 `json:"command_id"`
	Payload   int64 `json:"payload"`
}

// Value extracts the (client_id, command_id, payload) identity carried by
// this request.
func (c ClientRequest) Value() Value {
	return Value{ClientID: c.ClientID, CommandID: c.CommandID, Payload: c.Payload}
}

// UnmarshalJSON requires all three fields to be present.
func (c *ClientRequest) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "client_id", "command_id", "payload"); err != nil {
		return fmt.Errorf("client request: %w", err)
	}
	type alias ClientRequest
	var a alias
	if err := strictUnmarshal(data, &a); err != nil {
		return err
	}
	*c = ClientRequest(a)
	return nil
}

// Prepare is Phase 1a: a proposer's bid for a ballot.
type Prepare struct {
	FromURI string `json:"from_uri"`
	Ballot  Ballot `json:"ballot"`
}

// UnmarshalJSON requires both fields to be present.
func (p *Prepare) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "from_uri", "ballot"); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	type alias Prepare
	var a alias
	if err := strictUnmarshal(data, &a); err != nil {
		return err
	}
	*p = Prepare(a)
	return nil
}

// Promise is Phase 1b: an acceptor's response to Prepare, carrying
// everything it has voted for so far.
type Promise struct {
	FromURI string   `json:"from_uri"`
	Ballot  Ballot   `json:"ballot"`
	Voted   VotedSet `json:"voted"`
}

// UnmarshalJSON requires all three fields to be present; Voted may be an
// empty object, but it must be sent.
func (p *Promise) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "from_uri", "ballot", "voted"); err != nil {
		return fmt.Errorf("promise: %w", err)
	}
	type alias Promise
	var a alias
	if err := strictUnmarshal(data, &a); err != nil {
		return err
	}
	*p = Promise(a)
	return nil
}

// Accept is Phase 2a: a proposer asking acceptors to vote for a batch of
// slot values under a ballot.
type Accept struct {
	FromURI string      `json:"from_uri"`
	Ballot  Ballot      `json:"ballot"`
	Voted   []SlotValue `json:"voted"`
}

// UnmarshalJSON requires all three fields to be present; Voted may be an
// empty array, but it must be sent.
func (a *Accept) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "from_uri", "ballot", "voted"); err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	type alias Accept
	var al alias
	if err := strictUnmarshal(data, &al); err != nil {
		return err
	}
	*a = Accept(al)
	return nil
}

// Accepted is Phase 2b: an acceptor's response to Accept.
type Accepted struct {
	FromURI string      `json:"from_uri"`
	Ballot  Ballot      `json:"ballot"`
	Voted   []SlotValue `json:"voted"`
}

// UnmarshalJSON requires all three fields to be present; Voted may be an
// empty array, but it must be sent.
func (a *Accepted) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "from_uri", "ballot", "voted"); err != nil {
		return fmt.Errorf("accepted: %w", err)
	}
	type alias Accepted
	var al alias
	if err := strictUnmarshal(data, &al); err != nil {
		return err
	}
	*a = Accepted(al)
	return nil
}

// ClientReply carries the RSM snapshot after a client's value was applied.
type ClientReply struct {
	State []int64 `json:"state"`
}

// OK is a neutral acknowledgement for intra-cluster messages whose
// response payload is meaningless; the actual effect is observed through
// a subsequent broadcast.
type OK struct{}
