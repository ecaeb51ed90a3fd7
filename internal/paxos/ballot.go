// Package paxos implements the core Multi-Paxos consensus engine: the
// Acceptor and Proposer/Learner role state machines, ballot and slot
// arithmetic, and the maxSV quorum operator. Transport, storage and
// process bootstrap live outside this package.
package paxos

import (
	"fmt"
	"math"
)

// Ballot totally orders proposal attempts, lexicographically on (TS,
// ServerID). TS is a strictly monotonic local timestamp; ServerID breaks
// ties between proposers that happen to observe the same timestamp.
type Ballot struct {
	TS       float64 `json:"ts"`
	ServerID string  `json:"server_id"`
}

// UnmarshalJSON rejects a ballot missing either field outright rather than
// silently zero-filling it: a Ballot with a zero TS is not the same thing
// as "no ballot was sent", and treating the two as interchangeable would
// corrupt ordering.
func (b *Ballot) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, "ts", "server_id"); err != nil {
		return fmt.Errorf("ballot: %w", err)
	}
	type alias Ballot
	var a alias
	if err := strictUnmarshal(data, &a); err != nil {
		return err
	}
	*b = Ballot(a)
	return nil
}

// MinBallot sorts below any ballot minted by a real proposer.
func MinBallot() Ballot {
	return Ballot{TS: math.Inf(-1), ServerID: ""}
}

// Less reports whether b sorts strictly before other.
func (b Ballot) Less(other Ballot) bool {
	if b.TS != other.TS {
		return b.TS < other.TS
	}
	return b.ServerID < other.ServerID
}

// LessOrEqual reports whether b sorts at or before other.
func (b Ballot) LessOrEqual(other Ballot) bool {
	return b == other || b.Less(other)
}

// Greater reports whether b sorts strictly after other.
func (b Ballot) Greater(other Ballot) bool {
	return other.Less(b)
}

func (b Ballot) String() string {
	return fmt.Sprintf("(%g,%s)", b.TS, b.ServerID)
}

// nextAfter returns the smallest float64 strictly greater than ts.
func nextAfter(ts float64) float64 {
	return math.Nextafter(ts, math.Inf(1))
}
