package paxos

import (
	"testing"

	"pgregory.net/rapid"
)

// TestMaxSVPicksHighestBallotPropertyHolds generates random collections of
// VotedSets and checks the one safety property Multi-Paxos depends on:
// for every slot that appears anywhere in the input, MaxSV's output for
// that slot carries the value from the single highest-ballot PValue seen
// for it, never a lower one.
func TestMaxSVPicksHighestBallotPropertyHolds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		serverIDs := []string{"a", "b", "c"}
		numSets := rapid.IntRange(0, 6).Draw(t, "numSets")

		type entry struct {
			slot Slot
			pv   PValue
		}
		var all []entry

		votedSets := make([]VotedSet, numSets)
		for i := range votedSets {
			vs := VotedSet{}
			numSlots := rapid.IntRange(0, 4).Draw(t, "numSlots")
			for j := 0; j < numSlots; j++ {
				slot := Slot(rapid.IntRange(1, 4).Draw(t, "slot"))
				ballot := Ballot{
					TS:       rapid.Float64Range(0, 1000).Draw(t, "ts"),
					ServerID: rapid.SampledFrom(serverIDs).Draw(t, "serverID"),
				}
				pv := PValue{
					Ballot: ballot,
					Slot:   slot,
					Value:  Value{Payload: int64(ballot.TS * 1000)},
				}
				vs[slot] = pv
			}
			votedSets[i] = vs
			for slot, pv := range vs {
				all = append(all, entry{slot: slot, pv: pv})
			}
		}

		got := MaxSV(votedSets)
		bySlot := make(map[Slot]SlotValue, len(got))
		for _, sv := range got {
			bySlot[sv.Slot] = sv
		}

		want := make(map[Slot]PValue)
		for _, e := range all {
			cur, ok := want[e.slot]
			if !ok || cur.Ballot.Less(e.pv.Ballot) {
				want[e.slot] = e.pv
			}
		}

		if len(bySlot) != len(want) {
			t.Fatalf("MaxSV returned %d slots, want %d", len(bySlot), len(want))
		}
		for slot, pv := range want {
			sv, ok := bySlot[slot]
			if !ok {
				t.Fatalf("slot %d missing from MaxSV output", slot)
			}
			if sv.Value != pv.Value {
				t.Fatalf("slot %d: got value %v, want %v (highest ballot %v)", slot, sv.Value, pv.Value, pv.Ballot)
			}
		}
	})
}
