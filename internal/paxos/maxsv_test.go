package paxos

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sortedBySlot(svs []SlotValue) []SlotValue {
	out := make([]SlotValue, len(svs))
	copy(out, svs)
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

func TestMaxSVPicksHighestBallotPerSlot(t *testing.T) {
	low := Ballot{TS: 1, ServerID: "a"}
	high := Ballot{TS: 2, ServerID: "a"}

	votedSets := []VotedSet{
		{
			1: PValue{Ballot: low, Slot: 1, Value: Value{Payload: 1}},
			2: PValue{Ballot: high, Slot: 2, Value: Value{Payload: 20}},
		},
		{
			1: PValue{Ballot: high, Slot: 1, Value: Value{Payload: 100}},
		},
	}

	got := sortedBySlot(MaxSV(votedSets))
	assert.Equal(t, []SlotValue{
		{Slot: 1, Value: Value{Payload: 100}},
		{Slot: 2, Value: Value{Payload: 20}},
	}, got)
}

func TestMaxSVEmptyInputProducesNoSlots(t *testing.T) {
	assert.Empty(t, MaxSV(nil))
	assert.Empty(t, MaxSV([]VotedSet{{}, {}}))
}

func TestMaxSVUnionsSlotsAcrossDisjointVotedSets(t *testing.T) {
	b := Ballot{TS: 1, ServerID: "a"}
	votedSets := []VotedSet{
		{1: PValue{Ballot: b, Slot: 1, Value: Value{Payload: 1}}},
		{2: PValue{Ballot: b, Slot: 2, Value: Value{Payload: 2}}},
		{3: PValue{Ballot: b, Slot: 3, Value: Value{Payload: 3}}},
	}

	got := sortedBySlot(MaxSV(votedSets))
	assert.Len(t, got, 3)
	for i, sv := range got {
		assert.Equal(t, Slot(i+1), sv.Slot)
	}
}
