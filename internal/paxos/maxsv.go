package paxos

// MaxSV is the Paxos safety hinge (Fig. 4 of "Paxos Made Moderately
// Complex"): given a collection of VotedSets gathered from a Promise
// quorum, for every slot that appears in any of them, pick the value
// carried by the PValue with the maximum ballot. Ties cannot occur
// because ballots are globally unique.
func MaxSV(votedSets []VotedSet) []SlotValue {
	best := make(map[Slot]PValue)
	for _, vs := range votedSets {
		for slot, pv := range vs {
			cur, ok := best[slot]
			if !ok || cur.Ballot.Less(pv.Ballot) {
				best[slot] = pv
			}
		}
	}

	out := make([]SlotValue, 0, len(best))
	for slot, pv := range best {
		out = append(out, SlotValue{Slot: slot, Value: pv.Value})
	}
	return out
}
