package auction

import (
	"sort"

	"github.com/aaronwang/live-auction/shared/models"
)

// AutoBid is one registered proxy ceiling. Seq is the registration order
// and breaks ties between equal ceilings (earlier wins).
type AutoBid struct {
	UserID string
	Max    models.Money
	Seq    uint64
}

// CounterBid is the bid the resolver places on behalf of a proxy bidder.
type CounterBid struct {
	UserID string
	Amount models.Money
	Max    models.Money
}

// ResolveProxyBid computes the next automatic counter-bid against leader.
//
// Only ceilings of other users strictly above current+increment compete.
// A single competitor bids the minimum increment. With several, the highest
// ceiling wins at the second ceiling plus one increment, capped at its own
// ceiling.
func ResolveProxyBid(current, increment models.Money, leader string, autoBids []AutoBid) (CounterBid, bool) {
	next := current + increment

	eligible := make([]AutoBid, 0, len(autoBids))
	for _, ab := range autoBids {
		if ab.UserID == leader || ab.Max <= next {
			continue
		}
		eligible = append(eligible, ab)
	}

	switch len(eligible) {
	case 0:
		return CounterBid{}, false
	case 1:
		top := eligible[0]
		return CounterBid{UserID: top.UserID, Amount: top.Max.Min(next), Max: top.Max}, true
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Max != eligible[j].Max {
			return eligible[i].Max > eligible[j].Max
		}
		return eligible[i].Seq < eligible[j].Seq
	})
	top, second := eligible[0], eligible[1]
	return CounterBid{UserID: top.UserID, Amount: top.Max.Min(second.Max + increment), Max: top.Max}, true
}
