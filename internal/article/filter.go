package article

import "github.com/google/uuid"

// Filter restricts a vector search. It is a closed set of variants consumed
// by exhaustive type switch in the store; adding a variant without extending
// the switch is a bug the compiler cannot catch, so keep them together.
//
// MatchNothing exists for the fail-closed path: when a caller supplied a
// channel slug that does not resolve, the intent was a restriction, so the
// search must return no rows rather than silently ignore the filter.
type Filter interface {
	isFilter()
}

// MatchAll applies no restriction.
type MatchAll struct{}

// ByChannel restricts to one channel.
type ByChannel struct {
	ChannelID uuid.UUID
}

// ByStatus restricts to one publication status code.
type ByStatus struct {
	Status int16
}

// ByChannelAndStatus restricts to the conjunction of both.
type ByChannelAndStatus struct {
	ChannelID uuid.UUID
	Status    int16
}

// MatchNothing matches no rows.
type MatchNothing struct{}

func (MatchAll) isFilter()           {}
func (ByChannel) isFilter()          {}
func (ByStatus) isFilter()           {}
func (ByChannelAndStatus) isFilter() {}
func (MatchNothing) isFilter()       {}
