package core

import "time"

// ApprovalSummary is the "N of M" view of a spending, computed strictly from
// the current eligible set. Votes from members who are no longer eligible
// are ignored.
type ApprovalSummary struct {
	RequiredCount int      `json:"requiredCount"`
	ApprovedCount int      `json:"approvedCount"`
	PendingCount  int      `json:"pendingCount"`
	ApprovedBy    []Person `json:"approvedBy"`
	WaitingFor    []Person `json:"waitingFor"`
	RejectedBy    []Person `json:"rejectedBy,omitempty"`
}

// RecordVote writes voter's decision into the vote ledger, replacing any
// earlier vote by the same voter. Terminal spendings are refused.
func RecordVote(s *Spending, voter Person, d Decision, at time.Time) error {
	switch s.Status {
	case StatusApproved:
		return ErrAlreadyApproved
	case StatusRejected:
		return ErrAlreadyRejected
	}
	if !d.Valid() {
		return ErrInvalidDecision
	}
	if s.Votes == nil {
		s.Votes = make(map[string]Vote)
	}
	s.Votes[voter.ID] = Vote{Decision: d, At: at, VoterName: voter.Name}
	s.UpdatedAt = at
	return nil
}

// Tally counts the approved and rejected votes cast by eligible voters.
func Tally(s Spending, eligible []Person) (approved, rejected int) {
	for _, p := range eligible {
		v, ok := s.Votes[p.ID]
		if !ok {
			continue
		}
		switch v.Decision {
		case DecisionApproved:
			approved++
		case DecisionRejected:
			rejected++
		}
	}
	return approved, rejected
}

// Settle finalizes a pending spending against the given eligible set and
// reports whether the status changed. A single eligible rejection rejects;
// approval needs every eligible voter. An empty eligible set never settles.
//
// This is the only place the approval threshold is evaluated; the vote path
// and the reconciliation sweep both call it.
func Settle(s *Spending, eligible []Person, at time.Time) bool {
	if s.Status != StatusPending || len(eligible) == 0 {
		return false
	}
	approved, rejected := Tally(*s, eligible)
	switch {
	case rejected > 0:
		s.Status = StatusRejected
	case approved >= len(eligible):
		s.Status = StatusApproved
	default:
		return false
	}
	s.UpdatedAt = at
	return true
}

// WouldSettle reports whether Settle would change s, without touching it.
func WouldSettle(s Spending, eligible []Person) bool {
	c := s.Clone()
	return Settle(&c, eligible, time.Time{})
}

// TrackedOwner is whose contribution a spending counts against: the funder
// once approved, otherwise the initiator.
func TrackedOwner(s Spending) string {
	if s.Status == StatusApproved && s.FundedByID != "" {
		return s.FundedByID
	}
	return s.InitiatorID
}

// SummarizeApproval builds the approval summary for s. For pending and
// approved spendings len(ApprovedBy)+len(WaitingFor) == RequiredCount.
func SummarizeApproval(s Spending, eligible []Person) ApprovalSummary {
	sum := ApprovalSummary{
		RequiredCount: len(eligible),
		ApprovedBy:    []Person{},
		WaitingFor:    []Person{},
	}
	for _, p := range eligible {
		v, ok := s.Votes[p.ID]
		switch {
		case ok && v.Decision == DecisionApproved:
			sum.ApprovedBy = append(sum.ApprovedBy, p)
		case ok && v.Decision == DecisionRejected:
			sum.RejectedBy = append(sum.RejectedBy, p)
		default:
			sum.WaitingFor = append(sum.WaitingFor, p)
		}
	}
	sum.ApprovedCount = len(sum.ApprovedBy)
	sum.PendingCount = len(sum.WaitingFor)
	return sum
}
