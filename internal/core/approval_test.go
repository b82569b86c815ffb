package core

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func threeVoters() []Person {
	return []Person{{ID: "v1", Name: "One"}, {ID: "v2", Name: "Two"}, {ID: "v3", Name: "Three"}}
}

func pendingSpending() Spending {
	return Spending{
		ID:          "s1",
		Amount:      Money{Cents: 50000},
		Status:      StatusPending,
		InitiatorID: "v1",
		FundedByID:  "v2",
		Votes:       map[string]Vote{"v1": {Decision: DecisionApproved, At: t0, VoterName: "One"}},
	}
}

func TestRecordVoteOverwritesPreviousDecision(t *testing.T) {
	s := pendingSpending()
	voter := Person{ID: "v2", Name: "Two"}
	if err := RecordVote(&s, voter, DecisionApproved, t0.Add(time.Minute)); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if err := RecordVote(&s, voter, DecisionApproved, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if len(s.Votes) != 2 {
		t.Fatalf("expected 2 vote entries, got %d", len(s.Votes))
	}
	approved, _ := Tally(s, threeVoters())
	if approved != 2 {
		t.Fatalf("re-vote must not double count, approved=%d", approved)
	}
	if !s.Votes["v2"].At.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("last vote should win, got %v", s.Votes["v2"].At)
	}
}

func TestRecordVoteRejectsTerminalAndBadDecision(t *testing.T) {
	s := pendingSpending()
	s.Status = StatusApproved
	if err := RecordVote(&s, Person{ID: "v2"}, DecisionApproved, t0); !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("expected ErrAlreadyApproved, got %v", err)
	}
	s.Status = StatusRejected
	if err := RecordVote(&s, Person{ID: "v2"}, DecisionApproved, t0); !errors.Is(err, ErrAlreadyRejected) {
		t.Fatalf("expected ErrAlreadyRejected, got %v", err)
	}
	if !errors.Is(ErrAlreadyRejected, ErrConflict) {
		t.Fatalf("terminal errors should be conflicts")
	}
	s.Status = StatusPending
	if err := RecordVote(&s, Person{ID: "v2"}, "maybe", t0); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name     string
		votes    map[string]Decision
		eligible []Person
		want     Status
		changed  bool
	}{
		{"one of three", map[string]Decision{"v1": DecisionApproved}, threeVoters(), StatusPending, false},
		{"two of three", map[string]Decision{"v1": DecisionApproved, "v2": DecisionApproved}, threeVoters(), StatusPending, false},
		{"all approve", map[string]Decision{"v1": DecisionApproved, "v2": DecisionApproved, "v3": DecisionApproved}, threeVoters(), StatusApproved, true},
		{"single veto", map[string]Decision{"v1": DecisionApproved, "v2": DecisionRejected}, threeVoters(), StatusRejected, true},
		{"veto beats full approval", map[string]Decision{"v1": DecisionApproved, "v2": DecisionApproved, "v3": DecisionRejected}, threeVoters(), StatusRejected, true},
		{"stale voter ignored", map[string]Decision{"v1": DecisionApproved, "gone": DecisionApproved}, threeVoters()[:2], StatusPending, false},
		{"shrunk eligible set", map[string]Decision{"v1": DecisionApproved}, threeVoters()[:1], StatusApproved, true},
		{"empty eligible set never settles", map[string]Decision{"v1": DecisionApproved}, nil, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := pendingSpending()
			s.Votes = map[string]Vote{}
			for id, d := range tt.votes {
				s.Votes[id] = Vote{Decision: d, At: t0}
			}
			would := WouldSettle(s, tt.eligible)
			changed := Settle(&s, tt.eligible, t0)
			if changed != tt.changed || would != tt.changed {
				t.Fatalf("changed=%v would=%v, want %v", changed, would, tt.changed)
			}
			if s.Status != tt.want {
				t.Fatalf("status=%s, want %s", s.Status, tt.want)
			}
			if Settle(&s, tt.eligible, t0) {
				t.Fatalf("second Settle must be a no-op")
			}
		})
	}
}

func TestTrackedOwner(t *testing.T) {
	s := pendingSpending()
	if TrackedOwner(s) != "v1" {
		t.Fatalf("pending spending should count against the initiator")
	}
	s.Status = StatusApproved
	if TrackedOwner(s) != "v2" {
		t.Fatalf("approved spending should count against the funder")
	}
	s.Status = StatusRejected
	if TrackedOwner(s) != "v1" {
		t.Fatalf("rejected spending should count against the initiator")
	}
}

func TestSummarizeApprovalUsesEligibleSetOnly(t *testing.T) {
	s := pendingSpending()
	s.Votes["gone"] = Vote{Decision: DecisionApproved, At: t0}
	sum := SummarizeApproval(s, threeVoters())

	if sum.RequiredCount != 3 || sum.ApprovedCount != 1 || sum.PendingCount != 2 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
	if len(sum.ApprovedBy)+len(sum.WaitingFor) != sum.RequiredCount {
		t.Fatalf("approvedBy + waitingFor must equal required: %+v", sum)
	}
	if sum.ApprovedBy[0].ID != "v1" || sum.WaitingFor[0].ID != "v2" || sum.WaitingFor[1].ID != "v3" {
		t.Fatalf("unexpected people: %+v", sum)
	}
}
