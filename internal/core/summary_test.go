package core

import "testing"

func TestSummarizeProject(t *testing.T) {
	p := Project{
		ID:            "p1",
		Name:          "Farmhouse",
		FundingTarget: Money{Cents: 100000},
		Creator:       investor("a"),
		Members:       []Membership{{User: investor("b"), Role: MemberActive}},
	}
	spendings := []Spending{
		{Amount: Money{Cents: 30000}, Status: StatusApproved, InitiatorID: "a", FundedByID: "b"},
		{Amount: Money{Cents: 20000}, Status: StatusPending, InitiatorID: "a", FundedByID: "b"},
		{Amount: Money{Cents: 5000}, Status: StatusRejected, InitiatorID: "b", FundedByID: "b"},
		{Amount: Money{Cents: 90000}, Status: StatusApproved, InitiatorID: "b", FundedByID: "a"},
	}
	sum := SummarizeProject(p, spendings, p.DisplayName)

	if sum.Totals.Approved.Count != 2 || sum.Totals.Approved.Amount.Cents != 120000 {
		t.Fatalf("approved totals: %+v", sum.Totals.Approved)
	}
	if sum.Totals.Pending.Count != 1 || sum.Totals.Rejected.Amount.Cents != 5000 {
		t.Fatalf("unexpected totals: %+v", sum.Totals)
	}
	if sum.Total.Count != 4 || sum.Total.Amount.Cents != 145000 {
		t.Fatalf("unexpected grand total: %+v", sum.Total)
	}
	if sum.Remaining.Cents != 0 {
		t.Fatalf("remaining capacity should floor at zero, got %d", sum.Remaining.Cents)
	}
	if len(sum.Contributions) != 2 {
		t.Fatalf("expected two contributors, got %+v", sum.Contributions)
	}
	a, b := sum.Contributions[0], sum.Contributions[1]
	// a: tracked for the pending one (initiator) and the approved one funded by a.
	if a.ID != "a" || a.Approved.Amount.Cents != 90000 || a.Pending.Amount.Cents != 20000 {
		t.Fatalf("contribution a: %+v", a)
	}
	if b.ID != "b" || b.Name != "name-b" || b.Approved.Amount.Cents != 30000 || b.Rejected.Count != 1 {
		t.Fatalf("contribution b: %+v", b)
	}
}

func TestSummarizeTotalsRemaining(t *testing.T) {
	var totals StatusBreakdown
	totals.Set(StatusApproved, StatusTotal{Count: 1, Amount: Money{Cents: 400}})
	totals.Add(StatusPending, Money{Cents: 100})
	sum := SummarizeTotals(Project{ID: "p", FundingTarget: Money{Cents: 1000}}, totals)
	if sum.Remaining.Cents != 600 {
		t.Fatalf("remaining = %d, want 600", sum.Remaining.Cents)
	}
	if sum.Total.Count != 2 {
		t.Fatalf("total count = %d", sum.Total.Count)
	}
}

func TestEnrich(t *testing.T) {
	p := Project{
		ID:      "p1",
		Name:    "Farmhouse",
		Creator: investor("v1"),
		Members: []Membership{
			{User: investor("v2"), Role: MemberActive},
			{User: investor("v3"), Role: MemberActive},
		},
	}
	s := pendingSpending()
	s.Votes["v2"] = Vote{Decision: DecisionApproved, At: t0.Add(1)}
	s.Votes["old"] = Vote{Decision: DecisionApproved, At: t0.Add(2), VoterName: "Former"}
	eligible := ResolveEligibleVoters(p)

	name := func(id string) string {
		if n := p.DisplayName(id); n != "" {
			return n
		}
		return id
	}
	v := Enrich(p, s, eligible, name)

	if v.ProjectName != "Farmhouse" || v.Initiator.Name != "name-v1" || v.FundedBy.Name != "name-v2" {
		t.Fatalf("unexpected names: %+v", v)
	}
	if v.TrackedOwner.ID != "v1" {
		t.Fatalf("pending spending tracked owner should be initiator, got %s", v.TrackedOwner.ID)
	}
	if v.Approval.RequiredCount != 3 || v.Approval.ApprovedCount != 2 {
		t.Fatalf("approval: %+v", v.Approval)
	}
	if len(v.Voters) != 3 || v.Voters[2].Voter.Name != "Former" || v.Voters[2].Eligible {
		t.Fatalf("voters: %+v", v.Voters)
	}
}
