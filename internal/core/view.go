package core

import (
	"sort"
	"time"
)

// NameFunc resolves a user id to a display name.
type NameFunc func(id string) string

type VoteView struct {
	Voter    Person    `json:"voter"`
	Decision Decision  `json:"decision"`
	At       time.Time `json:"at"`
	// Eligible is false for votes left by members who can no longer vote.
	Eligible bool `json:"eligible"`
}

// SpendingView is the enriched shape returned by every read and by CastVote.
type SpendingView struct {
	Spending
	ProjectName  string          `json:"projectName"`
	Initiator    Person          `json:"initiator"`
	FundedBy     Person          `json:"fundedBy"`
	TrackedOwner Person          `json:"trackedOwner"`
	Voters       []VoteView      `json:"voters"`
	Approval     ApprovalSummary `json:"approval"`
}

// Enrich builds the display view of s for project p. The eligible set must
// come from ResolveEligibleVoters(p).
func Enrich(p Project, s Spending, eligible []Person, name NameFunc) SpendingView {
	person := func(id string) Person {
		return Person{ID: id, Name: name(id)}
	}
	view := SpendingView{
		Spending:     s,
		ProjectName:  p.Name,
		Initiator:    person(s.InitiatorID),
		FundedBy:     person(s.FundedByID),
		TrackedOwner: person(TrackedOwner(s)),
		Voters:       make([]VoteView, 0, len(s.Votes)),
		Approval:     SummarizeApproval(s, eligible),
	}
	for id, v := range s.Votes {
		voter := Person{ID: id, Name: v.VoterName}
		if ep, ok := findPerson(eligible, id); ok && ep.Name != "" {
			voter.Name = ep.Name
		}
		if voter.Name == "" {
			voter.Name = name(id)
		}
		view.Voters = append(view.Voters, VoteView{
			Voter:    voter,
			Decision: v.Decision,
			At:       v.At,
			Eligible: IsEligible(eligible, id),
		})
	}
	sort.Slice(view.Voters, func(i, j int) bool {
		if !view.Voters[i].At.Equal(view.Voters[j].At) {
			return view.Voters[i].At.Before(view.Voters[j].At)
		}
		return view.Voters[i].Voter.ID < view.Voters[j].Voter.ID
	})
	return view
}

// DisplayName returns the member's name, or "" when id is not a member.
func (p Project) DisplayName(id string) string {
	u, _ := p.Member(id)
	return u.Name
}
