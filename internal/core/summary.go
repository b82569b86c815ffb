package core

import "sort"

// StatusTotal is a count and amount for one status.
type StatusTotal struct {
	Count  int   `json:"count"`
	Amount Money `json:"amount"`
}

// StatusBreakdown groups totals by spending status.
type StatusBreakdown struct {
	Approved StatusTotal `json:"approved"`
	Pending  StatusTotal `json:"pending"`
	Rejected StatusTotal `json:"rejected"`
}

// Bucket is a labelled breakdown used by analytics (category, month, project).
type Bucket struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	StatusBreakdown
}

// Contribution is a member's spend, attributed by tracked owner.
type Contribution struct {
	Person
	StatusBreakdown
}

type ProjectSummary struct {
	ProjectID     string          `json:"projectId"`
	ProjectName   string          `json:"projectName"`
	FundingTarget Money           `json:"fundingTarget"`
	Remaining     Money           `json:"remaining"`
	Totals        StatusBreakdown `json:"totals"`
	Total         StatusTotal     `json:"total"`
	Contributions []Contribution  `json:"contributions,omitempty"`
}

// Add counts one spending of the given status.
func (b *StatusBreakdown) Add(status Status, amount Money) {
	t := b.slot(status)
	if t == nil {
		return
	}
	t.Count++
	t.Amount = t.Amount.Add(amount)
}

// Set overwrites the total for a status; used with store-side aggregates.
func (b *StatusBreakdown) Set(status Status, total StatusTotal) {
	if t := b.slot(status); t != nil {
		*t = total
	}
}

func (b *StatusBreakdown) slot(status Status) *StatusTotal {
	switch status {
	case StatusApproved:
		return &b.Approved
	case StatusPending:
		return &b.Pending
	case StatusRejected:
		return &b.Rejected
	}
	return nil
}

// Total sums every status.
func (b StatusBreakdown) Total() StatusTotal {
	return StatusTotal{
		Count:  b.Approved.Count + b.Pending.Count + b.Rejected.Count,
		Amount: b.Approved.Amount.Add(b.Pending.Amount).Add(b.Rejected.Amount),
	}
}

// RemainingCapacity is target minus approved spend, floored at zero.
func RemainingCapacity(target, approved Money) Money {
	return target.Sub(approved)
}

// SummarizeTotals builds a project summary from already-aggregated totals.
func SummarizeTotals(p Project, totals StatusBreakdown) ProjectSummary {
	return ProjectSummary{
		ProjectID:     p.ID,
		ProjectName:   p.Name,
		FundingTarget: p.FundingTarget,
		Remaining:     RemainingCapacity(p.FundingTarget, totals.Approved.Amount),
		Totals:        totals,
		Total:         totals.Total(),
	}
}

// SummarizeProject aggregates spendings of p by status and by tracked owner.
func SummarizeProject(p Project, spendings []Spending, name NameFunc) ProjectSummary {
	var totals StatusBreakdown
	byOwner := NewBucketSet()
	for _, s := range spendings {
		totals.Add(s.Status, s.Amount)
		owner := TrackedOwner(s)
		byOwner.Add(owner, name(owner), s)
	}
	sum := SummarizeTotals(p, totals)
	for _, b := range byOwner.Sorted() {
		sum.Contributions = append(sum.Contributions, Contribution{
			Person:          Person{ID: b.Key, Name: b.Label},
			StatusBreakdown: b.StatusBreakdown,
		})
	}
	return sum
}

// BucketSet accumulates spendings into keyed buckets.
type BucketSet struct {
	buckets map[string]*Bucket
}

func NewBucketSet() *BucketSet {
	return &BucketSet{buckets: make(map[string]*Bucket)}
}

func (bs *BucketSet) Add(key, label string, s Spending) {
	b, ok := bs.buckets[key]
	if !ok {
		b = &Bucket{Key: key, Label: label}
		bs.buckets[key] = b
	}
	b.StatusBreakdown.Add(s.Status, s.Amount)
}

// Sorted returns the buckets ordered by key.
func (bs *BucketSet) Sorted() []Bucket {
	out := make([]Bucket, 0, len(bs.buckets))
	for _, b := range bs.buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
