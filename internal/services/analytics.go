package services

import (
	"context"
	"fmt"

	"coinvest/internal/core"
	"coinvest/internal/ports"
)

// Analytics breaks spend down by category, month and project over a date
// window, using the same status semantics as the approval engine.
type Analytics struct {
	From       core.Date            `json:"from"`
	To         core.Date            `json:"to"`
	Totals     core.StatusBreakdown `json:"totals"`
	ByCategory []core.Bucket        `json:"byCategory"`
	ByMonth    []core.Bucket        `json:"byMonth"`
	ByProject  []core.Bucket        `json:"byProject"`
}

// Analytics aggregates the actor's accessible projects between from and to,
// inclusive. A zero to means today; a zero from means the configured window
// before to.
func (s *SpendingService) Analytics(ctx context.Context, actorID string, from, to core.Date) (Analytics, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return Analytics{}, err
	}
	if to.IsZero() {
		to = core.DateOf(s.now())
	}
	if from.IsZero() {
		from = core.DateOf(to.Add(-s.opts.AnalyticsWindow))
	}
	if from.After(to.Time) {
		return Analytics{}, core.ErrInvalidDate
	}

	projects, err := s.projects.FindAccessibleProjects(ctx, actor)
	if err != nil {
		return Analytics{}, fmt.Errorf("find accessible projects: %w", err)
	}
	loaded, err := s.loadMany(ctx, projects, ports.SpendingFilter{From: from, To: to})
	if err != nil {
		return Analytics{}, err
	}

	byCategory := core.NewBucketSet()
	byMonth := core.NewBucketSet()
	byProject := core.NewBucketSet()
	res := Analytics{From: from, To: to}
	for _, d := range loaded {
		for _, sp := range d.spendings {
			res.Totals.Add(sp.Status, sp.Amount)
			byCategory.Add(string(sp.Category), "", sp)
			byMonth.Add(sp.SpentOn.MonthKey(), "", sp)
			byProject.Add(d.project.ID, d.project.Name, sp)
		}
	}
	res.ByCategory = byCategory.Sorted()
	res.ByMonth = byMonth.Sorted()
	res.ByProject = byProject.Sorted()
	return res, nil
}
