package report

import (
	"context"
	"time"

	"coinvest/internal/core"
	"coinvest/internal/services"
)

// Source is the part of the engine a report reads from.
type Source interface {
	ListSpendings(ctx context.Context, actorID, projectID string, f services.ListFilter) ([]core.SpendingView, error)
	ProjectSummary(ctx context.Context, actorID, projectID string) (core.ProjectSummary, error)
}

// Build loads the filtered spendings of a project as actorID sees them and
// the meta block describing them. Access checks are the engine's.
func Build(ctx context.Context, src Source, actorID, projectID string, f services.ListFilter, filter string, at time.Time) (Meta, []core.SpendingView, error) {
	views, err := src.ListSpendings(ctx, actorID, projectID, f)
	if err != nil {
		return Meta{}, nil, err
	}
	sum, err := src.ProjectSummary(ctx, actorID, projectID)
	if err != nil {
		return Meta{}, nil, err
	}
	meta := Summarize(Meta{
		ProjectID:   sum.ProjectID,
		ProjectName: sum.ProjectName,
		GeneratedBy: actorID,
		GeneratedAt: at,
		Filter:      filter,
	}, views)
	return meta, views, nil
}
