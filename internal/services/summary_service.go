package services

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"coinvest/internal/core"
	applog "coinvest/internal/log"
	"coinvest/internal/ports"
)

// ListFilter narrows ListSpendings. Status and Owner are applied after the
// reconciliation sweep, so a spending finalized on this read is filtered by
// its new status.
type ListFilter struct {
	ports.SpendingFilter
	// Owner keeps spendings whose tracked owner is this user id.
	Owner string
}

// UserExpenses is the per-user view across every accessible project.
type UserExpenses struct {
	User      core.Person          `json:"user"`
	Totals    core.StatusBreakdown `json:"totals"`
	Spendings []core.SpendingView  `json:"spendings"`
}

// projectData is one project loaded, swept and ready for aggregation.
type projectData struct {
	project   core.Project
	eligible  []core.Person
	spendings []core.Spending
}

// ListSpendings returns the enriched spendings of a project after running
// the reconciliation sweep.
func (s *SpendingService) ListSpendings(ctx context.Context, actorID, projectID string, f ListFilter) ([]core.SpendingView, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, core.ErrInvalidStatus
	}
	p, err := s.loadProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	data, err := s.loadSwept(ctx, p, ports.SpendingFilter{From: f.From, To: f.To})
	if err != nil {
		return nil, err
	}

	names := s.names(ctx, p)
	out := make([]core.SpendingView, 0, len(data.spendings))
	for _, sp := range data.spendings {
		if f.Status != "" && sp.Status != f.Status {
			continue
		}
		if f.Owner != "" && core.TrackedOwner(sp) != f.Owner {
			continue
		}
		out = append(out, core.Enrich(p, sp, data.eligible, names))
	}
	return out, nil
}

// ProjectSummary aggregates one project by status and by tracked owner.
func (s *SpendingService) ProjectSummary(ctx context.Context, actorID, projectID string) (core.ProjectSummary, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return core.ProjectSummary{}, err
	}
	p, err := s.loadProject(ctx, actor, projectID)
	if err != nil {
		return core.ProjectSummary{}, err
	}
	data, err := s.loadSwept(ctx, p, ports.SpendingFilter{})
	if err != nil {
		return core.ProjectSummary{}, err
	}
	return core.SummarizeProject(p, data.spendings, s.names(ctx, p)), nil
}

// BulkSummaries summarizes the given projects, or every accessible project
// when projectIDs is empty. Only pending spendings are loaded for the sweep;
// the totals come from the store's aggregate.
func (s *SpendingService) BulkSummaries(ctx context.Context, actorID string, projectIDs []string) ([]core.ProjectSummary, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	projects, err := s.selectProjects(ctx, actor, projectIDs)
	if err != nil {
		return nil, err
	}

	out := make([]core.ProjectSummary, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BulkConcurrency)
	for i, p := range projects {
		g.Go(func() error {
			pending, err := s.pendingOf(gctx, p.ID)
			if err != nil {
				return err
			}
			s.reconcile(gctx, p, core.ResolveEligibleVoters(p), pending)

			totals, err := s.spendings.TotalsByStatus(gctx, p.ID)
			if err != nil {
				return fmt.Errorf("totals for project %s: %w", p.ID, err)
			}
			out[i] = core.SummarizeTotals(p, totals)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.WithComponent(applog.ComponentSummary).DebugContext(ctx, "Bulk summaries built",
		applog.FieldActorID, actor.ID,
		applog.FieldCount, len(out))
	return out, nil
}

// UserExpenses lists every spending whose tracked owner is the actor, across
// the actor's accessible projects.
func (s *SpendingService) UserExpenses(ctx context.Context, actorID string, f ports.SpendingFilter) (UserExpenses, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return UserExpenses{}, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return UserExpenses{}, core.ErrInvalidStatus
	}
	projects, err := s.projects.FindAccessibleProjects(ctx, actor)
	if err != nil {
		return UserExpenses{}, fmt.Errorf("find accessible projects: %w", err)
	}
	loaded, err := s.loadMany(ctx, projects, ports.SpendingFilter{From: f.From, To: f.To})
	if err != nil {
		return UserExpenses{}, err
	}

	res := UserExpenses{User: actor.Person(), Spendings: []core.SpendingView{}}
	for _, d := range loaded {
		names := s.names(ctx, d.project)
		for _, sp := range d.spendings {
			if core.TrackedOwner(sp) != actor.ID {
				continue
			}
			if f.Status != "" && sp.Status != f.Status {
				continue
			}
			res.Totals.Add(sp.Status, sp.Amount)
			res.Spendings = append(res.Spendings, core.Enrich(d.project, sp, d.eligible, names))
		}
	}
	sort.SliceStable(res.Spendings, func(i, j int) bool {
		a, b := res.Spendings[i], res.Spendings[j]
		if !a.SpentOn.Equal(b.SpentOn.Time) {
			return a.SpentOn.After(b.SpentOn.Time)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return res, nil
}

func (s *SpendingService) selectProjects(ctx context.Context, actor core.User, ids []string) ([]core.Project, error) {
	if len(ids) == 0 {
		projects, err := s.projects.FindAccessibleProjects(ctx, actor)
		if err != nil {
			return nil, fmt.Errorf("find accessible projects: %w", err)
		}
		return projects, nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]core.Project, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		p, err := s.loadProject(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// loadSwept loads a project's spendings matching f and sweeps them.
func (s *SpendingService) loadSwept(ctx context.Context, p core.Project, f ports.SpendingFilter) (projectData, error) {
	list, err := s.spendings.ListSpendings(ctx, p.ID, f)
	if err != nil {
		return projectData{}, fmt.Errorf("list spendings: %w", err)
	}
	eligible := core.ResolveEligibleVoters(p)
	return projectData{
		project:   p,
		eligible:  eligible,
		spendings: s.reconcile(ctx, p, eligible, list),
	}, nil
}

// loadMany runs loadSwept for each project in parallel, preserving order.
func (s *SpendingService) loadMany(ctx context.Context, projects []core.Project, f ports.SpendingFilter) ([]projectData, error) {
	out := make([]projectData, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BulkConcurrency)
	for i, p := range projects {
		g.Go(func() error {
			d, err := s.loadSwept(gctx, p, f)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SpendingService) pendingOf(ctx context.Context, projectID string) ([]core.Spending, error) {
	list, err := s.spendings.ListSpendings(ctx, projectID, ports.SpendingFilter{Status: core.StatusPending})
	if err != nil {
		return nil, fmt.Errorf("list pending spendings: %w", err)
	}
	return list, nil
}
