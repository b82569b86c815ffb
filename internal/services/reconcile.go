package services

import (
	"context"
	"fmt"

	"coinvest/internal/core"
	applog "coinvest/internal/log"
)

// reconcile finalizes every pending spending that the current eligible set
// already satisfies, and returns the list with those items updated. Items
// that do not qualify are never written. Errors are logged; the caller
// always gets a usable list.
func (s *SpendingService) reconcile(ctx context.Context, p core.Project, eligible []core.Person, list []core.Spending) []core.Spending {
	finalized := 0
	for i := range list {
		if list[i].Status.Terminal() || !core.WouldSettle(list[i], eligible) {
			continue
		}
		settled := false
		updated, err := s.spendings.MutateSpending(ctx, list[i].ID, func(sp *core.Spending) (bool, error) {
			settled = core.Settle(sp, eligible, s.now())
			return settled, nil
		})
		if err != nil {
			s.log.WarnContext(ctx, "Reconciliation failed",
				applog.FieldOperation, applog.OpSweep,
				applog.FieldProjectID, p.ID,
				applog.FieldSpendingID, list[i].ID,
				applog.FieldError, err)
			continue
		}
		list[i] = updated
		if !settled {
			// Another writer got there first.
			continue
		}
		finalized++

		kind, title := kindAutoApproved, "Spending approved"
		body := fmt.Sprintf("%s for %s in %s is approved after a membership change", updated.Amount, subject(updated), p.Name)
		if updated.Status == core.StatusRejected {
			kind, title = kindRejected, "Spending rejected"
			body = fmt.Sprintf("%s for %s in %s was rejected", updated.Amount, subject(updated), p.Name)
		}
		s.notifyAll(ctx, []string{updated.InitiatorID}, kind, p, updated, title, body)
	}
	if finalized > 0 {
		s.log.WithComponent(applog.ComponentReconcile).InfoContext(ctx, "Pending spendings finalized on read",
			applog.FieldProjectID, p.ID,
			applog.FieldCount, finalized)
	}
	return list
}

// Reconcile runs the sweep for one project and reports how many spendings
// it finalized.
func (s *SpendingService) Reconcile(ctx context.Context, actorID, projectID string) (int, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return 0, err
	}
	p, err := s.loadProject(ctx, actor, projectID)
	if err != nil {
		return 0, err
	}
	pending, err := s.pendingOf(ctx, p.ID)
	if err != nil {
		return 0, err
	}
	after := s.reconcile(ctx, p, core.ResolveEligibleVoters(p), pending)
	n := 0
	for _, sp := range after {
		if sp.Status != core.StatusPending {
			n++
		}
	}
	return n, nil
}
