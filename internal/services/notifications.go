package services

import (
	"context"
	"fmt"

	"coinvest/internal/core"
	applog "coinvest/internal/log"
	"coinvest/internal/notify"
	"coinvest/internal/ports"
)

// Notification kinds carried in metadata.
const (
	kindVoteRequested = "vote_requested"
	kindVoteCast      = "vote_cast"
	kindApproved      = "spending_approved"
	kindRejected      = "spending_rejected"
	kindAutoApproved  = "spending_auto_approved"
)

// notifyOutcome tells the initiator about a vote, and observers about a
// final decision.
func (s *SpendingService) notifyOutcome(ctx context.Context, p core.Project, sp core.Spending, voter core.Person) {
	switch sp.Status {
	case core.StatusApproved:
		recipients := append([]string{sp.InitiatorID}, s.observerIDs(ctx)...)
		s.notifyAll(ctx, recipients, kindApproved, p, sp,
			"Spending approved",
			fmt.Sprintf("%s for %s in %s was approved", sp.Amount, subject(sp), p.Name))
	case core.StatusRejected:
		recipients := append([]string{sp.InitiatorID}, s.observerIDs(ctx)...)
		s.notifyAll(ctx, recipients, kindRejected, p, sp,
			"Spending rejected",
			fmt.Sprintf("%s rejected %s for %s in %s", voter.Name, sp.Amount, subject(sp), p.Name))
	default:
		if voter.ID == sp.InitiatorID {
			return
		}
		s.notifyAll(ctx, []string{sp.InitiatorID}, kindVoteCast, p, sp,
			"New vote",
			fmt.Sprintf("%s approved %s for %s", voter.Name, sp.Amount, subject(sp)))
	}
}

// notifyAll sends one notification per distinct recipient. Sends are
// synchronous but detached from the caller's cancellation; failures are
// logged and never returned.
func (s *SpendingService) notifyAll(ctx context.Context, recipients []string, kind string, p core.Project, sp core.Spending, title, body string) {
	if s.notifier == nil {
		return
	}
	seen := make(map[string]bool, len(recipients))
	for _, id := range recipients {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		n := ports.Notification{
			RecipientID: id,
			Title:       title,
			Body:        body,
			Metadata: map[string]string{
				notify.MetaKind: kind,
				"project_id":    p.ID,
				"spending_id":   sp.ID,
				"status":        string(sp.Status),
			},
			CreatedAt: s.now(),
		}
		s.send(ctx, n)
	}
}

func (s *SpendingService) send(ctx context.Context, n ports.Notification) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)
	defer cancel()

	delivered, err := s.safeNotify(nctx, n)
	if err != nil {
		s.log.WarnContext(ctx, "Notification failed",
			applog.FieldRecipientID, n.RecipientID,
			applog.FieldSpendingID, n.Metadata["spending_id"],
			"kind", n.Metadata[notify.MetaKind],
			applog.FieldError, err)
		return
	}
	s.log.DebugContext(ctx, "Notification sent",
		applog.FieldRecipientID, n.RecipientID,
		"kind", n.Metadata[notify.MetaKind],
		"delivered", delivered)
}

// safeNotify turns a panicking notifier into an error.
func (s *SpendingService) safeNotify(ctx context.Context, n ports.Notification) (delivered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return s.notifier.Notify(ctx, n)
}
