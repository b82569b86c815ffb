// Package ports declares the outbound collaborators of the approval engine.
package ports

import (
	"context"
	"time"

	"coinvest/internal/core"
)

type (
	// ProjectStore is authoritative for membership and roles. The engine only reads.
	ProjectStore interface {
		FindProject(ctx context.Context, id string) (core.Project, error)
		// FindAccessibleProjects returns every project actor may read.
		FindAccessibleProjects(ctx context.Context, actor core.User) ([]core.Project, error)
	}

	// ProjectWriter is used by seeding and admin tooling, never by the engine.
	ProjectWriter interface {
		SaveProject(ctx context.Context, p core.Project) error
	}

	// MutateFunc changes a spending in place and reports whether it changed.
	// Returning false skips the write.
	MutateFunc func(s *core.Spending) (changed bool, err error)

	SpendingStore interface {
		// CreateSpending stores s atomically with the capacity check: it fails
		// with core.ErrCapacityExceeded when the project's spend in every status
		// plus s would pass limit. A zero limit is uncapped.
		CreateSpending(ctx context.Context, s core.Spending, limit core.Money) error
		FindSpending(ctx context.Context, id string) (core.Spending, error)
		ListSpendings(ctx context.Context, projectID string, f SpendingFilter) ([]core.Spending, error)
		// MutateSpending applies fn atomically to one spending: two concurrent
		// calls never observe the same pre-update state.
		MutateSpending(ctx context.Context, id string, fn MutateFunc) (core.Spending, error)
		// SumProjectSpend totals every spending of the project, all statuses.
		SumProjectSpend(ctx context.Context, projectID string) (core.Money, error)
		// TotalsByStatus aggregates count and amount per status.
		TotalsByStatus(ctx context.Context, projectID string) (core.StatusBreakdown, error)
	}

	LedgerStore interface {
		FindLedger(ctx context.Context, id string) (core.Ledger, error)
	}

	UserDirectory interface {
		FindUser(ctx context.Context, id string) (core.User, error)
		ListUsersByRole(ctx context.Context, role core.AccountRole) ([]core.User, error)
	}

	// Notifier delivers a message to one recipient. Delivery is best effort.
	Notifier interface {
		Notify(ctx context.Context, n Notification) (delivered bool, err error)
	}

	// Inbox stores delivered notifications for in-app listing.
	Inbox interface {
		SaveNotification(ctx context.Context, n Notification) error
		ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error)
	}
)

// SpendingFilter narrows ListSpendings. Zero values match everything.
type SpendingFilter struct {
	Status core.Status
	From   core.Date
	To     core.Date
}

// Match reports whether s passes the filter.
func (f SpendingFilter) Match(s core.Spending) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && s.SpentOn.Before(f.From.Time) {
		return false
	}
	if !f.To.IsZero() && s.SpentOn.After(f.To.Time) {
		return false
	}
	return true
}

type Notification struct {
	RecipientID string            `json:"recipient_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
