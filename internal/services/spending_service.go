package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"coinvest/internal/core"
	applog "coinvest/internal/log"
	"coinvest/internal/ports"
)

// Deps are the collaborators of SpendingService. Inbox may be nil.
//
// Users serves display names and observer lists and may be cached. Accounts
// resolves the acting user's role for every permission check and must read
// the authoritative store; it defaults to Users.
type Deps struct {
	Projects  ports.ProjectStore
	Spendings ports.SpendingStore
	Ledgers   ports.LedgerStore
	Users     ports.UserDirectory
	Accounts  ports.UserDirectory
	Notifier  ports.Notifier
	Inbox     ports.Inbox
}

type Options struct {
	// NotifyTimeout bounds each notification send (default: 5s)
	NotifyTimeout time.Duration

	// BulkConcurrency caps parallel project loads in bulk views (default: 8)
	BulkConcurrency int

	// AnalyticsWindow is the default look-back of Analytics (default: 90 days)
	AnalyticsWindow time.Duration

	Logger *applog.Logger
	Now    func() time.Time
	NewID  func() string
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		NotifyTimeout:   5 * time.Second,
		BulkConcurrency: 8,
		AnalyticsWindow: 90 * 24 * time.Hour,
	}
}

// SpendingService runs the approval engine: it authors spendings, applies
// votes, reconciles pending items on read and builds the summary views.
type SpendingService struct {
	projects  ports.ProjectStore
	spendings ports.SpendingStore
	ledgers   ports.LedgerStore
	users     ports.UserDirectory
	accounts  ports.UserDirectory
	notifier  ports.Notifier
	inbox     ports.Inbox

	opts Options
	log  *applog.Logger
	now  func() time.Time
	id   func() string
}

func NewSpendingService(d Deps, opts Options) *SpendingService {
	def := DefaultOptions()
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = def.NotifyTimeout
	}
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = def.BulkConcurrency
	}
	if opts.AnalyticsWindow <= 0 {
		opts.AnalyticsWindow = def.AnalyticsWindow
	}
	s := &SpendingService{
		projects:  d.Projects,
		spendings: d.Spendings,
		ledgers:   d.Ledgers,
		users:     d.Users,
		accounts:  d.Accounts,
		notifier:  d.Notifier,
		inbox:     d.Inbox,
		opts:      opts,
		log:       opts.Logger,
		now:       opts.Now,
		id:        opts.NewID,
	}
	if s.log == nil {
		s.log = applog.New(applog.DefaultConfig())
	}
	s.log = s.log.WithComponent(applog.ComponentApproval)
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.id == nil {
		s.id = uuid.NewString
	}
	if s.accounts == nil {
		s.accounts = s.users
	}
	return s
}

// CreateSpending validates the input, seeds the author's implicit approval
// and stores the spending. A sole eligible voter approves it immediately.
func (s *SpendingService) CreateSpending(ctx context.Context, actorID string, in core.NewSpending) (core.SpendingView, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return core.SpendingView{}, err
	}
	if err := in.Validate(); err != nil {
		return core.SpendingView{}, err
	}

	p, err := s.loadProject(ctx, actor, in.ProjectID)
	if err != nil {
		return core.SpendingView{}, err
	}
	if actor.IsObserver() {
		return core.SpendingView{}, core.ErrObserverCannotAuthor
	}
	eligible := core.ResolveEligibleVoters(p)
	if !core.IsEligible(eligible, actor.ID) {
		return core.SpendingView{}, core.ErrNotEligibleAuthor
	}

	fundedBy := in.FundedBy
	if fundedBy == "" {
		fundedBy = actor.ID
	}
	if !p.IsMember(fundedBy) {
		return core.SpendingView{}, core.ErrFunderNotMember
	}

	if err := s.checkLedger(ctx, in); err != nil {
		return core.SpendingView{}, err
	}
	now := s.now()
	spentOn := in.SpentOn
	if spentOn.IsZero() {
		spentOn = core.DateOf(now)
	}
	sp := core.Spending{
		ID:          s.id(),
		ProjectID:   p.ID,
		Amount:      in.Amount,
		Category:    in.Category,
		ProductName: in.ProductName,
		PayeeName:   in.PayeeName,
		PayeePlace:  in.PayeePlace,
		LedgerID:    in.LedgerID,
		SubLedger:   in.SubLedger,
		Description: in.Description,
		SpentOn:     spentOn,
		InitiatorID: actor.ID,
		FundedByID:  fundedBy,
		Status:      core.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := core.RecordVote(&sp, displayPerson(p, actor), core.DecisionApproved, now); err != nil {
		return core.SpendingView{}, err
	}
	core.Settle(&sp, eligible, now)

	// Capacity gates creation only; later membership changes never re-check it.
	if err := s.spendings.CreateSpending(ctx, sp, p.FundingTarget); err != nil {
		if errors.Is(err, core.ErrCapacityExceeded) {
			return core.SpendingView{}, core.ErrCapacityExceeded
		}
		return core.SpendingView{}, fmt.Errorf("create spending: %w", err)
	}

	applog.NewStructuredLogger(s.log).LogSpendingCreated(ctx, actor.ID, p.ID, sp.ID, sp.Amount.Cents, string(sp.Status))

	if sp.Status == core.StatusPending {
		var recipients []string
		for _, v := range eligible {
			if v.ID != actor.ID {
				recipients = append(recipients, v.ID)
			}
		}
		recipients = append(recipients, s.observerIDs(ctx)...)
		s.notifyAll(ctx, recipients, kindVoteRequested, p, sp,
			"Approval needed",
			fmt.Sprintf("%s added %s for %s in %s", displayPerson(p, actor).Name, sp.Amount, subject(sp), p.Name))
	}

	return core.Enrich(p, sp, eligible, s.names(ctx, p)), nil
}

// CastVote records voterID's decision on a pending spending and finalizes it
// when the current eligible set is satisfied. Only the voter may cast their
// own vote.
func (s *SpendingService) CastVote(ctx context.Context, actorID, spendingID, voterID string, d core.Decision) (core.SpendingView, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return core.SpendingView{}, err
	}
	if spendingID == "" {
		return core.SpendingView{}, core.ErrInvalidID
	}
	current, err := s.spendings.FindSpending(ctx, spendingID)
	if err != nil {
		return core.SpendingView{}, err
	}
	p, err := s.loadProject(ctx, actor, current.ProjectID)
	if err != nil {
		return core.SpendingView{}, err
	}
	if err := terminalError(current.Status); err != nil {
		return core.SpendingView{}, err
	}
	if actor.IsObserver() {
		return core.SpendingView{}, core.ErrObserverCannotVote
	}
	if !d.Valid() {
		return core.SpendingView{}, core.ErrInvalidDecision
	}
	if voterID == "" {
		voterID = actor.ID
	}
	if voterID != actor.ID {
		return core.SpendingView{}, core.ErrVoterMismatch
	}

	eligible := core.ResolveEligibleVoters(p)
	if !core.IsEligible(eligible, voterID) {
		return core.SpendingView{}, core.ErrNotEligibleVoter
	}
	voter := displayPerson(p, actor)

	updated, err := s.spendings.MutateSpending(ctx, spendingID, func(sp *core.Spending) (bool, error) {
		at := s.now()
		if err := core.RecordVote(sp, voter, d, at); err != nil {
			return false, err
		}
		core.Settle(sp, eligible, at)
		return true, nil
	})
	if err != nil {
		return core.SpendingView{}, err
	}

	applog.NewStructuredLogger(s.log).LogVoteCast(ctx, updated.ID, voterID, string(d), string(updated.Status))

	s.notifyOutcome(ctx, p, updated, voter)

	return core.Enrich(p, updated, eligible, s.names(ctx, p)), nil
}

// Notifications lists the actor's inbox, newest first.
func (s *SpendingService) Notifications(ctx context.Context, actorID string, limit int) ([]ports.Notification, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if s.inbox == nil {
		return []ports.Notification{}, nil
	}
	list, err := s.inbox.ListNotifications(ctx, actor.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if list == nil {
		list = []ports.Notification{}
	}
	return list, nil
}

// resolveActor reads the actor fresh so role checks agree with the eligible
// set, which is always derived from the freshly loaded project.
func (s *SpendingService) resolveActor(ctx context.Context, actorID string) (core.User, error) {
	if actorID == "" {
		return core.User{}, core.ErrUnknownActor
	}
	u, err := s.accounts.FindUser(ctx, actorID)
	if errors.Is(err, core.ErrNotFound) {
		return core.User{}, core.ErrUnknownActor
	}
	if err != nil {
		return core.User{}, fmt.Errorf("find actor: %w", err)
	}
	return u, nil
}

func (s *SpendingService) loadProject(ctx context.Context, actor core.User, projectID string) (core.Project, error) {
	if projectID == "" {
		return core.Project{}, core.ErrInvalidID
	}
	p, err := s.projects.FindProject(ctx, projectID)
	if err != nil {
		return core.Project{}, err
	}
	if !p.HasAccess(actor) {
		return core.Project{}, core.ErrNoProjectAccess
	}
	return p, nil
}

func (s *SpendingService) checkLedger(ctx context.Context, in core.NewSpending) error {
	if in.LedgerID == "" {
		return nil
	}
	l, err := s.ledgers.FindLedger(ctx, in.LedgerID)
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrInvalidLedger
	}
	if err != nil {
		return fmt.Errorf("find ledger: %w", err)
	}
	if l.ProjectID != in.ProjectID {
		return core.ErrInvalidLedger
	}
	return l.ValidateSubLedger(in.SubLedger)
}

func (s *SpendingService) observerIDs(ctx context.Context) []string {
	obs, err := s.users.ListUsersByRole(ctx, core.RoleObserver)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to list observers", applog.FieldError, err)
		return nil
	}
	ids := make([]string, 0, len(obs))
	for _, o := range obs {
		ids = append(ids, o.ID)
	}
	return ids
}

// names resolves display names from the project first, then the directory.
func (s *SpendingService) names(ctx context.Context, p core.Project) core.NameFunc {
	return func(id string) string {
		if id == "" {
			return ""
		}
		if n := p.DisplayName(id); n != "" {
			return n
		}
		if u, err := s.users.FindUser(ctx, id); err == nil {
			return u.Name
		}
		return ""
	}
}

func terminalError(st core.Status) error {
	switch st {
	case core.StatusApproved:
		return core.ErrAlreadyApproved
	case core.StatusRejected:
		return core.ErrAlreadyRejected
	}
	return nil
}

// displayPerson prefers the name the project carries for u.
func displayPerson(p core.Project, u core.User) core.Person {
	if n := p.DisplayName(u.ID); n != "" {
		return core.Person{ID: u.ID, Name: n}
	}
	return u.Person()
}

func subject(sp core.Spending) string {
	if sp.Category == core.CategoryProduct {
		return sp.ProductName
	}
	return sp.PayeeName
}
