package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"coinvest/internal/cache"
	"coinvest/internal/core"
	applog "coinvest/internal/log"
	"coinvest/internal/memory"
	"coinvest/internal/ports"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []ports.Notification
	err   error
	panic bool
}

func (r *recordingNotifier) Notify(_ context.Context, n ports.Notification) (bool, error) {
	if r.panic {
		panic("notifier exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	if r.err != nil {
		return false, r.err
	}
	return true, nil
}

func (r *recordingNotifier) recipients(kind string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		if n.Metadata["kind"] == kind {
			out = append(out, n.RecipientID)
		}
	}
	return out
}

type fixture struct {
	store    *memory.Store
	notifier *recordingNotifier
	svc      *SpendingService

	mu    sync.Mutex
	clock time.Time
	seq   int
}

func (f *fixture) tick() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fixture) nextID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("s%d", f.seq)
}

func quietLogger() *applog.Logger {
	cfg := applog.DefaultConfig()
	cfg.Output = io.Discard
	return applog.New(cfg)
}

// newFixture builds project p1 with creator u1, active u2 and u3, passive u4
// and observer o1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		notifier: &recordingNotifier{},
		clock:    time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.store.Load(memory.Seed{
		Users: []core.User{
			{ID: "u1", Name: "Asha", Role: core.RoleInvestor},
			{ID: "u2", Name: "Bilal", Role: core.RoleInvestor},
			{ID: "u3", Name: "Chen", Role: core.RoleInvestor},
			{ID: "u4", Name: "Dara", Role: core.RoleInvestor},
			{ID: "o1", Name: "Auditor", Role: core.RoleObserver},
			{ID: "x9", Name: "Stranger", Role: core.RoleInvestor},
		},
		Projects: []memory.SeedProject{{
			ID: "p1", Name: "Farmhouse", CreatorID: "u1", FundingTargetCents: 100000,
			Members: []memory.SeedMember{
				{UserID: "u2", Role: core.MemberActive},
				{UserID: "u3", Role: core.MemberActive},
				{UserID: "u4", Role: core.MemberPassive},
			},
		}},
		Ledgers: []core.Ledger{
			{ID: "l1", ProjectID: "p1", Name: "Construction", SubLedgers: []string{"Cement", "Steel"}},
			{ID: "l9", ProjectID: "other", Name: "Elsewhere"},
		},
	})
	f.svc = NewSpendingService(Deps{
		Projects:  f.store,
		Spendings: f.store,
		Ledgers:   f.store,
		Users:     f.store,
		Notifier:  f.notifier,
		Inbox:     f.store,
	}, Options{
		Logger: quietLogger(),
		Now:    f.tick,
		NewID:  f.nextID,
	})
	return f
}

func (f *fixture) setMembers(t *testing.T, members ...core.Membership) {
	t.Helper()
	p, err := f.store.FindProject(context.Background(), "p1")
	if err != nil {
		t.Fatalf("find project: %v", err)
	}
	p.Members = members
	if err := f.store.SaveProject(context.Background(), p); err != nil {
		t.Fatalf("save project: %v", err)
	}
}

func product(cents int64) core.NewSpending {
	return core.NewSpending{
		ProjectID:   "p1",
		Amount:      core.Money{Cents: cents},
		Category:    core.CategoryProduct,
		ProductName: "Cement bags",
		SpentOn:     core.NewDate(2025, 3, 9),
	}
}

func ids(people []core.Person) []string {
	out := make([]string, len(people))
	for i, p := range people {
		out[i] = p.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScenarioA_UnanimousApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.CreateSpending(ctx, "u1", product(50000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.Status != core.StatusPending {
		t.Fatalf("status = %s, want pending", v.Status)
	}
	if got := ids(v.Approval.ApprovedBy); !equal(got, []string{"u1"}) {
		t.Fatalf("approvedBy = %v", got)
	}
	if v.Approval.RequiredCount != 3 {
		t.Fatalf("requiredCount = %d, want 3", v.Approval.RequiredCount)
	}
	if got := f.notifier.recipients(kindVoteRequested); !equal(got, []string{"u2", "u3", "o1"}) {
		t.Fatalf("vote requests sent to %v", got)
	}

	v, err = f.svc.CastVote(ctx, "u2", v.ID, "u2", core.DecisionApproved)
	if err != nil {
		t.Fatalf("vote u2: %v", err)
	}
	if v.Status != core.StatusPending || v.Approval.ApprovedCount != 2 || v.Approval.PendingCount != 1 {
		t.Fatalf("after u2: %s %d/%d", v.Status, v.Approval.ApprovedCount, v.Approval.RequiredCount)
	}

	v, err = f.svc.CastVote(ctx, "u3", v.ID, "", core.DecisionApproved)
	if err != nil {
		t.Fatalf("vote u3: %v", err)
	}
	if v.Status != core.StatusApproved {
		t.Fatalf("status = %s, want approved", v.Status)
	}
	if got := f.notifier.recipients(kindApproved); !equal(got, []string{"u1", "o1"}) {
		t.Fatalf("approval notices sent to %v", got)
	}

	_, err = f.svc.CastVote(ctx, "u2", v.ID, "u2", core.DecisionRejected)
	if !errors.Is(err, core.ErrAlreadyApproved) || !errors.Is(err, core.ErrConflict) {
		t.Fatalf("vote on approved spending: %v", err)
	}
}

func TestScenarioB_SingleRejectionVetoes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, _ := f.svc.CreateSpending(ctx, "u1", product(50000))
	v, err := f.svc.CastVote(ctx, "u2", v.ID, "u2", core.DecisionRejected)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if v.Status != core.StatusRejected {
		t.Fatalf("status = %s, want rejected", v.Status)
	}
	if got := ids(v.Approval.RejectedBy); !equal(got, []string{"u2"}) {
		t.Fatalf("rejectedBy = %v", got)
	}

	_, err = f.svc.CastVote(ctx, "u3", v.ID, "u3", core.DecisionApproved)
	if !errors.Is(err, core.ErrAlreadyRejected) {
		t.Fatalf("vote after veto: %v", err)
	}
	stored, _ := f.store.FindSpending(ctx, v.ID)
	if _, voted := stored.Votes["u3"]; voted {
		t.Fatal("vote ledger changed after terminal status")
	}
}

func TestScenarioC_DemotionReconciledOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setMembers(t, core.Membership{User: core.User{ID: "u2"}, Role: core.MemberActive})

	v, err := f.svc.CreateSpending(ctx, "u1", product(1000))
	if err != nil || v.Status != core.StatusPending {
		t.Fatalf("create: %v %v", v.Status, err)
	}

	// u2 is demoted before voting.
	f.setMembers(t, core.Membership{User: core.User{ID: "u2"}, Role: core.MemberPassive})

	list, err := f.svc.ListSpendings(ctx, "u1", "p1", ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Status != core.StatusApproved {
		t.Fatalf("expected auto-approval, got %+v", list)
	}
	if list[0].Approval.RequiredCount != 1 || list[0].TrackedOwner.ID != "u1" {
		t.Fatalf("view: %+v", list[0].Approval)
	}
	stored, _ := f.store.FindSpending(ctx, v.ID)
	if stored.Status != core.StatusApproved {
		t.Fatal("reconciled status not persisted")
	}
	if got := f.notifier.recipients(kindAutoApproved); !equal(got, []string{"u1"}) {
		t.Fatalf("auto-approval notice sent to %v", got)
	}
}

func TestScenarioD_NegativeAmountRejectedBeforePersistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSpending(ctx, "u1", product(-1000))
	if !errors.Is(err, core.ErrInvalidAmount) || !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	list, _ := f.store.ListSpendings(ctx, "p1", ports.SpendingFilter{})
	if len(list) != 0 {
		t.Fatal("nothing should have been persisted")
	}
}

func TestScenarioE_ObserverCannotVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, _ := f.svc.CreateSpending(ctx, "u1", product(1000))
	_, err := f.svc.CastVote(ctx, "o1", v.ID, "o1", core.DecisionApproved)
	if !errors.Is(err, core.ErrObserverCannotVote) || !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	stored, _ := f.store.FindSpending(ctx, v.ID)
	if len(stored.Votes) != 1 || stored.Version != 0 {
		t.Fatalf("vote ledger changed: %+v", stored.Votes)
	}
}

func TestCreateSpending_Validation(t *testing.T) {
	tests := []struct {
		name  string
		actor string
		edit  func(n *core.NewSpending)
		want  error
	}{
		{"unknown actor", "nobody", func(n *core.NewSpending) {}, core.ErrUnknownActor},
		{"empty actor", "", func(n *core.NewSpending) {}, core.ErrUnknownActor},
		{"observer", "o1", func(n *core.NewSpending) {}, core.ErrObserverCannotAuthor},
		{"passive member", "u4", func(n *core.NewSpending) {}, core.ErrNotEligibleAuthor},
		{"stranger", "x9", func(n *core.NewSpending) {}, core.ErrNoProjectAccess},
		{"missing project", "u1", func(n *core.NewSpending) { n.ProjectID = "zz" }, core.ErrProjectNotFound},
		{"product without name", "u1", func(n *core.NewSpending) { n.ProductName = " " }, core.ErrMissingProductName},
		{"service without place", "u1", func(n *core.NewSpending) {
			n.Category = core.CategoryService
			n.PayeeName = "Ravi"
		}, core.ErrMissingPayee},
		{"funder not member", "u1", func(n *core.NewSpending) { n.FundedBy = "x9" }, core.ErrFunderNotMember},
		{"unknown ledger", "u1", func(n *core.NewSpending) { n.LedgerID = "nope" }, core.ErrInvalidLedger},
		{"ledger of another project", "u1", func(n *core.NewSpending) { n.LedgerID = "l9" }, core.ErrInvalidLedger},
		{"sub-ledger outside catalog", "u1", func(n *core.NewSpending) {
			n.LedgerID = "l1"
			n.SubLedger = "Wood"
		}, core.ErrInvalidSubLedger},
		{"over capacity", "u1", func(n *core.NewSpending) { n.Amount = core.Money{Cents: 100001} }, core.ErrCapacityExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := product(1000)
			tt.edit(&in)
			_, err := f.svc.CreateSpending(context.Background(), tt.actor, in)
			if !errors.Is(err, tt.want) {
				t.Errorf("CreateSpending() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateSpending_CapacityCountsAllStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.CreateSpending(ctx, "u1", product(60000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.CastVote(ctx, "u2", v.ID, "u2", core.DecisionRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.svc.CreateSpending(ctx, "u1", product(40001)); !errors.Is(err, core.ErrCapacityExceeded) {
		t.Fatalf("rejected spend should still count, got %v", err)
	}
	if _, err := f.svc.CreateSpending(ctx, "u1", product(40000)); err != nil {
		t.Fatalf("exactly at target should pass: %v", err)
	}
}

func TestCreateSpending_SoleVoterAutoApproves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setMembers(t,
		core.Membership{User: core.User{ID: "u4"}, Role: core.MemberPassive},
		core.Membership{User: core.User{ID: "o1"}, Role: core.MemberActive},
	)

	in := product(1000)
	in.LedgerID = "l1"
	in.SubLedger = "Steel"
	in.FundedBy = "u4"
	v, err := f.svc.CreateSpending(ctx, "u1", in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.Status != core.StatusApproved {
		t.Fatalf("status = %s, want approved", v.Status)
	}
	if v.TrackedOwner.ID != "u4" || v.FundedBy.Name != "Dara" {
		t.Fatalf("tracked owner = %+v", v.TrackedOwner)
	}
	if len(f.notifier.recipients(kindVoteRequested)) != 0 {
		t.Fatal("no vote requests expected for a sole voter")
	}
}

func TestCreateSpending_NotificationFailureIsSwallowed(t *testing.T) {
	for _, n := range []*recordingNotifier{{err: errors.New("broker down")}, {panic: true}} {
		f := newFixture(t)
		f.svc.notifier = n
		ctx := context.Background()

		v, err := f.svc.CreateSpending(ctx, "u1", product(1000))
		if err != nil {
			t.Fatalf("create must succeed despite notifier failure: %v", err)
		}
		if _, err := f.svc.CastVote(ctx, "u2", v.ID, "u2", core.DecisionRejected); err != nil {
			t.Fatalf("vote must succeed despite notifier failure: %v", err)
		}
	}
}

func TestCastVote_Permissions(t *testing.T) {
	tests := []struct {
		name  string
		actor string
		voter string
		dec   core.Decision
		setup func(t *testing.T, f *fixture)
		want  error
	}{
		{"missing spending", "u2", "u2", core.DecisionApproved, nil, core.ErrSpendingNotFound},
		{"voting for someone else", "u2", "u3", core.DecisionApproved, nil, core.ErrVoterMismatch},
		{"passive member", "u4", "u4", core.DecisionApproved, nil, core.ErrNotEligibleVoter},
		{"invalid decision", "u2", "u2", core.Decision("maybe"), nil, core.ErrInvalidDecision},
		{"stranger", "x9", "x9", core.DecisionApproved, nil, core.ErrNoProjectAccess},
		{"demoted after creation", "u3", "u3", core.DecisionApproved, func(t *testing.T, f *fixture) {
			f.setMembers(t,
				core.Membership{User: core.User{ID: "u2"}, Role: core.MemberActive},
				core.Membership{User: core.User{ID: "u3"}, Role: core.MemberPassive},
			)
		}, core.ErrNotEligibleVoter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			v, err := f.svc.CreateSpending(ctx, "u1", product(1000))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if tt.setup != nil {
				tt.setup(t, f)
			}
			id := v.ID
			if errors.Is(tt.want, core.ErrSpendingNotFound) {
				id = "missing"
			}
			_, err = f.svc.CastVote(ctx, tt.actor, id, tt.voter, tt.dec)
			if !errors.Is(err, tt.want) {
				t.Errorf("CastVote() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCastVote_RevoteOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, _ := f.svc.CreateSpending(ctx, "u1", product(1000))

	// The initiator re-approving must not double count.
	v, err := f.svc.CastVote(ctx, "u1", v.ID, "u1", core.DecisionApproved)
	if err != nil {
		t.Fatalf("revote: %v", err)
	}
	if v.Approval.ApprovedCount != 1 || len(v.Votes) != 1 {
		t.Fatalf("double counted: %+v", v.Approval)
	}
	if len(v.Voters) != 1 || v.Voters[0].Voter.Name != "Asha" {
		t.Fatalf("voters = %+v", v.Voters)
	}
}

func TestCastVote_ConcurrentApprovalsFinalizeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, _ := f.svc.CreateSpending(ctx, "u1", product(1000))

	var wg sync.WaitGroup
	for _, id := range []string{"u2", "u3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.svc.CastVote(ctx, id, v.ID, id, core.DecisionApproved); err != nil {
				t.Errorf("vote %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	stored, _ := f.store.FindSpending(ctx, v.ID)
	if stored.Status != core.StatusApproved || len(stored.Votes) != 3 {
		t.Fatalf("status %s votes %d", stored.Status, len(stored.Votes))
	}
	if got := f.notifier.recipients(kindApproved); len(got) != 2 {
		t.Fatalf("approval should be announced once per recipient, got %v", got)
	}
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.notifier = nil
	_ = f.store.SaveNotification(ctx, ports.Notification{RecipientID: "u2", Title: "hello"})

	list, err := f.svc.Notifications(ctx, "u2", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("Notifications() = %v, %v", list, err)
	}
	if _, err := f.svc.Notifications(ctx, "ghost", 10); !errors.Is(err, core.ErrUnknownActor) {
		t.Fatalf("expected unknown actor, got %v", err)
	}
}

// gatedProjects holds FindProject until n callers are waiting, so
// concurrent requests pass the read-only checks together.
type gatedProjects struct {
	ports.ProjectStore

	mu      sync.Mutex
	waiting int
	n       int
	open    chan struct{}
}

func newGatedProjects(next ports.ProjectStore, n int) *gatedProjects {
	return &gatedProjects{ProjectStore: next, n: n, open: make(chan struct{})}
}

func (g *gatedProjects) FindProject(ctx context.Context, id string) (core.Project, error) {
	g.mu.Lock()
	g.waiting++
	if g.waiting == g.n {
		close(g.open)
	}
	g.mu.Unlock()
	<-g.open
	return g.ProjectStore.FindProject(ctx, id)
}

func TestCreateSpending_ConcurrentCreatesRespectCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewSpendingService(Deps{
		Projects:  newGatedProjects(f.store, 2),
		Spendings: f.store,
		Ledgers:   f.store,
		Users:     f.store,
		Notifier:  f.notifier,
		Inbox:     f.store,
	}, Options{Logger: quietLogger(), Now: f.tick, NewID: f.nextID})

	errs := make(chan error, 2)
	for _, actor := range []string{"u1", "u2"} {
		go func(actor string) {
			_, err := svc.CreateSpending(ctx, actor, product(60000))
			errs <- err
		}(actor)
	}
	var created, refused int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			created++
		case errors.Is(err, core.ErrCapacityExceeded):
			refused++
		default:
			t.Fatalf("create: %v", err)
		}
	}
	if created != 1 || refused != 1 {
		t.Fatalf("created %d, refused %d; want one of each", created, refused)
	}
	if sum, _ := f.store.SumProjectSpend(ctx, "p1"); sum.Cents != 60000 {
		t.Fatalf("project spend = %d, want 60000", sum.Cents)
	}
}

// newCachedFixture wires the directory cache in front of display lookups the
// way the backend does, with roles read from the store.
func newCachedFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.svc = NewSpendingService(Deps{
		Projects:  f.store,
		Spendings: f.store,
		Ledgers:   f.store,
		Users:     cache.NewDirectory(f.store, 256, 5*time.Minute),
		Accounts:  f.store,
		Notifier:  f.notifier,
		Inbox:     f.store,
	}, Options{Logger: quietLogger(), Now: f.tick, NewID: f.nextID})
	return f
}

func TestCastVote_RoleChangeSeenDespiteCache(t *testing.T) {
	ctx := context.Background()

	t.Run("observer promoted to active member", func(t *testing.T) {
		f := newCachedFixture(t)
		v, err := f.svc.CreateSpending(ctx, "u1", product(1000))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		// Warm the cache with o1 as an observer.
		if _, err := f.svc.ListSpendings(ctx, "o1", "p1", ListFilter{}); err != nil {
			t.Fatalf("list as observer: %v", err)
		}
		if _, err := f.svc.CastVote(ctx, "o1", v.ID, "o1", core.DecisionApproved); !errors.Is(err, core.ErrObserverCannotVote) {
			t.Fatalf("observer vote: %v", err)
		}

		if err := f.store.SaveUser(ctx, core.User{ID: "o1", Name: "Auditor", Role: core.RoleInvestor}); err != nil {
			t.Fatalf("save user: %v", err)
		}
		f.setMembers(t,
			core.Membership{User: core.User{ID: "u2"}, Role: core.MemberActive},
			core.Membership{User: core.User{ID: "u3"}, Role: core.MemberActive},
			core.Membership{User: core.User{ID: "o1"}, Role: core.MemberActive},
		)

		views, err := f.svc.ListSpendings(ctx, "u1", "p1", ListFilter{})
		if err != nil || len(views) != 1 {
			t.Fatalf("list: %v %v", views, err)
		}
		if !contains(ids(views[0].Approval.WaitingFor), "o1") {
			t.Fatalf("o1 should be waited for: %+v", views[0].Approval)
		}
		got, err := f.svc.CastVote(ctx, "o1", v.ID, "o1", core.DecisionApproved)
		if err != nil {
			t.Fatalf("promoted member vote: %v", err)
		}
		if got.Approval.ApprovedCount != 2 {
			t.Errorf("approved = %d, want 2", got.Approval.ApprovedCount)
		}
	})

	t.Run("member demoted to observer", func(t *testing.T) {
		f := newCachedFixture(t)
		v, err := f.svc.CreateSpending(ctx, "u1", product(1000))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := f.svc.ListSpendings(ctx, "u2", "p1", ListFilter{}); err != nil {
			t.Fatalf("warm cache: %v", err)
		}
		if err := f.store.SaveUser(ctx, core.User{ID: "u2", Name: "Bilal", Role: core.RoleObserver}); err != nil {
			t.Fatalf("save user: %v", err)
		}
		if _, err := f.svc.CastVote(ctx, "u2", v.ID, "u2", core.DecisionApproved); !errors.Is(err, core.ErrObserverCannotVote) {
			t.Fatalf("demoted member vote: %v", err)
		}
	})
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
