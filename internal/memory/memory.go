// Package memory is an in-process backend used for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"coinvest/internal/core"
	"coinvest/internal/ports"
)

// Ensure interface conformance
var (
	_ ports.ProjectStore  = (*Store)(nil)
	_ ports.ProjectWriter = (*Store)(nil)
	_ ports.SpendingStore = (*Store)(nil)
	_ ports.LedgerStore   = (*Store)(nil)
	_ ports.UserDirectory = (*Store)(nil)
	_ ports.Inbox         = (*Store)(nil)
)

// Store keeps everything in maps guarded by a single mutex. Spending
// mutations run under that mutex, which gives the per-document isolation the
// vote path relies on.
type Store struct {
	mu            sync.Mutex
	users         map[string]core.User
	projects      map[string]core.Project
	ledgers       map[string]core.Ledger
	spendings     map[string]core.Spending
	notifications []ports.Notification
}

func New() *Store {
	return &Store{
		users:     make(map[string]core.User),
		projects:  make(map[string]core.Project),
		ledgers:   make(map[string]core.Ledger),
		spendings: make(map[string]core.Spending),
	}
}

// Seed is the on-disk format of data/seed.json.
type Seed struct {
	Users    []core.User   `json:"users"`
	Projects []SeedProject `json:"projects"`
	Ledgers  []core.Ledger `json:"ledgers"`
}

type SeedProject struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	CreatorID          string       `json:"creator_id"`
	FundingTargetCents int64        `json:"funding_target_cents"`
	Members            []SeedMember `json:"members"`
}

type SeedMember struct {
	UserID string          `json:"user_id"`
	Role   core.MemberRole `json:"role"`
}

// ReadSeed parses the seed file at path.
func ReadSeed(path string) (Seed, error) {
	var seed Seed
	b, err := os.ReadFile(path)
	if err != nil {
		return seed, err
	}
	if err := json.Unmarshal(b, &seed); err != nil {
		return seed, fmt.Errorf("parse %s: %w", path, err)
	}
	return seed, nil
}

// Project converts the seed entry. Members carry only their ids; stores
// resolve the rest from the user directory.
func (sp SeedProject) Project() core.Project {
	p := core.Project{
		ID:            sp.ID,
		Name:          sp.Name,
		Creator:       core.User{ID: sp.CreatorID},
		FundingTarget: core.Money{Cents: sp.FundingTargetCents},
	}
	for _, m := range sp.Members {
		p.Members = append(p.Members, core.Membership{User: core.User{ID: m.UserID}, Role: m.Role})
	}
	return p
}

// NewFromFiles loads base/seed.json when present; a missing file yields an
// empty store.
func NewFromFiles(base string) *Store {
	s := New()
	path := filepath.Join(base, "seed.json")
	seed, err := ReadSeed(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to load seed file", "path", path, "error", err)
		}
		return s
	}
	s.Load(seed)
	return s
}

// Load inserts the seed data, replacing entries with the same ids.
func (s *Store) Load(seed Seed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range seed.Users {
		s.users[u.ID] = u
	}
	for _, sp := range seed.Projects {
		s.projects[sp.ID] = sp.Project()
	}
	for _, l := range seed.Ledgers {
		s.ledgers[l.ID] = l
	}
}

func (s *Store) SaveUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) SaveProject(_ context.Context, p core.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Members = append([]core.Membership(nil), p.Members...)
	s.projects[p.ID] = p
	return nil
}

func (s *Store) SaveLedger(_ context.Context, l core.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[l.ID] = l
	return nil
}

func (s *Store) FindProject(_ context.Context, id string) (core.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return core.Project{}, core.ErrProjectNotFound
	}
	return s.hydrate(p), nil
}

func (s *Store) FindAccessibleProjects(_ context.Context, actor core.User) ([]core.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Project
	for _, p := range s.projects {
		p = s.hydrate(p)
		if p.HasAccess(actor) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// hydrate fills user names and account roles from the directory so role
// changes are visible immediately.
func (s *Store) hydrate(p core.Project) core.Project {
	if u, ok := s.users[p.Creator.ID]; ok {
		p.Creator = u
	}
	members := make([]core.Membership, len(p.Members))
	for i, m := range p.Members {
		if u, ok := s.users[m.User.ID]; ok {
			m.User = u
		}
		members[i] = m
	}
	p.Members = members
	return p
}

func (s *Store) FindUser(_ context.Context, id string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) ListUsersByRole(_ context.Context, role core.AccountRole) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.User
	for _, u := range s.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindLedger(_ context.Context, id string) (core.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[id]
	if !ok {
		return core.Ledger{}, core.ErrLedgerNotFound
	}
	return l, nil
}

// CreateSpending stores sp unless the project's cumulative spend would pass
// limit. A zero limit is uncapped.
func (s *Store) CreateSpending(_ context.Context, sp core.Spending, limit core.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.spendings[sp.ID]; exists {
		return fmt.Errorf("spending %s already exists", sp.ID)
	}
	if limit.Cents > 0 && s.sumLocked(sp.ProjectID).Add(sp.Amount).Cents > limit.Cents {
		return core.ErrCapacityExceeded
	}
	s.spendings[sp.ID] = sp.Clone()
	return nil
}

func (s *Store) FindSpending(_ context.Context, id string) (core.Spending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spendings[id]
	if !ok {
		return core.Spending{}, core.ErrSpendingNotFound
	}
	return sp.Clone(), nil
}

func (s *Store) ListSpendings(_ context.Context, projectID string, f ports.SpendingFilter) ([]core.Spending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Spending
	for _, sp := range s.spendings {
		if sp.ProjectID != projectID || !f.Match(sp) {
			continue
		}
		out = append(out, sp.Clone())
	}
	sortSpendings(out)
	return out, nil
}

func (s *Store) MutateSpending(_ context.Context, id string, fn ports.MutateFunc) (core.Spending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spendings[id]
	if !ok {
		return core.Spending{}, core.ErrSpendingNotFound
	}
	work := sp.Clone()
	changed, err := fn(&work)
	if err != nil {
		return core.Spending{}, err
	}
	if !changed {
		return sp.Clone(), nil
	}
	work.Version = sp.Version + 1
	s.spendings[id] = work
	return work.Clone(), nil
}

func (s *Store) SumProjectSpend(_ context.Context, projectID string) (core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumLocked(projectID), nil
}

func (s *Store) sumLocked(projectID string) core.Money {
	var total core.Money
	for _, sp := range s.spendings {
		if sp.ProjectID == projectID {
			total = total.Add(sp.Amount)
		}
	}
	return total
}

func (s *Store) TotalsByStatus(_ context.Context, projectID string) (core.StatusBreakdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b core.StatusBreakdown
	for _, sp := range s.spendings {
		if sp.ProjectID == projectID {
			b.Add(sp.Status, sp.Amount)
		}
	}
	return b, nil
}

func (s *Store) SaveNotification(_ context.Context, n ports.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

// ListNotifications returns the newest notifications first.
func (s *Store) ListNotifications(_ context.Context, recipientID string, limit int) ([]ports.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.RecipientID != recipientID {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func sortSpendings(in []core.Spending) {
	sort.Slice(in, func(i, j int) bool {
		if !in[i].CreatedAt.Equal(in[j].CreatedAt) {
			return in[i].CreatedAt.Before(in[j].CreatedAt)
		}
		return in[i].ID < in[j].ID
	})
}
