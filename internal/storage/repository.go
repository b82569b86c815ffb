package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coinvest/internal/core"
	"coinvest/internal/ports"

	_ "modernc.org/sqlite"
)

// maxMutateAttempts bounds the optimistic retry loop of MutateSpending.
const maxMutateAttempts = 5

const timeLayout = time.RFC3339Nano

// Ensure interface conformance
var (
	_ ports.ProjectStore  = (*SQLiteRepository)(nil)
	_ ports.ProjectWriter = (*SQLiteRepository)(nil)
	_ ports.SpendingStore = (*SQLiteRepository)(nil)
	_ ports.LedgerStore   = (*SQLiteRepository)(nil)
	_ ports.UserDirectory = (*SQLiteRepository)(nil)
	_ ports.Inbox         = (*SQLiteRepository)(nil)
)

type SQLiteRepository struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("SQLite schema ready", "component", "storage", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SaveUser inserts or replaces a directory entry.
func (r *SQLiteRepository) SaveUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, role) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role`,
		u.ID, u.Name, string(u.Role))
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) FindUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	var role string
	err := r.db.QueryRowContext(ctx, `SELECT id, name, role FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Name, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	u.Role = core.AccountRole(role)
	return u, nil
}

func (r *SQLiteRepository) ListUsersByRole(ctx context.Context, role core.AccountRole) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, role FROM users WHERE role = ? ORDER BY id`, string(role))
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()
	var out []core.User
	for rows.Next() {
		var u core.User
		var rl string
		if err := rows.Scan(&u.ID, &u.Name, &rl); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = core.AccountRole(rl)
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveProject replaces the project row and its membership list.
func (r *SQLiteRepository) SaveProject(ctx context.Context, p core.Project) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, name, creator_id, funding_target_cents, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, creator_id = excluded.creator_id,
		   funding_target_cents = excluded.funding_target_cents`,
		p.ID, p.Name, p.Creator.ID, p.FundingTarget.Cents, createdAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = ?`, p.ID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	for i, m := range p.Members {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO project_members (project_id, position, user_id, role) VALUES (?, ?, ?, ?)`,
			p.ID, i, m.User.ID, string(m.Role))
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) FindProject(ctx context.Context, id string) (core.Project, error) {
	var p core.Project
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT p.id, p.name, p.funding_target_cents, p.created_at,
		        p.creator_id, COALESCE(u.name, ''), COALESCE(u.role, 'investor')
		   FROM projects p LEFT JOIN users u ON u.id = p.creator_id
		  WHERE p.id = ?`, id).
		Scan(&p.ID, &p.Name, &p.FundingTarget.Cents, &createdAt, &p.Creator.ID, &p.Creator.Name, &p.Creator.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Project{}, core.ErrProjectNotFound
	}
	if err != nil {
		return core.Project{}, fmt.Errorf("get project: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)

	members, err := r.projectMembers(ctx, p.ID)
	if err != nil {
		return core.Project{}, err
	}
	p.Members = members
	return p, nil
}

func (r *SQLiteRepository) projectMembers(ctx context.Context, projectID string) ([]core.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.user_id, m.role, COALESCE(u.name, ''), COALESCE(u.role, 'investor')
		   FROM project_members m LEFT JOIN users u ON u.id = m.user_id
		  WHERE m.project_id = ?
		  ORDER BY m.position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()
	var out []core.Membership
	for rows.Next() {
		var m core.Membership
		var role, accountRole string
		if err := rows.Scan(&m.User.ID, &role, &m.User.Name, &accountRole); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = core.MemberRole(role)
		m.User.Role = core.AccountRole(accountRole)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) FindAccessibleProjects(ctx context.Context, actor core.User) ([]core.Project, error) {
	query := `SELECT id FROM projects ORDER BY id`
	args := []any{}
	if !actor.IsObserver() {
		query = `SELECT id FROM projects
		          WHERE creator_id = ?
		             OR id IN (SELECT project_id FROM project_members WHERE user_id = ?)
		          ORDER BY id`
		args = append(args, actor.ID, actor.ID)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accessible projects: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]core.Project, 0, len(ids))
	for _, id := range ids {
		p, err := r.FindProject(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *SQLiteRepository) SaveLedger(ctx context.Context, l core.Ledger) error {
	subs, err := json.Marshal(nonNil(l.SubLedgers))
	if err != nil {
		return fmt.Errorf("encode sub-ledgers: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO ledgers (id, project_id, name, sub_ledgers) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, name = excluded.name,
		   sub_ledgers = excluded.sub_ledgers`,
		l.ID, l.ProjectID, l.Name, string(subs))
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) FindLedger(ctx context.Context, id string) (core.Ledger, error) {
	var l core.Ledger
	var subs string
	err := r.db.QueryRowContext(ctx, `SELECT id, project_id, name, sub_ledgers FROM ledgers WHERE id = ?`, id).
		Scan(&l.ID, &l.ProjectID, &l.Name, &subs)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Ledger{}, core.ErrLedgerNotFound
	}
	if err != nil {
		return core.Ledger{}, fmt.Errorf("get ledger: %w", err)
	}
	if err := json.Unmarshal([]byte(subs), &l.SubLedgers); err != nil {
		return core.Ledger{}, fmt.Errorf("decode sub-ledgers: %w", err)
	}
	return l, nil
}

// CreateSpending inserts s unless the project's cumulative spend would pass
// limit. The sum and the insert are one statement, so concurrent creates
// cannot both slip under the cap. A zero limit is uncapped.
func (r *SQLiteRepository) CreateSpending(ctx context.Context, s core.Spending, limit core.Money) error {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		retry, err := r.createOnce(ctx, s, limit)
		if err != nil {
			return err
		}
		if !retry {
			slog.InfoContext(ctx, "Spending saved to SQLite",
				"id", s.ID,
				"project_id", s.ProjectID,
				"amount_cents", s.Amount.Cents,
				"status", s.Status)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return core.ErrConcurrentUpdate
}

func (r *SQLiteRepository) createOnce(ctx context.Context, s core.Spending, limit core.Money) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO spendings (id, project_id, amount_cents, category, product_name, payee_name, payee_place,
		   ledger_id, sub_ledger, description, spent_on, initiator_id, funded_by_id, status,
		   created_at, updated_at, version)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE ? <= 0
		    OR (SELECT COALESCE(SUM(amount_cents), 0) FROM spendings WHERE project_id = ?) + ? <= ?`,
		s.ID, s.ProjectID, s.Amount.Cents, string(s.Category), s.ProductName, s.PayeeName, s.PayeePlace,
		s.LedgerID, s.SubLedger, s.Description, s.SpentOn.Format("2006-01-02"), s.InitiatorID, s.FundedByID,
		string(s.Status), s.CreatedAt.Format(timeLayout), s.UpdatedAt.Format(timeLayout), s.Version,
		limit.Cents, s.ProjectID, s.Amount.Cents, limit.Cents)
	if err != nil {
		if isBusy(err) {
			return true, nil
		}
		return false, fmt.Errorf("insert spending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert spending: %w", err)
	}
	if n == 0 {
		return false, core.ErrCapacityExceeded
	}
	if err := writeVotes(ctx, tx, s); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return true, nil
		}
		return false, fmt.Errorf("commit spending: %w", err)
	}
	return false, nil
}

func (r *SQLiteRepository) FindSpending(ctx context.Context, id string) (core.Spending, error) {
	return getSpending(ctx, r.db, id)
}

const spendingColumns = `id, project_id, amount_cents, category, product_name, payee_name, payee_place,
	ledger_id, sub_ledger, description, spent_on, initiator_id, funded_by_id, status,
	created_at, updated_at, version`

func getSpending(ctx context.Context, q queryer, id string) (core.Spending, error) {
	row := q.QueryRowContext(ctx, `SELECT `+spendingColumns+` FROM spendings WHERE id = ?`, id)
	s, err := scanSpending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Spending{}, core.ErrSpendingNotFound
	}
	if err != nil {
		return core.Spending{}, fmt.Errorf("get spending: %w", err)
	}
	votes, err := readVotes(ctx, q, []string{id})
	if err != nil {
		return core.Spending{}, err
	}
	s.Votes = votes[id]
	if s.Votes == nil {
		s.Votes = map[string]core.Vote{}
	}
	return s, nil
}

func (r *SQLiteRepository) ListSpendings(ctx context.Context, projectID string, f ports.SpendingFilter) ([]core.Spending, error) {
	query := `SELECT ` + spendingColumns + ` FROM spendings WHERE project_id = ?`
	args := []any{projectID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		query += ` AND spent_on >= ?`
		args = append(args, f.From.Format("2006-01-02"))
	}
	if !f.To.IsZero() {
		query += ` AND spent_on <= ?`
		args = append(args, f.To.Format("2006-01-02"))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list spendings: %w", err)
	}
	var out []core.Spending
	var ids []string
	for rows.Next() {
		s, err := scanSpending(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan spending: %w", err)
		}
		out = append(out, s)
		ids = append(ids, s.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list spendings: %w", err)
	}

	votes, err := readVotes(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Votes = votes[out[i].ID]
		if out[i].Votes == nil {
			out[i].Votes = map[string]core.Vote{}
		}
	}
	return out, nil
}

// MutateSpending reads the spending inside a transaction, applies fn and
// writes back with a version-conditioned UPDATE. A lost race retries with a
// fresh read.
func (r *SQLiteRepository) MutateSpending(ctx context.Context, id string, fn ports.MutateFunc) (core.Spending, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		s, retry, err := r.mutateOnce(ctx, id, fn)
		if err != nil {
			return core.Spending{}, err
		}
		if !retry {
			return s, nil
		}
		slog.WarnContext(ctx, "Concurrent spending update, retrying", "id", id, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return core.Spending{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return core.Spending{}, core.ErrConcurrentUpdate
}

func (r *SQLiteRepository) mutateOnce(ctx context.Context, id string, fn ports.MutateFunc) (core.Spending, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Spending{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	s, err := getSpending(ctx, tx, id)
	if err != nil {
		return core.Spending{}, false, err
	}
	before := s.Version
	changed, err := fn(&s)
	if err != nil {
		return core.Spending{}, false, err
	}
	if !changed {
		return s, false, nil
	}
	s.Version = before + 1

	res, err := tx.ExecContext(ctx,
		`UPDATE spendings SET status = ?, updated_at = ?, version = ? WHERE id = ? AND version = ?`,
		string(s.Status), s.UpdatedAt.Format(timeLayout), s.Version, s.ID, before)
	if err != nil {
		if isBusy(err) {
			return core.Spending{}, true, nil
		}
		return core.Spending{}, false, fmt.Errorf("update spending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Spending{}, false, fmt.Errorf("update spending: %w", err)
	}
	if n == 0 {
		return core.Spending{}, true, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spending_votes WHERE spending_id = ?`, s.ID); err != nil {
		return core.Spending{}, false, fmt.Errorf("clear votes: %w", err)
	}
	if err := writeVotes(ctx, tx, s); err != nil {
		return core.Spending{}, false, err
	}
	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return core.Spending{}, true, nil
		}
		return core.Spending{}, false, fmt.Errorf("commit spending: %w", err)
	}
	return s, false, nil
}

func (r *SQLiteRepository) SumProjectSpend(ctx context.Context, projectID string) (core.Money, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM spendings WHERE project_id = ?`, projectID).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum project spend: %w", err)
	}
	return core.Money{Cents: total}, nil
}

func (r *SQLiteRepository) TotalsByStatus(ctx context.Context, projectID string) (core.StatusBreakdown, error) {
	var b core.StatusBreakdown
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(amount_cents), 0) FROM spendings WHERE project_id = ? GROUP BY status`,
		projectID)
	if err != nil {
		return b, fmt.Errorf("totals by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var t core.StatusTotal
		if err := rows.Scan(&status, &t.Count, &t.Amount.Cents); err != nil {
			return b, fmt.Errorf("scan totals: %w", err)
		}
		b.Set(core.Status(status), t)
	}
	return b, rows.Err()
}

func (r *SQLiteRepository) SaveNotification(ctx context.Context, n ports.Notification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO notifications (recipient_id, title, body, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.RecipientID, n.Title, n.Body, string(meta), createdAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListNotifications(ctx context.Context, recipientID string, limit int) ([]ports.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT recipient_id, title, body, metadata, created_at FROM notifications
		  WHERE recipient_id = ? ORDER BY id DESC LIMIT ?`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []ports.Notification
	for rows.Next() {
		var n ports.Notification
		var meta, createdAt string
		if err := rows.Scan(&n.RecipientID, &n.Title, &n.Body, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSpending(row scanner) (core.Spending, error) {
	var s core.Spending
	var category, status, spentOn, createdAt, updatedAt string
	err := row.Scan(&s.ID, &s.ProjectID, &s.Amount.Cents, &category, &s.ProductName, &s.PayeeName, &s.PayeePlace,
		&s.LedgerID, &s.SubLedger, &s.Description, &spentOn, &s.InitiatorID, &s.FundedByID, &status,
		&createdAt, &updatedAt, &s.Version)
	if err != nil {
		return core.Spending{}, err
	}
	s.Category = core.Category(category)
	s.Status = core.Status(status)
	if d, err := time.Parse("2006-01-02", spentOn); err == nil {
		s.SpentOn = core.Date{Time: d}
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return s, nil
}

func readVotes(ctx context.Context, q queryer, ids []string) (map[string]map[string]core.Vote, error) {
	out := make(map[string]map[string]core.Vote, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx,
		`SELECT spending_id, voter_id, decision, voter_name, voted_at FROM spending_votes
		  WHERE spending_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var spendingID, voterID, decision, votedAt string
		var v core.Vote
		if err := rows.Scan(&spendingID, &voterID, &decision, &v.VoterName, &votedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Decision = core.Decision(decision)
		v.At = parseTime(votedAt)
		if out[spendingID] == nil {
			out[spendingID] = make(map[string]core.Vote)
		}
		out[spendingID][voterID] = v
	}
	return out, rows.Err()
}

func writeVotes(ctx context.Context, q queryer, s core.Spending) error {
	for voterID, v := range s.Votes {
		_, err := q.ExecContext(ctx,
			`INSERT INTO spending_votes (spending_id, voter_id, decision, voter_name, voted_at) VALUES (?, ?, ?, ?, ?)`,
			s.ID, voterID, string(v.Decision), v.VoterName, v.At.Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
